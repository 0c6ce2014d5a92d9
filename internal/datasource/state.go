package datasource

type StateCode string

const (
	StateOffline        StateCode = "offline"
	StateConnecting     StateCode = "connecting"
	StateNeedConfig     StateCode = "needConfig"
	StateNeedFirstIndex StateCode = "needFirstIndex"
	StateNeedReindex    StateCode = "needReindex"
	StateIndexing       StateCode = "indexing"
	StateReady          StateCode = "ready"
)

var allStates = []StateCode{
	StateOffline, StateConnecting, StateNeedConfig, StateNeedFirstIndex,
	StateNeedReindex, StateIndexing, StateReady,
}

// Flags are the live inputs the operational state is derived from.
type Flags struct {
	Destroyed       bool
	Connecting      bool
	GraphConnected  bool
	IndexConnected  bool
	Indexing        bool
	NeverConfigured bool
	NeverIndexed    bool
	NeedReindex     bool
	// LastError is the latest classified connection error, if any.
	LastError string
}

type State struct {
	Code   StateCode `json:"code"`
	Reason string    `json:"reason"`
	Error  string    `json:"error,omitempty"`
}

// Derive maps flags to a state. The first matching rule wins.
func Derive(f Flags) State {
	switch {
	case f.Destroyed:
		return State{Code: StateOffline, Reason: "The data source was removed"}
	case f.Connecting:
		return State{Code: StateConnecting, Reason: "Connecting to the data source"}
	case !f.GraphConnected:
		return State{Code: StateOffline, Reason: "The graph database is not reachable", Error: f.LastError}
	case !f.IndexConnected:
		return State{Code: StateOffline, Reason: "The search index is not reachable", Error: f.LastError}
	case f.Indexing:
		return State{Code: StateIndexing, Reason: "The data source is being indexed"}
	case f.NeverConfigured:
		return State{Code: StateNeedConfig, Reason: "Property visibility has never been configured"}
	case f.NeverIndexed:
		return State{Code: StateNeedFirstIndex, Reason: "The data source has never been indexed"}
	case f.NeedReindex:
		return State{Code: StateNeedReindex, Reason: "The index is out of date and must be rebuilt"}
	default:
		return State{Code: StateReady, Reason: "The data source is ready"}
	}
}

// canIndex lists the states an indexation may start from.
func canIndex(code StateCode) bool {
	switch code {
	case StateReady, StateNeedConfig, StateNeedFirstIndex, StateNeedReindex:
		return true
	}
	return false
}
