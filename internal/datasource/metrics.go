package datasource

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var SourceState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "graphsync",
	Subsystem: "source",
	Name:      "state",
	Help:      "1 for the current operational state of each source.",
}, []string{"source", "state"})

var ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "graphsync",
	Subsystem: "source",
	Name:      "connect_attempts",
}, []string{"source", "backend", "result"})

var PollFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "graphsync",
	Subsystem: "source",
	Name:      "poll_failures",
}, []string{"source", "backend"})

var IndexedItems = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "graphsync",
	Subsystem: "indexation",
	Name:      "items",
}, []string{"source", "kind"})

var IndexationResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "graphsync",
	Subsystem: "indexation",
	Name:      "results",
}, []string{"source", "strategy", "result"})

var IndexationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "graphsync",
	Subsystem: "indexation",
	Name:      "duration_seconds",
	Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600, 7200},
}, []string{"source", "strategy"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SourceState, ConnectAttempts, PollFailures, IndexedItems, IndexationResults, IndexationDuration,
	}
}

// RegisterMetrics registers every collector, tolerating repeated calls.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeState(name string, code StateCode) {
	for _, s := range allStates {
		v := 0.0
		if s == code {
			v = 1
		}
		SourceState.WithLabelValues(name, string(s)).Set(v)
	}
}
