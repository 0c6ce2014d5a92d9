// Package datasource owns the lifecycle of each configured data source: it
// connects the graph store and the search index, derives the operational
// state, polls both backends, and runs indexations.
package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/logging"
	"graphsync/internal/progress"
	"graphsync/internal/schema"
	"graphsync/internal/store"
)

// Drivers build the backend handles of a source from its configuration.
type Drivers struct {
	Graph func(cfg config.SourceConfig) (backend.Graph, error)
	Index func(cfg config.SourceConfig) (backend.Index, error)
}

// claimer enforces that one store identity belongs to one source.
type claimer interface {
	claim(key, name string) error
	release(key, name string)
}

type Source struct {
	logger  logging.Logger
	store   store.Store
	drivers Drivers
	claims  claimer

	// base is cancelled by Destroy; connect attempts and polling derive from it.
	base     context.Context
	shutdown context.CancelFunc

	mu         sync.Mutex
	cfg        config.SourceConfig
	usedCfg    *config.SourceConfig
	generation uint64

	graph          backend.Graph
	index          backend.Index
	graphConnected bool
	indexConnected bool
	destroyed      bool
	indexing       bool
	lastError      string

	storeID string
	key     string
	state   *store.DataSourceState
	builder *schema.Builder
	tracker *progress.Tracker

	connecting *attempt
	polls      map[string]*pollCall
	stopPoll   context.CancelFunc

	// serializes read-modify-write of the durable record
	persistMu sync.Mutex
}

func New(cfg config.SourceConfig, st store.Store, drivers Drivers, logger logging.Logger) *Source {
	if logger == nil {
		logger = logging.Nop()
	}
	base, shutdown := context.WithCancel(context.Background())
	s := &Source{
		logger:   logger,
		store:    st,
		drivers:  drivers,
		base:     base,
		shutdown: shutdown,
		cfg:      cfg,
		polls:    map[string]*pollCall{},
	}
	s.tracker = progress.New(logger, cfg.Name, cfg.ProgressStep)
	observeState(cfg.Name, StateOffline)
	return s
}

func (s *Source) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Name
}

// Key is the persistence key, empty until the store identity is known.
func (s *Source) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Source) Config() config.SourceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig replaces the live configuration. The next Connect notices the
// difference and resets the source.
func (s *Source) UpdateConfig(cfg config.SourceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// SourceKey derives the persistence key from the store endpoint and identity.
func SourceKey(host string, port int, storeID string) (key, info string) {
	info = host + ":" + strconv.Itoa(port) + ":" + storeID
	sum := sha256.Sum256([]byte(info))
	return hex.EncodeToString(sum[:])[:8], info
}

func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Source) stateLocked() State {
	f := Flags{
		Destroyed:      s.destroyed,
		Connecting:     s.connecting != nil,
		GraphConnected: s.graphConnected,
		IndexConnected: s.indexConnected,
		Indexing:       s.indexing,
		LastError:      s.lastError,
	}
	if s.state != nil {
		f.NeverConfigured = s.state.NeverConfigured()
		f.NeverIndexed = s.state.IndexedDate == nil
		f.NeedReindex = s.state.NeedReindex
	}
	return Derive(f)
}

// publishLocked refreshes the state gauge after a transition.
func (s *Source) publishLocked() {
	observeState(s.cfg.Name, s.stateLocked().Code)
}

// PersistedState returns a copy of the durable record, nil before the first
// successful connection.
func (s *Source) PersistedState() *store.DataSourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Schema returns the persisted types of one kind.
func (s *Source) Schema(ctx context.Context, kind backend.Kind) ([]backend.TypeStats, error) {
	s.mu.Lock()
	builder := s.builder
	s.mu.Unlock()
	if builder == nil {
		return nil, backend.Errorf(backend.CodeIllegalState, "data source %s has never connected", s.Name())
	}
	return builder.Schema(ctx, kind)
}

// Builder exposes the schema builder for live single-item edits. Nil until
// connected.
func (s *Source) Builder() *schema.Builder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builder
}

// Index returns the connected index handle, nil when not connected.
// Graph returns the connected graph store, or nil.
func (s *Source) Graph() backend.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.graphConnected {
		return nil
	}
	return s.graph
}

func (s *Source) Index() backend.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indexConnected {
		return nil
	}
	return s.index
}

type SearchStatus struct {
	Code        StateCode          `json:"code"`
	Indexing    bool               `json:"indexing"`
	IndexVendor string             `json:"index_vendor,omitempty"`
	IndexedDate *time.Time         `json:"indexed_date,omitempty"`
	NeedReindex bool               `json:"need_reindex"`
	Error       string             `json:"error,omitempty"`
	Progress    *progress.Snapshot `json:"progress,omitempty"`
}

func (s *Source) SearchStatus() SearchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SearchStatus{Code: s.stateLocked().Code, Indexing: s.indexing}
	if s.index != nil {
		st.IndexVendor = s.index.Vendor()
	}
	if s.state != nil {
		if s.state.IndexedDate != nil {
			d := *s.state.IndexedDate
			st.IndexedDate = &d
		}
		st.NeedReindex = s.state.NeedReindex
		if s.state.IndexationError != nil {
			st.Error = *s.state.IndexationError
		}
	}
	if s.indexing {
		snap := s.tracker.Snapshot()
		st.Progress = &snap
	}
	return st
}

// Destroy stops everything the source runs and releases its identity. The
// source stays offline afterwards.
func (s *Source) Destroy(ctx context.Context) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	name := s.cfg.Name
	stale := s.resetLocked()
	s.publishLocked()
	s.mu.Unlock()

	s.shutdown()
	stale.close(ctx)
	s.logger.Info("data source destroyed", "source", name)
}

type handles struct {
	graph backend.Graph
	index backend.Index
}

func (h handles) close(ctx context.Context) {
	if h.graph != nil {
		_ = h.graph.Disconnect(ctx)
	}
	if h.index != nil {
		_ = h.index.Disconnect(ctx)
	}
}

// resetLocked forgets identity, schema builder and connections. The returned
// handles must be closed once the lock is released.
func (s *Source) resetLocked() handles {
	s.generation++
	if s.connecting != nil {
		s.connecting.cancel()
		s.connecting.finish(context.Canceled)
		s.connecting = nil
	}
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	if s.key != "" && s.claims != nil {
		s.claims.release(s.key, s.cfg.Name)
	}
	h := handles{graph: s.graph, index: s.index}
	s.graph, s.index = nil, nil
	s.graphConnected, s.indexConnected = false, false
	s.storeID, s.key = "", ""
	s.state, s.builder = nil, nil
	s.usedCfg = nil
	return h
}

func (s *Source) String() string {
	return fmt.Sprintf("%s (%s)", s.Name(), s.Key())
}
