package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/retry"
	"graphsync/internal/schema"
	"graphsync/internal/store"
)

// attempt is one in-flight connection sequence. Callers that arrive while it
// runs wait on the same result.
type attempt struct {
	done   chan struct{}
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errSuperseded = errors.New("connection attempt superseded")

func graphGiveUp(err error) bool {
	return errors.Is(err, context.Canceled) ||
		backend.HasCode(err, backend.CodeInvalidConfiguration) ||
		backend.HasCode(err, backend.CodeInvalidCredentials) ||
		backend.HasCode(err, backend.CodeUnsupportedVersion) ||
		backend.HasCode(err, backend.CodeManualAction) ||
		backend.HasCode(err, backend.CodeStoreIDMismatch) ||
		backend.HasCode(err, backend.CodeBadData)
}

func indexGiveUp(err error) bool {
	return errors.Is(err, context.Canceled) ||
		backend.HasCode(err, backend.CodeInvalidConfiguration) ||
		backend.HasCode(err, backend.CodeInvalidCredentials) ||
		backend.HasCode(err, backend.CodeUnsupportedVersion) ||
		backend.HasCode(err, backend.CodeManualAction)
}

// Connect runs the connection sequence: graph, durable state, index, then
// polling. A call made while a sequence with the same configuration is in
// flight joins it. A changed configuration resets the source first.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return backend.Errorf(backend.CodeIllegalState, "data source %s was removed", s.cfg.Name)
	}

	var stale handles
	switch {
	case s.usedCfg != nil && *s.usedCfg != s.cfg:
		s.logger.Info("configuration changed, resetting data source", "source", s.cfg.Name)
		stale = s.resetLocked()
	case s.connecting != nil:
		a := s.connecting
		s.mu.Unlock()
		return a.wait(ctx)
	default:
		if code := s.stateLocked().Code; code != StateOffline {
			s.mu.Unlock()
			return backend.Errorf(backend.CodeIllegalState, "data source %s cannot connect while %s", s.cfg.Name, code)
		}
		// reconnect: keep the known identity so it can be verified
		stale = handles{graph: s.graph, index: s.index}
		s.graph, s.index = nil, nil
		s.graphConnected, s.indexConnected = false, false
		if s.stopPoll != nil {
			s.stopPoll()
			s.stopPoll = nil
		}
	}

	cfg := s.cfg
	s.usedCfg = &cfg
	s.generation++
	gen := s.generation
	actx, cancel := context.WithCancel(s.base)
	a := &attempt{done: make(chan struct{}), cancel: cancel}
	s.connecting = a
	s.lastError = ""
	s.publishLocked()
	s.mu.Unlock()

	stale.close(ctx)

	go func() {
		err := s.connectSequence(actx, gen, cfg)
		cancel()

		s.mu.Lock()
		if s.connecting == a {
			s.connecting = nil
			if err != nil {
				s.lastError = backend.Describe(err)
			}
			s.publishLocked()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("connection failed", "source", cfg.Name, "error", err)
		}
		a.finish(err)
	}()

	return a.wait(ctx)
}

func (s *Source) policy(cfg config.SourceConfig, target string) retry.Policy {
	p := retry.Fixed(cfg.ConnectRetries+1, cfg.ConnectDelay)
	p.OnRetry = func(attempt int, err error) {
		ConnectAttempts.WithLabelValues(cfg.Name, target, "retry").Inc()
		s.logger.Warn("connection attempt failed, retrying",
			"source", cfg.Name, "backend", target, "attempt", attempt, "error", err)
	}
	return p
}

func (s *Source) connectSequence(ctx context.Context, gen uint64, cfg config.SourceConfig) error {
	graph, err := s.drivers.Graph(cfg)
	if err != nil {
		return fmt.Errorf("creating graph backend: %w", err)
	}
	graphPolicy := s.policy(cfg, "graph")

	version, err := retry.Value(ctx, graphPolicy, graphGiveUp, func(ctx context.Context, _ int) (string, error) {
		return graph.Connect(ctx)
	})
	if err != nil {
		ConnectAttempts.WithLabelValues(cfg.Name, "graph", "failure").Inc()
		return fmt.Errorf("connecting graph: %w", err)
	}
	storeID, err := retry.Value(ctx, graphPolicy, graphGiveUp, func(ctx context.Context, _ int) (string, error) {
		return graph.StoreID(ctx)
	})
	if err != nil {
		_ = graph.Disconnect(ctx)
		return fmt.Errorf("reading store id: %w", err)
	}
	ConnectAttempts.WithLabelValues(cfg.Name, "graph", "success").Inc()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		_ = graph.Disconnect(ctx)
		return errSuperseded
	}
	if s.storeID != "" && s.storeID != storeID {
		previous := s.storeID
		s.connecting = nil
		stale := s.resetLocked()
		mismatch := backend.Errorf(backend.CodeStoreIDMismatch,
			"the graph database identity changed from %s to %s, please retry", previous, storeID)
		s.lastError = backend.Describe(mismatch)
		s.publishLocked()
		s.mu.Unlock()
		stale.close(ctx)
		_ = graph.Disconnect(ctx)
		return mismatch
	}
	s.graph = graph
	s.graphConnected = true
	s.storeID = storeID
	previousKey := s.key
	s.mu.Unlock()
	s.logger.Info("graph connected", "source", cfg.Name, "vendor", graph.Vendor(), "version", version)

	key, info := SourceKey(graph.Host(), graph.Port(), storeID)
	if s.claims != nil {
		if err := s.claims.claim(key, cfg.Name); err != nil {
			s.abandon(ctx, gen, handles{graph: graph})
			return err
		}
	}
	releaseClaim := func() {
		if s.claims != nil && previousKey != key {
			s.claims.release(key, cfg.Name)
		}
	}

	index, err := s.drivers.Index(cfg)
	if err != nil {
		releaseClaim()
		return fmt.Errorf("creating index backend: %w", err)
	}

	state, err := s.loadState(ctx, graphPolicy, key, info, cfg, graph.Vendor(), index.Vendor())
	if err != nil {
		releaseClaim()
		return err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		releaseClaim()
		return errSuperseded
	}
	if s.key != key || s.builder == nil {
		s.builder = schema.New(s.store, key, s.logger, cfg.SchemaBatchSize)
	}
	s.key = key
	s.state = state
	s.mu.Unlock()

	version, err = retry.Value(ctx, s.policy(cfg, "index"), indexGiveUp, func(ctx context.Context, _ int) (string, error) {
		return index.Connect(ctx)
	})
	if err != nil {
		ConnectAttempts.WithLabelValues(cfg.Name, "index", "failure").Inc()
		return fmt.Errorf("connecting index: %w", err)
	}
	ConnectAttempts.WithLabelValues(cfg.Name, "index", "success").Inc()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		_ = index.Disconnect(ctx)
		return errSuperseded
	}
	s.index = index
	s.indexConnected = true
	s.startPollingLocked(cfg.PollInterval)
	s.mu.Unlock()
	s.logger.Info("index connected", "source", cfg.Name, "vendor", index.Vendor(), "version", version, "key", key)
	return nil
}

// loadState finds or creates the durable record and refreshes its
// descriptive fields.
func (s *Source) loadState(ctx context.Context, policy retry.Policy, key, info string, cfg config.SourceConfig, graphVendor, indexVendor string) (*store.DataSourceState, error) {
	type found struct {
		state   *store.DataSourceState
		created bool
	}
	res, err := retry.Value(ctx, policy, backend.IsBusiness, func(ctx context.Context, _ int) (found, error) {
		state, created, err := s.store.FindOrCreateState(ctx, key, info)
		return found{state, created}, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading state %s: %w", key, err)
	}
	if res.created {
		s.logger.Info("data source state created", "source", cfg.Name, "key", key, "info", info)
	}

	state := res.state
	state.LastSeen = time.Now().UTC()
	state.Name = cfg.Name
	state.GraphVendor = graphVendor
	state.IndexVendor = indexVendor
	err = retry.Do(ctx, policy, backend.IsBusiness, func(ctx context.Context, _ int) error {
		return s.store.UpdateState(ctx, state)
	})
	if err != nil {
		return nil, fmt.Errorf("updating state %s: %w", key, err)
	}
	return state, nil
}

// abandon drops handles that belong to generation gen.
func (s *Source) abandon(ctx context.Context, gen uint64, h handles) {
	s.mu.Lock()
	if s.generation == gen {
		if h.graph != nil && s.graph == h.graph {
			s.graph = nil
			s.graphConnected = false
		}
		if h.index != nil && s.index == h.index {
			s.index = nil
			s.indexConnected = false
		}
	}
	s.mu.Unlock()
	h.close(ctx)
}
