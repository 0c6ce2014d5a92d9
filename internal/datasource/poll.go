package datasource

import (
	"context"
	"time"

	"graphsync/internal/backend"
)

const (
	targetGraph = "graph"
	targetIndex = "index"
)

// pollCall is a health check in flight; concurrent pollers share its result.
type pollCall struct {
	done chan struct{}
	ok   bool
}

// startPollingLocked launches one ticker loop per backend.
func (s *Source) startPollingLocked(interval time.Duration) {
	if s.stopPoll != nil {
		s.stopPoll()
	}
	if interval <= 0 {
		s.stopPoll = nil
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.stopPoll = cancel
	go pollLoop(ctx, interval, func(ctx context.Context) { s.PollGraph(ctx, false) })
	go pollLoop(ctx, interval, func(ctx context.Context) { s.PollIndex(ctx, false) })
}

func pollLoop(ctx context.Context, interval time.Duration, poll func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll(ctx)
		}
	}
}

// PollGraph checks the graph store and reconnects it once on failure. While
// an indexation runs the check is skipped unless force is set. It reports
// whether the graph is connected afterwards and never fails.
func (s *Source) PollGraph(ctx context.Context, force bool) bool {
	return s.poll(ctx, targetGraph, force)
}

// PollIndex is PollGraph for the search index.
func (s *Source) PollIndex(ctx context.Context, force bool) bool {
	return s.poll(ctx, targetIndex, force)
}

func (s *Source) poll(ctx context.Context, target string, force bool) bool {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return false
	}
	connected := s.connectedLocked(target)
	if s.indexing && !force {
		s.mu.Unlock()
		return connected
	}
	if call := s.polls[target]; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.ok
		case <-ctx.Done():
			return false
		}
	}
	h := handles{graph: s.graph, index: s.index}
	if (target == targetGraph && h.graph == nil) || (target == targetIndex && h.index == nil) {
		s.mu.Unlock()
		return false
	}
	call := &pollCall{done: make(chan struct{})}
	s.polls[target] = call
	gen := s.generation
	name := s.cfg.Name
	s.mu.Unlock()

	ok := s.check(ctx, target, gen, name, connected, h)

	s.mu.Lock()
	if s.polls[target] == call {
		delete(s.polls, target)
	}
	s.mu.Unlock()
	call.ok = ok
	close(call.done)
	return ok
}

func (s *Source) connectedLocked(target string) bool {
	if target == targetGraph {
		return s.graphConnected
	}
	return s.indexConnected
}

// setConnected records a poll outcome unless the source was reset meanwhile.
func (s *Source) setConnected(gen uint64, target string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	if target == targetGraph {
		s.graphConnected = ok
	} else {
		s.indexConnected = ok
	}
	switch {
	case err != nil:
		s.lastError = backend.Describe(err)
	case s.graphConnected && s.indexConnected:
		s.lastError = ""
	}
	s.publishLocked()
}

func (s *Source) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// check runs on the handles captured by poll; a reset meanwhile leaves them
// closed and the outcome is dropped.
func (s *Source) check(ctx context.Context, target string, gen uint64, name string, wasConnected bool, h handles) bool {
	var err error
	if target == targetGraph {
		err = h.graph.CheckUp(ctx)
	} else {
		err = h.index.CheckUp(ctx)
	}
	if err == nil {
		if !wasConnected {
			s.setConnected(gen, target, true, nil)
		}
		return s.current(gen)
	}

	PollFailures.WithLabelValues(name, target).Inc()
	s.logger.Warn("health check failed, reconnecting", "source", name, "backend", target, "error", err)
	s.setConnected(gen, target, false, err)
	if !s.current(gen) {
		return false
	}

	if target == targetGraph {
		err = s.reconnectGraph(ctx, gen, h.graph)
	} else {
		_, err = h.index.Connect(ctx)
	}
	if err != nil {
		s.logger.Error("reconnection failed", "source", name, "backend", target, "error", err)
		s.setConnected(gen, target, false, err)
		return false
	}
	if !s.current(gen) {
		// reset while reconnecting; the handle is no longer ours
		if target == targetGraph {
			_ = h.graph.Disconnect(ctx)
		} else {
			_ = h.index.Disconnect(ctx)
		}
		return false
	}
	s.logger.Info("reconnected", "source", name, "backend", target)
	s.setConnected(gen, target, true, nil)
	return true
}

// reconnectGraph reconnects and verifies the store identity did not change.
// A changed identity resets the source.
func (s *Source) reconnectGraph(ctx context.Context, gen uint64, graph backend.Graph) error {
	if _, err := graph.Connect(ctx); err != nil {
		return err
	}
	storeID, err := graph.StoreID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.storeID == storeID {
		s.mu.Unlock()
		return nil
	}
	previous := s.storeID
	stale := s.resetLocked()
	mismatch := backend.Errorf(backend.CodeStoreIDMismatch,
		"the graph database identity changed from %s to %s, please reconnect", previous, storeID)
	s.lastError = backend.Describe(mismatch)
	s.publishLocked()
	s.mu.Unlock()

	stale.close(ctx)
	return mismatch
}
