package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/logging"
	"graphsync/internal/retry"
	"graphsync/internal/schema"
	"graphsync/internal/store"
)

const (
	strategyInternal = "internal"
	strategyExternal = "external"

	// written when a run starts so a crash mid-run still reads as failed
	interruptedMessage = "indexation started and did not complete"
)

// run carries what one indexation needs, captured when it starts.
type run struct {
	cfg     config.SourceConfig
	graph   backend.Graph
	index   backend.Index
	builder *schema.Builder
	edges   bool
	exclude map[backend.Kind]map[string]struct{}

	total int64
	done  int64
}

// IndexSource rebuilds the search index and the schema of the source. The
// index decides the strategy: external indexes scan the store themselves,
// otherwise every item is streamed through in chunks.
func (s *Source) IndexSource(ctx context.Context) error {
	s.mu.Lock()
	current := s.stateLocked()
	if !canIndex(current.Code) {
		s.mu.Unlock()
		return backend.Errorf(backend.CodeIllegalState, "data source %s cannot be indexed while %s", s.cfg.Name, current.Code)
	}
	r := &run{
		cfg:     s.cfg,
		graph:   s.graph,
		index:   s.index,
		builder: s.builder,
		exclude: exclusions(s.state),
	}
	s.indexing = true
	s.publishLocked()
	s.mu.Unlock()

	features := r.index.Features()
	strategy := strategyInternal
	if features.External {
		strategy = strategyExternal
	}
	r.edges = !r.cfg.SkipEdges && (features.External || features.CanIndexEdges)

	ctx = logging.WithDefaultArgs(ctx, "source", r.cfg.Name, "run", uuid.NewString())
	s.logger.InfoCtx(ctx, "indexation started", "strategy", strategy, "edges", r.edges)
	started := time.Now()

	var err error
	if features.External {
		err = s.indexExternal(ctx, r)
	} else {
		err = s.indexInternal(ctx, r)
	}

	IndexationDuration.WithLabelValues(r.cfg.Name, strategy).Observe(time.Since(started).Seconds())
	if err != nil {
		IndexationResults.WithLabelValues(r.cfg.Name, strategy, "failure").Inc()
		s.logger.ErrorCtx(ctx, "indexation failed", "error", err)
		if perr := s.markFailed(ctx, err); perr != nil {
			s.logger.ErrorCtx(ctx, "could not record indexation failure", "error", perr)
		}
		s.PollGraph(ctx, true)
		s.PollIndex(ctx, true)
	} else {
		IndexationResults.WithLabelValues(r.cfg.Name, strategy, "success").Inc()
		s.logger.InfoCtx(ctx, "indexation finished", "duration", time.Since(started).Round(time.Millisecond))
	}

	s.mu.Lock()
	s.indexing = false
	s.publishLocked()
	s.mu.Unlock()
	return err
}

func (s *Source) indexInternal(ctx context.Context, r *run) error {
	if err := r.graph.OnInternalIndexation(ctx); err != nil {
		return fmt.Errorf("preparing graph for indexation: %w", err)
	}
	r.builder.Init(false)
	if err := s.markStarted(ctx, r); err != nil {
		return err
	}
	if err := r.builder.DeleteSchema(ctx); err != nil {
		return err
	}
	if err := s.prepare(ctx, r); err != nil {
		return err
	}

	s.tracker.Start(r.total)
	if err := s.streamKind(ctx, r, backend.KindNode); err != nil {
		return err
	}
	if r.edges {
		if err := s.streamKind(ctx, r, backend.KindEdge); err != nil {
			return err
		}
	}

	if err := r.builder.SaveSchema(ctx); err != nil {
		return err
	}
	if err := r.index.Commit(ctx); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return s.finish(ctx, r)
}

func (s *Source) indexExternal(ctx context.Context, r *run) error {
	// without authoritative counts, live edits must not add or drop types
	r.builder.Init(!r.index.Features().SchemaCounts)
	if err := s.markStarted(ctx, r); err != nil {
		return err
	}
	if err := r.builder.DeleteSchema(ctx); err != nil {
		return err
	}
	if err := s.prepare(ctx, r); err != nil {
		return err
	}

	s.tracker.Start(r.total)
	if err := r.index.IndexSource(ctx, s.tracker); err != nil {
		return fmt.Errorf("running external indexation: %w", err)
	}

	kinds := []backend.Kind{backend.KindNode}
	if r.edges {
		kinds = append(kinds, backend.KindEdge)
	}
	for _, kind := range kinds {
		stats, err := r.index.Schema(ctx, kind, true)
		if err != nil {
			return fmt.Errorf("reading %s schema from index: %w", kind, err)
		}
		r.builder.IngestTypes(kind, stats)
	}
	if err := r.builder.SaveSchema(ctx); err != nil {
		return err
	}
	return s.finish(ctx, r)
}

func (s *Source) finish(ctx context.Context, r *run) error {
	if err := r.index.OnAfterIndexation(ctx); err != nil {
		return fmt.Errorf("finishing index: %w", err)
	}
	if err := r.graph.OnAfterIndexation(ctx); err != nil {
		return fmt.Errorf("finishing graph: %w", err)
	}
	s.tracker.End()
	return s.markSucceeded(ctx, r)
}

// prepare clears the index and counts items concurrently. Counts only drive
// the progress percentage, so a failed count is logged and treated as zero.
func (s *Source) prepare(ctx context.Context, r *run) error {
	var nodes, edges int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.index.Clear(gctx); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
		return nil
	})
	if r.graph.Features().CanCount {
		g.Go(func() error {
			nodes = s.count(gctx, backend.KindNode, r.graph.NodeCount)
			return nil
		})
		if r.edges {
			g.Go(func() error {
				edges = s.count(gctx, backend.KindEdge, r.graph.EdgeCount)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.total = nodes + edges
	return nil
}

func (s *Source) count(ctx context.Context, kind backend.Kind, fn func(ctx context.Context, approx bool) (int64, error)) int64 {
	n, err := fn(ctx, true)
	if err != nil {
		s.logger.WarnCtx(ctx, "count failed, progress will be approximate", "kind", kind, "error", err)
		return 0
	}
	return n
}

// streamKind streams every item of one kind into the index. A technical
// failure restarts the stream after the items already ingested.
func (s *Source) streamKind(ctx context.Context, r *run, kind backend.Kind) error {
	label := string(kind) + "s"
	var ingested int64

	policy := retry.Fixed(r.cfg.IndexationRetries+1, r.cfg.IndexationDelay)
	policy.OnRetry = func(attempt int, err error) {
		s.logger.WarnCtx(ctx, "streaming failed, retrying", "kind", kind, "attempt", attempt, "offset", ingested, "error", err)
	}
	return retry.Do(ctx, policy, backend.IsBusiness, func(ctx context.Context, attempt int) error {
		if attempt > 1 && r.done > 0 {
			s.tracker.Start(r.total)
			s.tracker.SetInitialOffset(label, r.done)
		}
		return s.streamFrom(ctx, r, kind, label, &ingested)
	})
}

func (s *Source) streamFrom(ctx context.Context, r *run, kind backend.Kind, label string, ingested *int64) error {
	chunkSize := r.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultDefaults().ChunkSize
	}

	var (
		stream backend.Stream
		err    error
	)
	if kind == backend.KindNode {
		stream, err = r.graph.NodeStream(ctx, *ingested, chunkSize)
	} else {
		stream, err = r.graph.EdgeStream(ctx, *ingested, chunkSize)
	}
	if err != nil {
		return fmt.Errorf("opening %s stream at %d: %w", kind, *ingested, err)
	}
	defer stream.Close()

	buf := make([]backend.Item, 0, chunkSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := s.flush(ctx, r, kind, label, buf); err != nil {
			return err
		}
		*ingested += int64(len(buf))
		r.done += int64(len(buf))
		buf = buf[:0]
		return nil
	}

	for {
		item, err := stream.Next(ctx)
		if errors.Is(err, backend.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s at %d: %w", kind, *ingested+int64(len(buf)), err)
		}
		buf = append(buf, item)
		if len(buf) >= chunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// flush writes one chunk to the index, then to the schema builder.
func (s *Source) flush(ctx context.Context, r *run, kind backend.Kind, label string, items []backend.Item) error {
	filtered := filterItems(items, r.exclude[kind])
	if err := r.index.AddEntries(ctx, kind, filtered); err != nil {
		return fmt.Errorf("indexing %d %s: %w", len(filtered), label, err)
	}
	if kind == backend.KindNode {
		r.builder.IngestNodes(filtered)
	} else {
		r.builder.IngestEdges(filtered)
	}
	IndexedItems.WithLabelValues(r.cfg.Name, string(kind)).Add(float64(len(filtered)))
	s.tracker.Add(label, int64(len(filtered)))
	return nil
}

// markStarted also takes the run's exclusions from the stored record, which
// another process may have changed since this one connected.
func (s *Source) markStarted(ctx context.Context, r *run) error {
	return s.persist(ctx, func(st *store.DataSourceState) {
		msg := interruptedMessage
		st.NeedReindex = true
		st.IndexationError = &msg
		r.exclude = exclusions(st)
	})
}

// markSucceeded leaves NeedReindex set when the property lists changed while
// the run was in progress.
func (s *Source) markSucceeded(ctx context.Context, r *run) error {
	now := time.Now().UTC()
	return s.persist(ctx, func(st *store.DataSourceState) {
		st.NeedReindex = !sameExclusions(exclusions(st), r.exclude)
		st.IndexedDate = &now
		st.IndexationError = nil
	})
}

func (s *Source) markFailed(ctx context.Context, cause error) error {
	msg := backend.Describe(cause)
	// the caller's context may be the reason for the failure
	ctx = context.WithoutCancel(ctx)
	return s.persist(ctx, func(st *store.DataSourceState) {
		st.NeedReindex = true
		st.IndexationError = &msg
	})
}

// persist re-reads the durable record, applies mutate to it, writes it, then
// publishes it unless the source was reset meanwhile. The record is shared
// with other processes, so the cached copy is never written back as is.
func (s *Source) persist(ctx context.Context, mutate func(st *store.DataSourceState)) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return backend.Errorf(backend.CodeIllegalState, "data source %s is not connected", s.cfg.Name)
	}
	key := s.state.Key
	gen := s.generation
	s.mu.Unlock()

	next, err := s.store.GetState(ctx, key)
	if err != nil {
		return fmt.Errorf("loading state %s: %w", key, err)
	}
	mutate(next)
	if err := s.store.UpdateState(ctx, next); err != nil {
		return fmt.Errorf("saving state %s: %w", next.Key, err)
	}

	s.mu.Lock()
	if s.generation == gen {
		s.state = next
		s.publishLocked()
	}
	s.mu.Unlock()
	return nil
}
