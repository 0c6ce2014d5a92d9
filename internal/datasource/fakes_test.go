package datasource

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/logging"
	"graphsync/internal/store"
	"graphsync/internal/store/sqlite"
)

type fakeGraph struct {
	mu       sync.Mutex
	storeID  string
	nodes    []backend.Item
	edges    []backend.Item
	features backend.GraphFeatures

	// connectErr is consulted on every Connect with the 1-based call number.
	connectErr func(call int) error
	gate       chan struct{}
	connects   int
	checkErr   error
	checkGate  chan struct{}
	checkUps   int
	pageErr    func(kind backend.Kind, offset int64) error
	pages      int
}

func newFakeGraph(storeID string) *fakeGraph {
	return &fakeGraph{storeID: storeID, features: backend.GraphFeatures{CanCount: true, CanStream: true}}
}

func (g *fakeGraph) Vendor() string                   { return "fake-graph" }
func (g *fakeGraph) Features() backend.GraphFeatures  { return g.features }
func (g *fakeGraph) Disconnect(context.Context) error { return nil }
func (g *fakeGraph) Host() string                     { return "localhost" }
func (g *fakeGraph) Port() int                        { return 7687 }

func (g *fakeGraph) Connect(ctx context.Context) (string, error) {
	g.mu.Lock()
	g.connects++
	call, gate, fn := g.connects, g.gate, g.connectErr
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		if err := fn(call); err != nil {
			return "", err
		}
	}
	return "5.20.0", nil
}

func (g *fakeGraph) CheckUp(ctx context.Context) error {
	g.mu.Lock()
	g.checkUps++
	gate, err := g.checkGate, g.checkErr
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (g *fakeGraph) checkCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkUps
}

func (g *fakeGraph) StoreID(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.storeID, nil
}

func (g *fakeGraph) set(fn func(g *fakeGraph)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGraph) connectCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connects
}

func (g *fakeGraph) NodeCount(context.Context, bool) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.nodes)), nil
}

func (g *fakeGraph) EdgeCount(context.Context, bool) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.edges)), nil
}

func (g *fakeGraph) NodeStream(_ context.Context, offset int64, chunkSize int) (backend.Stream, error) {
	return backend.NewPagedStream(g.page(backend.KindNode), offset, chunkSize), nil
}

func (g *fakeGraph) EdgeStream(_ context.Context, offset int64, chunkSize int) (backend.Stream, error) {
	return backend.NewPagedStream(g.page(backend.KindEdge), offset, chunkSize), nil
}

func (g *fakeGraph) page(kind backend.Kind) backend.PageFunc {
	return func(_ context.Context, offset int64, limit int) ([]backend.Item, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.pages++
		if g.pageErr != nil {
			if err := g.pageErr(kind, offset); err != nil {
				return nil, err
			}
		}
		items := g.nodes
		if kind == backend.KindEdge {
			items = g.edges
		}
		if offset >= int64(len(items)) {
			return nil, nil
		}
		end := min(offset+int64(limit), int64(len(items)))
		return append([]backend.Item(nil), items[offset:end]...), nil
	}
}

func (g *fakeGraph) OnInternalIndexation(context.Context) error { return nil }
func (g *fakeGraph) OnAfterIndexation(context.Context) error    { return nil }

type fakeIndex struct {
	mu       sync.Mutex
	features backend.IndexFeatures

	connectErr error
	connects   int
	checkErr   error
	clears     int
	commits    int
	entries    map[backend.Kind][]backend.Item
	batches    []int

	schema   map[backend.Kind][]backend.TypeStats
	external int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		features: backend.IndexFeatures{CanIndexEdges: true, SchemaCounts: true},
		entries:  map[backend.Kind][]backend.Item{},
		schema:   map[backend.Kind][]backend.TypeStats{},
	}
}

func (x *fakeIndex) Vendor() string                  { return "fake-index" }
func (x *fakeIndex) Features() backend.IndexFeatures { return x.features }
func (x *fakeIndex) Disconnect(context.Context) error {
	return nil
}

func (x *fakeIndex) Connect(context.Context) (string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.connects++
	if x.connectErr != nil {
		return "", x.connectErr
	}
	return "1.0.0", nil
}

func (x *fakeIndex) CheckUp(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.checkErr
}

func (x *fakeIndex) Clear(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.clears++
	x.entries = map[backend.Kind][]backend.Item{}
	return nil
}

func (x *fakeIndex) AddEntries(_ context.Context, kind backend.Kind, items []backend.Item) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.batches = append(x.batches, len(items))
	x.entries[kind] = append(x.entries[kind], items...)
	return nil
}

func (x *fakeIndex) Commit(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.commits++
	return nil
}

func (x *fakeIndex) IndexSource(_ context.Context, progress backend.ProgressReporter) error {
	progress.Add("items", x.external)
	return nil
}

func (x *fakeIndex) Schema(_ context.Context, kind backend.Kind, _ bool) ([]backend.TypeStats, error) {
	return x.schema[kind], nil
}

func (x *fakeIndex) PropertyTypes(context.Context, backend.Kind) (map[string]string, error) {
	return map[string]string{}, nil
}

func (x *fakeIndex) OnAfterIndexation(context.Context) error { return nil }

func (x *fakeIndex) indexed(kind backend.Kind) []backend.Item {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]backend.Item(nil), x.entries[kind]...)
}

func testConfig(name string) config.SourceConfig {
	return config.SourceConfig{
		Name:              name,
		ChunkSize:         2,
		SkipEdges:         true,
		ConnectRetries:    2,
		ConnectDelay:      time.Millisecond,
		IndexationRetries: 2,
		IndexationDelay:   time.Millisecond,
		ProgressStep:      1,
		SchemaBatchSize:   10,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.New(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func fixedDrivers(g backend.Graph, x backend.Index) Drivers {
	return Drivers{
		Graph: func(config.SourceConfig) (backend.Graph, error) { return g, nil },
		Index: func(config.SourceConfig) (backend.Index, error) { return x, nil },
	}
}

func newTestSource(t *testing.T, cfg config.SourceConfig, g *fakeGraph, x *fakeIndex, logger logging.Logger) (*Source, store.Store) {
	t.Helper()
	st := newTestStore(t)
	s := New(cfg, st, fixedDrivers(g, x), logger)
	t.Cleanup(func() { s.Destroy(context.Background()) })
	return s, st
}

func people(n int) []backend.Item {
	items := make([]backend.Item, n)
	for i := range items {
		items[i] = backend.Item{
			ID:         fmt.Sprintf("n%d", i),
			Types:      []string{"Person"},
			Properties: map[string]any{"name": fmt.Sprintf("person %d", i)},
		}
	}
	return items
}
