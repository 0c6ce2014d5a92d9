package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
	"graphsync/internal/logging"
	"graphsync/internal/store"
	"graphsync/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.New(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func person(props ...string) backend.Item {
	return backend.Item{Types: []string{"Person"}, Properties: propertyMap(props...)}
}

func propertyMap(keys ...string) map[string]any {
	m := make(map[string]any, len(keys))
	for _, k := range keys {
		m[k] = k
	}
	return m
}

func typeByName(types []backend.TypeStats, name string) (backend.TypeStats, bool) {
	for _, t := range types {
		if t.Name == name {
			return t, true
		}
	}
	return backend.TypeStats{}, false
}

func TestIngestAndSave(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, "src", logging.Nop(), 1)
	b.Init(false)

	b.IngestNodes([]backend.Item{person("name"), person("name", "age")})
	b.IngestNode(backend.Item{Properties: propertyMap("title")})
	b.IngestEdge(backend.Item{Types: []string{"KNOWS"}, Properties: propertyMap("since")})

	pending := b.Pending(backend.KindNode)
	require.Len(t, pending, 3)

	require.NoError(t, b.SaveSchema(ctx))
	assert.Empty(t, b.Pending(backend.KindNode))
	assert.Empty(t, b.Pending(backend.KindEdge))

	nodes, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	p, ok := typeByName(nodes, "Person")
	require.True(t, ok)
	assert.Equal(t, int64(2), p.Count)
	assert.Equal(t, map[string]int64{"name": 2, "age": 1}, p.Properties)

	wildcard, ok := typeByName(nodes, AnyType)
	require.True(t, ok)
	assert.Equal(t, int64(3), wildcard.Count)
	assert.Equal(t, map[string]int64{"name": 2, "age": 1, "title": 1}, wildcard.Properties)

	edges, err := b.Schema(ctx, backend.KindEdge)
	require.NoError(t, err)
	knows, ok := typeByName(edges, "KNOWS")
	require.True(t, ok)
	assert.Equal(t, int64(1), knows.Count)
}

func TestIngestTypesMerges(t *testing.T) {
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(true)
	b.IngestTypes(backend.KindNode, []backend.TypeStats{{Name: "City", Count: 4, Properties: map[string]int64{"name": 4}}})
	b.IngestTypes(backend.KindNode, []backend.TypeStats{{Name: "City", Count: 1, Properties: map[string]int64{"zip": 1}}})

	pending := b.Pending(backend.KindNode)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(5), pending[0].Count)
	assert.Equal(t, map[string]int64{"name": 4, "zip": 1}, pending[0].Properties)
	assert.True(t, b.Frozen())
}

func TestInitClearsPending(t *testing.T) {
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.IngestNode(person("name"))
	b.Init(false)
	assert.Empty(t, b.Pending(backend.KindNode))
}

func TestCreateThenDeleteConverges(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	b.IngestNodes([]backend.Item{person("name")})
	require.NoError(t, b.SaveSchema(ctx))
	before, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)

	created := person("name", "email")
	require.NoError(t, b.NodeCreation(ctx, created))

	mid, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, _ := typeByName(mid, "Person")
	assert.Equal(t, int64(2), p.Count)
	assert.Equal(t, map[string]int64{"name": 2, "email": 1}, p.Properties)

	require.NoError(t, b.NodeDeletion(ctx, created))

	after, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeletionKeepsEmptyType(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	item := person("name")
	require.NoError(t, b.NodeCreation(ctx, item))
	require.NoError(t, b.NodeDeletion(ctx, item))

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, ok := typeByName(types, "Person")
	require.True(t, ok)
	assert.Equal(t, int64(0), p.Count)
	assert.Empty(t, p.Properties)
}

func TestUpdateSameTypesTouchesOnlyChangedProperties(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	require.NoError(t, b.NodeCreation(ctx, person("name", "age")))
	require.NoError(t, b.NodeUpdate(ctx, person("name", "age"), person("name", "email")))

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, _ := typeByName(types, "Person")
	assert.Equal(t, int64(1), p.Count)
	assert.Equal(t, map[string]int64{"name": 1, "email": 1}, p.Properties)
}

func TestUpdateChangedTypesMovesItem(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	require.NoError(t, b.NodeCreation(ctx, person("name")))
	robot := backend.Item{Types: []string{"Robot"}, Properties: propertyMap("name")}
	require.NoError(t, b.NodeUpdate(ctx, person("name"), robot))

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, _ := typeByName(types, "Person")
	r, _ := typeByName(types, "Robot")
	all, _ := typeByName(types, AnyType)
	assert.Equal(t, int64(0), p.Count)
	assert.Equal(t, int64(1), r.Count)
	assert.Equal(t, int64(1), all.Count)
	assert.Equal(t, map[string]int64{"name": 1}, all.Properties)
}

func TestFrozenNeverCreatesOrCountsTypes(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(true)

	b.IngestTypes(backend.KindNode, []backend.TypeStats{{Name: "Person", Count: 10, Properties: map[string]int64{"name": 10}}})
	require.NoError(t, b.SaveSchema(ctx))

	require.NoError(t, b.NodeCreation(ctx, backend.Item{Types: []string{"Alien"}, Properties: propertyMap("name")}))
	require.NoError(t, b.NodeCreation(ctx, person("name", "nickname")))

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	_, ok := typeByName(types, "Alien")
	assert.False(t, ok)
	p, ok := typeByName(types, "Person")
	require.True(t, ok)
	assert.Equal(t, int64(10), p.Count)
	assert.Equal(t, map[string]int64{"name": 11, "nickname": 1}, p.Properties)
}

func TestConcurrentEditsSerialize(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.NodeCreation(ctx, person("name")))
		}()
	}
	wg.Wait()

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, _ := typeByName(types, "Person")
	assert.Equal(t, int64(20), p.Count)
	assert.Equal(t, map[string]int64{"name": 20}, p.Properties)
}

func TestDeleteSchemaPurgesCache(t *testing.T) {
	ctx := context.Background()
	b := New(newTestStore(t), "src", logging.Nop(), 0)
	b.Init(false)

	require.NoError(t, b.NodeCreation(ctx, person("name")))
	require.NoError(t, b.DeleteSchema(ctx))
	require.NoError(t, b.NodeCreation(ctx, person("name")))

	types, err := b.Schema(ctx, backend.KindNode)
	require.NoError(t, err)
	p, ok := typeByName(types, "Person")
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Count)
}
