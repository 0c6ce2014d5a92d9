package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	x, err := New("sqlite://:memory:")
	require.NoError(t, err)
	version, err := x.Connect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	t.Cleanup(func() { _ = x.Disconnect(ctx) })
	return x
}

func seed(t *testing.T, x *Index) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, x.AddEntries(ctx, backend.KindNode, []backend.Item{
		{ID: "1", Types: []string{"Person"}, Properties: map[string]any{"name": "Ada Lovelace", "born": int64(1815)}},
		{ID: "2", Types: []string{"Person"}, Properties: map[string]any{"name": "Charles Babbage", "born": int64(1791)}},
		{ID: "3", Types: []string{"Machine"}, Properties: map[string]any{"name": "Analytical Engine", "tags": []any{"steam", "mechanical"}}},
	}))
	require.NoError(t, x.AddEntries(ctx, backend.KindEdge, []backend.Item{
		{ID: "10", Types: []string{"DESIGNED"}, Source: "2", Target: "3", Properties: map[string]any{"note": "engine design"}},
	}))
	require.NoError(t, x.Commit(ctx))
}

func TestNewRejectsBadDSN(t *testing.T) {
	_, err := New("postgres://localhost/db")
	assert.True(t, backend.HasCode(err, backend.CodeInvalidConfiguration))
}

func TestFeatures(t *testing.T) {
	x, err := New("sqlite://:memory:")
	require.NoError(t, err)
	f := x.Features()
	assert.False(t, f.External)
	assert.False(t, f.SchemaCounts)
	assert.True(t, f.CanIndexEdges)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	seed(t, x)

	hits, err := x.Search(ctx, "ada", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
	assert.Equal(t, []string{"Person"}, hits[0].Types)
	assert.Contains(t, hits[0].Snippet, "**Ada**")

	hits, err = x.Search(ctx, "engine", "", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = x.Search(ctx, "engine", backend.KindEdge, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "10", hits[0].ID)

	hits, err = x.Search(ctx, "engine -design", backend.KindNode, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3", hits[0].ID)

	hits, err = x.Search(ctx, "mech*", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "3", hits[0].ID)

	hits, err = x.Search(ctx, "person", "", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "types are searchable")

	_, err = x.Search(ctx, "  ", "", 10)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	seed(t, x)

	n, err := x.Count(ctx, backend.KindNode)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, x.Clear(ctx))
	n, err = x.Count(ctx, backend.KindNode)
	require.NoError(t, err)
	assert.Zero(t, n)

	types, err := x.PropertyTypes(ctx, backend.KindNode)
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestPropertyTypes(t *testing.T) {
	ctx := context.Background()
	x := newTestIndex(t)
	seed(t, x)
	require.NoError(t, x.AddEntries(ctx, backend.KindNode, []backend.Item{
		{ID: "4", Properties: map[string]any{"born": "unknown"}},
	}))

	types, err := x.PropertyTypes(ctx, backend.KindNode)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"name": "string",
		"born": "mixed",
		"tags": "array",
	}, types)
}

func TestNotConnected(t *testing.T) {
	x, err := New("sqlite://:memory:")
	require.NoError(t, err)
	assert.Error(t, x.CheckUp(context.Background()))
	assert.Error(t, x.AddEntries(context.Background(), backend.KindNode, []backend.Item{{ID: "1"}}))
}

func TestItemBody(t *testing.T) {
	body, err := itemBody(backend.Item{ID: "1", Properties: map[string]any{
		"b":     true,
		"a":     "text",
		"empty": nil,
		"list":  []any{"x", int64(2)},
	}})
	require.NoError(t, err)
	assert.Equal(t, "a text\nb true\nlist x 2", body)
}
