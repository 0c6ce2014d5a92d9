package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
	"graphsync/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	client, err := New(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(ctx) })
	require.NoError(t, client.EnsureSchema(ctx))
	require.NoError(t, client.EnsureSchema(ctx), "schema must be idempotent")
	return client
}

func TestFindOrCreateState(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	created, isNew, err := client.FindOrCreateState(ctx, "abcd1234", "localhost:7687:store-1")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.True(t, created.NeedReindex)
	assert.Nil(t, created.IndexedDate)
	assert.True(t, created.NeverConfigured())

	found, isNew, err := client.FindOrCreateState(ctx, "abcd1234", "ignored")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "localhost:7687:store-1", found.Info)
}

func TestUpdateStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	state, _, err := client.FindOrCreateState(ctx, "k1", "h:1:s")
	require.NoError(t, err)

	indexed := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	msg := "stream failed"
	state.Name = "main"
	state.GraphVendor = "neo4j"
	state.IndexVendor = "sqlite"
	state.IndexedDate = &indexed
	state.NeedReindex = false
	state.IndexationError = &msg
	state.NoIndexNodeProperties = []string{}
	state.HiddenNodeProperties = []string{"password"}
	require.NoError(t, client.UpdateState(ctx, state))

	got, err := client.GetState(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Name)
	assert.Equal(t, "neo4j", got.GraphVendor)
	require.NotNil(t, got.IndexedDate)
	assert.True(t, indexed.Equal(*got.IndexedDate))
	assert.False(t, got.NeedReindex)
	require.NotNil(t, got.IndexationError)
	assert.Equal(t, msg, *got.IndexationError)
	assert.NotNil(t, got.NoIndexNodeProperties)
	assert.Empty(t, got.NoIndexNodeProperties)
	assert.Equal(t, []string{"password"}, got.HiddenNodeProperties)
	assert.Nil(t, got.NoIndexEdgeProperties)
	assert.False(t, got.NeverConfigured())
}

func TestUpdateMissingState(t *testing.T) {
	client := newTestClient(t)
	err := client.UpdateState(context.Background(), &store.DataSourceState{Key: "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteState(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, _, err := client.FindOrCreateState(ctx, "k1", "h:1:s")
	require.NoError(t, err)
	require.NoError(t, client.DeleteState(ctx, "k1"))

	_, err = client.GetState(ctx, "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveTypesAccumulates(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	batch := []backend.TypeStats{
		{Name: "Person", Count: 3, Properties: map[string]int64{"name": 3, "age": 1}},
		{Name: "*", Count: 3, Properties: map[string]int64{"name": 3, "age": 1}},
	}
	require.NoError(t, client.SaveTypes(ctx, "k1", backend.KindNode, batch))
	require.NoError(t, client.SaveTypes(ctx, "k1", backend.KindNode, []backend.TypeStats{
		{Name: "Person", Count: 2, Properties: map[string]int64{"name": 2}},
	}))

	types, err := client.ListTypes(ctx, "k1", backend.KindNode)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "*", types[0].Name)
	assert.Equal(t, "Person", types[1].Name)
	assert.Equal(t, int64(5), types[1].Count)
	assert.Equal(t, map[string]int64{"name": 5, "age": 1}, types[1].Properties)

	edges, err := client.ListTypes(ctx, "k1", backend.KindEdge)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDeleteSchemaOnlyTouchesKindAndSource(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	stats := []backend.TypeStats{{Name: "KNOWS", Count: 1, Properties: map[string]int64{"since": 1}}}
	require.NoError(t, client.SaveTypes(ctx, "k1", backend.KindEdge, stats))
	require.NoError(t, client.SaveTypes(ctx, "k1", backend.KindNode, stats))
	require.NoError(t, client.SaveTypes(ctx, "k2", backend.KindEdge, stats))

	require.NoError(t, client.DeleteSchema(ctx, "k1", backend.KindEdge))

	k1Edges, err := client.ListTypes(ctx, "k1", backend.KindEdge)
	require.NoError(t, err)
	assert.Empty(t, k1Edges)
	k1Nodes, err := client.ListTypes(ctx, "k1", backend.KindNode)
	require.NoError(t, err)
	assert.Len(t, k1Nodes, 1)
	k2Edges, err := client.ListTypes(ctx, "k2", backend.KindEdge)
	require.NoError(t, err)
	assert.Len(t, k2Edges, 1)
}

func TestSchemaTxAdjustments(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	var typeID int64
	err := client.WithTx(ctx, func(tx store.SchemaTx) error {
		_, err := tx.FindType(ctx, "k1", backend.KindNode, "Person")
		require.ErrorIs(t, err, store.ErrNotFound)

		row, err := tx.CreateType(ctx, "k1", backend.KindNode, "Person")
		if err != nil {
			return err
		}
		typeID = row.ID
		if err := tx.AdjustTypeCount(ctx, row.ID, 1); err != nil {
			return err
		}
		return tx.AdjustProperty(ctx, "k1", row.ID, "name", 1)
	})
	require.NoError(t, err)

	err = client.WithTx(ctx, func(tx store.SchemaTx) error {
		if err := tx.AdjustTypeCount(ctx, typeID, -5); err != nil {
			return err
		}
		return tx.AdjustProperty(ctx, "k1", typeID, "name", -1)
	})
	require.NoError(t, err)

	types, err := client.ListTypes(ctx, "k1", backend.KindNode)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, int64(0), types[0].Count, "count never goes negative and the row survives")
	assert.Empty(t, types[0].Properties, "property row deleted at zero")
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	err := client.WithTx(ctx, func(tx store.SchemaTx) error {
		if _, err := tx.CreateType(ctx, "k1", backend.KindNode, "Ghost"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	types, err := client.ListTypes(ctx, "k1", backend.KindNode)
	require.NoError(t, err)
	assert.Empty(t, types)
}
