package neo4jft

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
	"graphsync/internal/graph"
	"graphsync/internal/logging"
)

func TestFulltextStatement(t *testing.T) {
	stmt := fulltextStatement(nodeIndexName, backend.KindNode, []string{"Person", "Big`Co"}, []string{"name", "bio"})
	assert.Equal(t, "CREATE FULLTEXT INDEX `graphsync_nodes` IF NOT EXISTS FOR (e:`Big``Co`|`Person`) ON EACH [e.`bio`, e.`name`]", stmt)

	stmt = fulltextStatement(edgeIndexName, backend.KindEdge, []string{"KNOWS"}, []string{"since"})
	assert.Equal(t, "CREATE FULLTEXT INDEX `graphsync_edges` IF NOT EXISTS FOR ()-[e:`KNOWS`]-() ON EACH [e.`since`]", stmt)

	assert.Empty(t, fulltextStatement(nodeIndexName, backend.KindNode, nil, []string{"name"}))
	assert.Empty(t, fulltextStatement(nodeIndexName, backend.KindNode, []string{"Person"}, nil))
}

func TestPopulationDelta(t *testing.T) {
	assert.Equal(t, int64(50), populationDelta(200, 25, 0))
	assert.Equal(t, int64(100), populationDelta(200, 75, 50))
	assert.Equal(t, int64(0), populationDelta(200, 75, 150))
	assert.Equal(t, int64(50), populationDelta(200, 130, 150), "capped at 100%")
	assert.Equal(t, int64(0), populationDelta(0, 50, 0))
}

func TestMergeType(t *testing.T) {
	assert.Equal(t, "string", mergeType("", "string"))
	assert.Equal(t, "string", mergeType("string", "string"))
	assert.Equal(t, "mixed", mergeType("string", "long"))
}

func TestFeaturesAndValidation(t *testing.T) {
	_, err := New(graph.Config{URL: "http://nope"}, logging.Nop())
	assert.True(t, backend.HasCode(err, backend.CodeInvalidConfiguration))

	x, err := New(graph.Config{URL: "bolt://localhost"}, logging.Nop(), WithoutEdges())
	require.NoError(t, err)
	f := x.Features()
	assert.True(t, f.External)
	assert.True(t, f.SchemaCounts)
	assert.False(t, f.CanIndexEdges)

	err = x.AddEntries(t.Context(), backend.KindNode, nil)
	assert.True(t, backend.HasCode(err, backend.CodeIllegalState))
}

func TestAppendHits(t *testing.T) {
	rows := []map[string]any{
		{"item": neo4j.Node{ElementId: "4:x:1", Labels: []string{"Person"}}, "score": 1.5},
		{"item": neo4j.Relationship{Id: 7, Type: "KNOWS"}, "score": 0.5},
	}
	hits, err := appendHits(nil, backend.KindNode, rows)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, backend.Hit{ID: "4:x:1", Kind: backend.KindNode, Types: []string{"Person"}, Score: 1.5}, hits[0])
	assert.Equal(t, "7", hits[1].ID)

	_, err = appendHits(nil, backend.KindNode, []map[string]any{{"item": 42}})
	assert.True(t, backend.HasCode(err, backend.CodeBadData))
}
