package neo4jft

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"graphsync/internal/backend"
	"graphsync/internal/graph"
)

const defaultSearchLimit = 50

var _ backend.Searcher = (*Index)(nil)

// Search runs a Lucene query against the fulltext indexes.
func (x *Index) Search(ctx context.Context, query string, kind backend.Kind, limit int) ([]backend.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	params := map[string]any{"query": query, "limit": limit}

	var hits []backend.Hit
	if kind == "" || kind == backend.KindNode {
		params["index"] = nodeIndexName
		rows, err := x.client.RunCypher(ctx, `
		CALL db.index.fulltext.queryNodes($index, $query, {limit: $limit}) YIELD node, score
		RETURN node AS item, score`, params)
		if err != nil {
			return nil, fmt.Errorf("searching nodes: %w", err)
		}
		if hits, err = appendHits(hits, backend.KindNode, rows); err != nil {
			return nil, err
		}
	}
	if (kind == "" || kind == backend.KindEdge) && !x.skipEdges {
		params["index"] = edgeIndexName
		rows, err := x.client.RunCypher(ctx, `
		CALL db.index.fulltext.queryRelationships($index, $query, {limit: $limit}) YIELD relationship, score
		RETURN relationship AS item, score`, params)
		if err != nil {
			return nil, fmt.Errorf("searching edges: %w", err)
		}
		if hits, err = appendHits(hits, backend.KindEdge, rows); err != nil {
			return nil, err
		}
	}

	slices.SortStableFunc(hits, func(a, b backend.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func appendHits(hits []backend.Hit, kind backend.Kind, rows []map[string]any) ([]backend.Hit, error) {
	for _, row := range rows {
		item, err := graph.ToItem(row["item"])
		if err != nil {
			return hits, err
		}
		score, _ := row["score"].(float64)
		hits = append(hits, backend.Hit{ID: item.ID, Kind: kind, Types: item.Types, Score: score})
	}
	return hits, nil
}
