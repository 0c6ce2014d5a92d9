package graph

import (
	"context"
	"fmt"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"graphsync/internal/backend"
)

func (c *Client) NodeStream(ctx context.Context, offset int64, chunkSize int) (backend.Stream, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	return backend.NewPagedStream(func(ctx context.Context, offset int64, limit int) ([]backend.Item, error) {
		return c.page(ctx, `MATCH (n) RETURN n AS item ORDER BY id(n) SKIP $offset LIMIT $limit`, offset, limit)
	}, offset, chunkSize), nil
}

func (c *Client) EdgeStream(ctx context.Context, offset int64, chunkSize int) (backend.Stream, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	return backend.NewPagedStream(func(ctx context.Context, offset int64, limit int) ([]backend.Item, error) {
		return c.page(ctx, `MATCH ()-[r]->() RETURN r AS item ORDER BY id(r) SKIP $offset LIMIT $limit`, offset, limit)
	}, offset, chunkSize), nil
}

func (c *Client) page(ctx context.Context, query string, offset int64, limit int) ([]backend.Item, error) {
	rows, err := c.RunCypher(ctx, query, map[string]any{"offset": offset, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("reading page at %d: %w", offset, err)
	}
	items := make([]backend.Item, 0, len(rows))
	for _, row := range rows {
		item, err := ToItem(row["item"])
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ToItem converts a driver node or relationship to an item.
func ToItem(value any) (backend.Item, error) {
	switch v := value.(type) {
	case neo4j.Node:
		return backend.Item{
			ID:         elementID(v.ElementId, v.Id),
			Types:      v.Labels,
			Properties: v.Props,
		}, nil
	case neo4j.Relationship:
		return backend.Item{
			ID:         elementID(v.ElementId, v.Id),
			Types:      []string{v.Type},
			Properties: v.Props,
			Source:     elementID(v.StartElementId, v.StartId),
			Target:     elementID(v.EndElementId, v.EndId),
		}, nil
	default:
		return backend.Item{}, backend.Errorf(backend.CodeBadData, "unexpected graph value %T", value)
	}
}

// elementID prefers the 5.x element id and falls back to the legacy id.
func elementID(element string, legacy int64) string {
	if element != "" {
		return element
	}
	return strconv.FormatInt(legacy, 10)
}
