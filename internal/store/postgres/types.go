package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"graphsync/internal/backend"
	"graphsync/internal/store"
)

func (c *Client) DeleteSchema(ctx context.Context, sourceKey string, kind backend.Kind) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
DELETE FROM schema_properties
WHERE source_key = $1
  AND type_id IN (SELECT id FROM schema_types WHERE source_key = $1 AND kind = $2)
`, sourceKey, string(kind)); err != nil {
			return fmt.Errorf("deleting %s properties: %w", kind, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_types WHERE source_key = $1 AND kind = $2`, sourceKey, string(kind)); err != nil {
			return fmt.Errorf("deleting %s types: %w", kind, err)
		}
		return nil
	})
}

func (c *Client) SaveTypes(ctx context.Context, sourceKey string, kind backend.Kind, types []backend.TypeStats) error {
	if len(types) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		for _, t := range types {
			var typeID int64
			err := tx.QueryRow(ctx, `
INSERT INTO schema_types (source_key, kind, name, count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source_key, kind, name) DO UPDATE SET count = schema_types.count + EXCLUDED.count
RETURNING id
`, sourceKey, string(kind), t.Name, t.Count).Scan(&typeID)
			if err != nil {
				return fmt.Errorf("saving %s type %s: %w", kind, t.Name, err)
			}
			if len(t.Properties) == 0 {
				continue
			}

			keys := make([]string, 0, len(t.Properties))
			counts := make([]int64, 0, len(t.Properties))
			for key, count := range t.Properties {
				keys = append(keys, key)
				counts = append(counts, count)
			}
			_, err = tx.Exec(ctx, `
INSERT INTO schema_properties (type_id, source_key, key, count)
SELECT $1, $2, p.key, p.count
FROM unnest($3::text[], $4::bigint[]) AS p(key, count)
ON CONFLICT (type_id, key) DO UPDATE SET count = schema_properties.count + EXCLUDED.count
`, typeID, sourceKey, keys, counts)
			if err != nil {
				return fmt.Errorf("saving %s type %s properties: %w", kind, t.Name, err)
			}
		}
		return nil
	})
}

func (c *Client) ListTypes(ctx context.Context, sourceKey string, kind backend.Kind) ([]backend.TypeStats, error) {
	rows, err := c.pool.Query(ctx, `
SELECT t.name, t.count, p.key, p.count
FROM schema_types t
LEFT JOIN schema_properties p ON p.type_id = t.id
WHERE t.source_key = $1 AND t.kind = $2
ORDER BY t.name COLLATE "C", p.key COLLATE "C"
`, sourceKey, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s types: %w", kind, err)
	}
	defer rows.Close()

	types := []backend.TypeStats{}
	for rows.Next() {
		var (
			name      string
			count     int64
			propKey   *string
			propCount *int64
		)
		if err := rows.Scan(&name, &count, &propKey, &propCount); err != nil {
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		if len(types) == 0 || types[len(types)-1].Name != name {
			types = append(types, backend.TypeStats{Name: name, Count: count, Properties: map[string]int64{}})
		}
		if propKey != nil && propCount != nil {
			types[len(types)-1].Properties[*propKey] = *propCount
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating types: %w", err)
	}
	return types, nil
}

func (c *Client) WithTx(ctx context.Context, fn func(tx store.SchemaTx) error) error {
	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		return fn(&schemaTx{q: tx})
	})
}

type schemaTx struct {
	q querier
}

func (t *schemaTx) FindType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*store.TypeRow, error) {
	row := t.q.QueryRow(ctx, `
SELECT id, source_key, kind, name, count FROM schema_types
WHERE source_key = $1 AND kind = $2 AND name = $3
`, sourceKey, string(kind), name)
	return scanType(row)
}

func (t *schemaTx) GetType(ctx context.Context, id int64) (*store.TypeRow, error) {
	row := t.q.QueryRow(ctx, `SELECT id, source_key, kind, name, count FROM schema_types WHERE id = $1`, id)
	return scanType(row)
}

func scanType(row pgx.Row) (*store.TypeRow, error) {
	var r store.TypeRow
	var kind string
	err := row.Scan(&r.ID, &r.SourceKey, &kind, &r.Name, &r.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning type: %w", err)
	}
	r.Kind = backend.Kind(kind)
	return &r, nil
}

func (t *schemaTx) CreateType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*store.TypeRow, error) {
	var id int64
	err := t.q.QueryRow(ctx, `
INSERT INTO schema_types (source_key, kind, name, count) VALUES ($1, $2, $3, 0)
RETURNING id
`, sourceKey, string(kind), name).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating %s type %s: %w", kind, name, err)
	}
	return &store.TypeRow{ID: id, SourceKey: sourceKey, Kind: kind, Name: name}, nil
}

func (t *schemaTx) AdjustTypeCount(ctx context.Context, typeID int64, delta int64) error {
	if _, err := t.q.Exec(ctx, `UPDATE schema_types SET count = GREATEST(count + $2, 0) WHERE id = $1`, typeID, delta); err != nil {
		return fmt.Errorf("adjusting type count: %w", err)
	}
	return nil
}

func (t *schemaTx) AdjustProperty(ctx context.Context, sourceKey string, typeID int64, key string, delta int64) error {
	switch {
	case delta > 0:
		_, err := t.q.Exec(ctx, `
INSERT INTO schema_properties (type_id, source_key, key, count) VALUES ($1, $2, $3, $4)
ON CONFLICT (type_id, key) DO UPDATE SET count = schema_properties.count + EXCLUDED.count
`, typeID, sourceKey, key, delta)
		if err != nil {
			return fmt.Errorf("incrementing property %s: %w", key, err)
		}
	case delta < 0:
		if _, err := t.q.Exec(ctx, `
UPDATE schema_properties SET count = count + $3 WHERE type_id = $1 AND key = $2
`, typeID, key, delta); err != nil {
			return fmt.Errorf("decrementing property %s: %w", key, err)
		}
		if _, err := t.q.Exec(ctx, `
DELETE FROM schema_properties WHERE type_id = $1 AND key = $2 AND count <= 0
`, typeID, key); err != nil {
			return fmt.Errorf("deleting property %s: %w", key, err)
		}
	}
	return nil
}
