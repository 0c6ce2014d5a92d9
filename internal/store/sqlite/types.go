package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"graphsync/internal/backend"
	"graphsync/internal/store"
)

// propertyBatch bounds the number of rows per multi-row insert.
const propertyBatch = 200

func (c *Client) DeleteSchema(ctx context.Context, sourceKey string, kind backend.Kind) error {
	return c.WithTx(ctx, func(tx store.SchemaTx) error {
		q := tx.(*schemaTx).tx
		if _, err := q.ExecContext(ctx, `
		DELETE FROM schema_properties
		WHERE source_key = ?
		  AND type_id IN (SELECT id FROM schema_types WHERE source_key = ? AND kind = ?)
		`, sourceKey, sourceKey, string(kind)); err != nil {
			return fmt.Errorf("deleting %s properties: %w", kind, err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM schema_types WHERE source_key = ? AND kind = ?`, sourceKey, string(kind)); err != nil {
			return fmt.Errorf("deleting %s types: %w", kind, err)
		}
		return nil
	})
}

func (c *Client) SaveTypes(ctx context.Context, sourceKey string, kind backend.Kind, types []backend.TypeStats) error {
	if len(types) == 0 {
		return nil
	}
	return c.WithTx(ctx, func(tx store.SchemaTx) error {
		q := tx.(*schemaTx).tx
		for _, t := range types {
			var typeID int64
			err := q.QueryRowContext(ctx, `
			INSERT INTO schema_types (source_key, kind, name, count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (source_key, kind, name) DO UPDATE SET count = schema_types.count + excluded.count
			RETURNING id
			`, sourceKey, string(kind), t.Name, t.Count).Scan(&typeID)
			if err != nil {
				return fmt.Errorf("saving %s type %s: %w", kind, t.Name, err)
			}
			if err := insertProperties(ctx, q, sourceKey, typeID, t.Properties); err != nil {
				return fmt.Errorf("saving %s type %s: %w", kind, t.Name, err)
			}
		}
		return nil
	})
}

func insertProperties(ctx context.Context, q querier, sourceKey string, typeID int64, props map[string]int64) error {
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for start := 0; start < len(keys); start += propertyBatch {
		end := min(start+propertyBatch, len(keys))
		batch := keys[start:end]

		placeholders := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*4)
		for _, key := range batch {
			placeholders = append(placeholders, "(?, ?, ?, ?)")
			args = append(args, typeID, sourceKey, key, props[key])
		}
		query := `INSERT INTO schema_properties (type_id, source_key, key, count) VALUES ` +
			strings.Join(placeholders, ", ") +
			` ON CONFLICT (type_id, key) DO UPDATE SET count = schema_properties.count + excluded.count`
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting properties: %w", err)
		}
	}
	return nil
}

func (c *Client) ListTypes(ctx context.Context, sourceKey string, kind backend.Kind) ([]backend.TypeStats, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT t.name, t.count, p.key, p.count
	FROM schema_types t
	LEFT JOIN schema_properties p ON p.type_id = t.id
	WHERE t.source_key = ? AND t.kind = ?
	ORDER BY t.name, p.key
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
			propKey   sql.NullString
			propCount sql.NullInt64
		)
		if err := rows.Scan(&name, &count, &propKey, &propCount); err != nil {
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		if len(types) == 0 || types[len(types)-1].Name != name {
			types = append(types, backend.TypeStats{Name: name, Count: count, Properties: map[string]int64{}})
		}
		if propKey.Valid {
			types[len(types)-1].Properties[propKey.String] = propCount.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating types: %w", err)
	}
	return types, nil
}

func (c *Client) WithTx(ctx context.Context, fn func(tx store.SchemaTx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&schemaTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type schemaTx struct {
	tx *sql.Tx
}

func (t *schemaTx) FindType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*store.TypeRow, error) {
	row := t.tx.QueryRowContext(ctx, `
	SELECT id, source_key, kind, name, count FROM schema_types
	WHERE source_key = ? AND kind = ? AND name = ?
	`, sourceKey, string(kind), name)
	return scanType(row)
}

func (t *schemaTx) GetType(ctx context.Context, id int64) (*store.TypeRow, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT id, source_key, kind, name, count FROM schema_types WHERE id = ?`, id)
	return scanType(row)
}

func scanType(row *sql.Row) (*store.TypeRow, error) {
	var r store.TypeRow
	var kind string
	err := row.Scan(&r.ID, &r.SourceKey, &kind, &r.Name, &r.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning type: %w", err)
	}
	r.Kind = backend.Kind(kind)
	return &r, nil
}

func (t *schemaTx) CreateType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*store.TypeRow, error) {
	res, err := t.tx.ExecContext(ctx, `
	INSERT INTO schema_types (source_key, kind, name, count) VALUES (?, ?, ?, 0)
	`, sourceKey, string(kind), name)
	if err != nil {
		return nil, fmt.Errorf("creating %s type %s: %w", kind, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating %s type %s: %w", kind, name, err)
	}
	return &store.TypeRow{ID: id, SourceKey: sourceKey, Kind: kind, Name: name}, nil
}

func (t *schemaTx) AdjustTypeCount(ctx context.Context, typeID int64, delta int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE schema_types SET count = MAX(count + ?, 0) WHERE id = ?`, delta, typeID); err != nil {
		return fmt.Errorf("adjusting type count: %w", err)
	}
	return nil
}

func (t *schemaTx) AdjustProperty(ctx context.Context, sourceKey string, typeID int64, key string, delta int64) error {
	switch {
	case delta > 0:
		_, err := t.tx.ExecContext(ctx, `
		INSERT INTO schema_properties (type_id, source_key, key, count) VALUES (?, ?, ?, ?)
		ON CONFLICT (type_id, key) DO UPDATE SET count = schema_properties.count + excluded.count
		`, typeID, sourceKey, key, delta)
		if err != nil {
			return fmt.Errorf("incrementing property %s: %w", key, err)
		}
	case delta < 0:
		if _, err := t.tx.ExecContext(ctx, `
		UPDATE schema_properties SET count = count + ? WHERE type_id = ? AND key = ?
		`, delta, typeID, key); err != nil {
			return fmt.Errorf("decrementing property %s: %w", key, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
		DELETE FROM schema_properties WHERE type_id = ? AND key = ? AND count <= 0
		`, typeID, key); err != nil {
			return fmt.Errorf("deleting property %s: %w", key, err)
		}
	}
	return nil
}
