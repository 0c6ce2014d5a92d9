// Package sqlite is the embedded search index: every item is streamed into an
// FTS5 table by the indexation pipeline.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"graphsync/internal/backend"
	"graphsync/internal/sqlitedb"
)

const Vendor = "sqlite"

const ddl = `
CREATE VIRTUAL TABLE IF NOT EXISTS entries USING fts5(
    item_id UNINDEXED,
    kind UNINDEXED,
    types,
    body,
    tokenize = 'unicode61'
);

CREATE TABLE IF NOT EXISTS entry_properties (
    kind TEXT NOT NULL,
    key  TEXT NOT NULL,
    type TEXT NOT NULL,
    PRIMARY KEY (kind, key)
);
`

var _ backend.Index = (*Index)(nil)

type Index struct {
	dsn string

	mu sync.RWMutex
	db *sql.DB
}

func New(dsn string) (*Index, error) {
	if _, err := sqlitedb.ParseDSN(dsn); err != nil {
		return nil, backend.Wrap(backend.CodeInvalidConfiguration, err, "invalid index dsn")
	}
	return &Index{dsn: dsn}, nil
}

func (x *Index) Vendor() string { return Vendor }

func (x *Index) Features() backend.IndexFeatures {
	return backend.IndexFeatures{External: false, SchemaCounts: false, CanIndexEdges: true}
}

func (x *Index) Connect(ctx context.Context) (string, error) {
	db, err := sqlitedb.Open(ctx, x.dsn)
	if err != nil {
		return "", fmt.Errorf("connecting sqlite index: %w", err)
	}
	if err := sqlitedb.Exec(ctx, db, ddl); err != nil {
		db.Close()
		return "", fmt.Errorf("creating index tables: %w", err)
	}
	var version string
	if err := db.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err != nil {
		db.Close()
		return "", fmt.Errorf("reading sqlite version: %w", err)
	}

	x.mu.Lock()
	old := x.db
	x.db = db
	x.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return version, nil
}

func (x *Index) Disconnect(ctx context.Context) error {
	x.mu.Lock()
	db := x.db
	x.db = nil
	x.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (x *Index) conn() (*sql.DB, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.db == nil {
		return nil, errors.New("sqlite index is not connected")
	}
	return x.db, nil
}

func (x *Index) CheckUp(ctx context.Context) error {
	db, err := x.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging sqlite index: %w", err)
	}
	return nil
}

func (x *Index) Clear(ctx context.Context) error {
	db, err := x.conn()
	if err != nil {
		return err
	}
	if err := sqlitedb.Exec(ctx, db, `DELETE FROM entries; DELETE FROM entry_properties;`); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	return nil
}

func (x *Index) AddEntries(ctx context.Context, kind backend.Kind, items []backend.Item) error {
	if len(items) == 0 {
		return nil
	}
	db, err := x.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `INSERT INTO entries (item_id, kind, types, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer insert.Close()

	seen := map[string]string{}
	for _, item := range items {
		body, err := itemBody(item)
		if err != nil {
			return err
		}
		if _, err := insert.ExecContext(ctx, item.ID, string(kind), strings.Join(item.Types, " "), body); err != nil {
			return fmt.Errorf("indexing %s %s: %w", kind, item.ID, err)
		}
		for key, value := range item.Properties {
			if _, ok := seen[key]; !ok {
				seen[key] = valueType(value)
			}
		}
	}

	for key, typ := range seen {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO entry_properties (kind, key, type) VALUES (?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET type = CASE WHEN type = excluded.type THEN type ELSE 'mixed' END
		`, string(kind), key, typ); err != nil {
			return fmt.Errorf("recording property %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entries: %w", err)
	}
	return nil
}

// itemBody renders property values as "key value" pairs in key order.
func itemBody(item backend.Item) (string, error) {
	keys := make([]string, 0, len(item.Properties))
	for key := range item.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		text, err := valueText(item.Properties[key])
		if err != nil {
			return "", backend.Wrap(backend.CodeBadData, err, "item %s property %s", item.ID, key)
		}
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(key)
		b.WriteByte(' ')
		b.WriteString(text)
	}
	return b.String(), nil
}

func valueText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return "", nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, elem := range v {
			text, err := valueText(elem)
			if err != nil {
				return "", err
			}
			parts = append(parts, text)
		}
		return strings.Join(parts, " "), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}
}

func valueType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32, float64:
		return "number"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return "other"
	}
}

// Commit merges the FTS5 b-trees written during indexation.
func (x *Index) Commit(ctx context.Context) error {
	db, err := x.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO entries (entries) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("optimizing index: %w", err)
	}
	return nil
}

func (x *Index) IndexSource(ctx context.Context, progress backend.ProgressReporter) error {
	return backend.Errorf(backend.CodeIllegalState, "the sqlite index is fed by the pipeline and cannot scan the store")
}

// Schema is not tracked by this index; the pipeline builds it from the stream.
func (x *Index) Schema(ctx context.Context, kind backend.Kind, withProperties bool) ([]backend.TypeStats, error) {
	return nil, nil
}

func (x *Index) PropertyTypes(ctx context.Context, kind backend.Kind) (map[string]string, error) {
	db, err := x.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT key, type FROM entry_properties WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing property types: %w", err)
	}
	defer rows.Close()

	types := map[string]string{}
	for rows.Next() {
		var key, typ string
		if err := rows.Scan(&key, &typ); err != nil {
			return nil, fmt.Errorf("scanning property type: %w", err)
		}
		types[key] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating property types: %w", err)
	}
	return types, nil
}

func (x *Index) OnAfterIndexation(ctx context.Context) error { return nil }

// Count returns the number of indexed entries of one kind.
func (x *Index) Count(ctx context.Context, kind backend.Kind) (int64, error) {
	db, err := x.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM entries WHERE kind = ?`, string(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

func splitTypes(raw string) []string {
	types := strings.Fields(raw)
	if types == nil {
		return []string{}
	}
	return slices.Clip(types)
}
