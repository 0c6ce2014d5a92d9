package sqlite

import (
	"context"
	"fmt"

	"graphsync/internal/sqlitedb"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS data_source_states (
		key                      TEXT PRIMARY KEY,
		info                     TEXT NOT NULL,
		last_seen                TEXT NOT NULL,
		name                     TEXT NOT NULL DEFAULT '',
		graph_vendor             TEXT NOT NULL DEFAULT '',
		index_vendor             TEXT NOT NULL DEFAULT '',
		indexed_date             TEXT,
		need_reindex             INTEGER NOT NULL DEFAULT 1,
		indexation_error         TEXT,
		no_index_node_properties TEXT,
		hidden_node_properties   TEXT,
		no_index_edge_properties TEXT,
		hidden_edge_properties   TEXT
	);

	CREATE TABLE IF NOT EXISTS schema_types (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		source_key TEXT NOT NULL,
		kind       TEXT NOT NULL,
		name       TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		CONSTRAINT uq_schema_type UNIQUE (source_key, kind, name)
	);

	CREATE TABLE IF NOT EXISTS schema_properties (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type_id    INTEGER NOT NULL REFERENCES schema_types(id),
		source_key TEXT NOT NULL,
		key        TEXT NOT NULL,
		count      INTEGER NOT NULL DEFAULT 0,
		CONSTRAINT uq_schema_property UNIQUE (type_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_schema_types_source_kind ON schema_types (source_key, kind);
	CREATE INDEX IF NOT EXISTS idx_schema_properties_source ON schema_properties (source_key);
	CREATE INDEX IF NOT EXISTS idx_schema_properties_type ON schema_properties (type_id);
	`

	if err := sqlitedb.Exec(ctx, c.db, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
