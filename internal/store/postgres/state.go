package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"graphsync/internal/store"
)

const stateColumns = `key, info, last_seen, name, graph_vendor, index_vendor, indexed_date,
    need_reindex, indexation_error, no_index_node_properties, hidden_node_properties,
    no_index_edge_properties, hidden_edge_properties`

func (c *Client) FindOrCreateState(ctx context.Context, key, info string) (*store.DataSourceState, bool, error) {
	now := time.Now().UTC()
	// xmax = 0 only for a freshly inserted row.
	row := c.pool.QueryRow(ctx, `
INSERT INTO data_source_states (key, info, last_seen, need_reindex)
VALUES ($1, $2, $3, TRUE)
ON CONFLICT (key) DO UPDATE SET key = EXCLUDED.key
RETURNING `+stateColumns+`, (xmax = 0) AS inserted
`, key, info, now)

	state, inserted, err := scanState(row, true)
	if err != nil {
		return nil, false, fmt.Errorf("finding or creating state %s: %w", key, err)
	}
	return state, inserted, nil
}

func (c *Client) GetState(ctx context.Context, key string) (*store.DataSourceState, error) {
	row := c.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM data_source_states WHERE key = $1`, key)
	state, _, err := scanState(row, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting state %s: %w", key, err)
	}
	return state, nil
}

func scanState(row pgx.Row, withInserted bool) (*store.DataSourceState, bool, error) {
	var (
		s        store.DataSourceState
		inserted bool
	)
	dest := []any{&s.Key, &s.Info, &s.LastSeen, &s.Name, &s.GraphVendor, &s.IndexVendor, &s.IndexedDate,
		&s.NeedReindex, &s.IndexationError, &s.NoIndexNodeProperties, &s.HiddenNodeProperties,
		&s.NoIndexEdgeProperties, &s.HiddenEdgeProperties}
	if withInserted {
		dest = append(dest, &inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, false, err
	}
	s.LastSeen = s.LastSeen.UTC()
	if s.IndexedDate != nil {
		d := s.IndexedDate.UTC()
		s.IndexedDate = &d
	}
	return &s, inserted, nil
}

func (c *Client) UpdateState(ctx context.Context, s *store.DataSourceState) error {
	tag, err := c.pool.Exec(ctx, `
UPDATE data_source_states SET
    last_seen = $2,
    name = $3,
    graph_vendor = $4,
    index_vendor = $5,
    indexed_date = $6,
    need_reindex = $7,
    indexation_error = $8,
    no_index_node_properties = $9,
    hidden_node_properties = $10,
    no_index_edge_properties = $11,
    hidden_edge_properties = $12
WHERE key = $1
`, s.Key, s.LastSeen, s.Name, s.GraphVendor, s.IndexVendor, s.IndexedDate, s.NeedReindex, s.IndexationError,
		s.NoIndexNodeProperties, s.HiddenNodeProperties, s.NoIndexEdgeProperties, s.HiddenEdgeProperties)
	if err != nil {
		return fmt.Errorf("updating state %s: %w", s.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *Client) DeleteState(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM data_source_states WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting state %s: %w", key, err)
	}
	return nil
}
