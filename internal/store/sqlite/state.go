package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"graphsync/internal/store"
)

const stateColumns = `key, info, last_seen, name, graph_vendor, index_vendor, indexed_date,
	need_reindex, indexation_error, no_index_node_properties, hidden_node_properties,
	no_index_edge_properties, hidden_edge_properties`

func (c *Client) FindOrCreateState(ctx context.Context, key, info string) (*store.DataSourceState, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := getState(ctx, tx, key)
	if err == nil {
		return state, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
	INSERT INTO data_source_states (key, info, last_seen, need_reindex)
	VALUES (?, ?, ?, 1)
	`, key, info, formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("creating state %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing state %s: %w", key, err)
	}

	return &store.DataSourceState{
		Key:         key,
		Info:        info,
		LastSeen:    now,
		NeedReindex: true,
	}, true, nil
}

func (c *Client) GetState(ctx context.Context, key string) (*store.DataSourceState, error) {
	return getState(ctx, c.db, key)
}

func getState(ctx context.Context, q querier, key string) (*store.DataSourceState, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM data_source_states WHERE key = ?`, key)

	var (
		s                            store.DataSourceState
		lastSeen                     string
		indexedDate, indexationError sql.NullString
		needReindex                  int
		noIndexNode, hiddenNode      sql.NullString
		noIndexEdge, hiddenEdge      sql.NullString
	)
	err := row.Scan(&s.Key, &s.Info, &lastSeen, &s.Name, &s.GraphVendor, &s.IndexVendor, &indexedDate,
		&needReindex, &indexationError, &noIndexNode, &hiddenNode, &noIndexEdge, &hiddenEdge)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting state %s: %w", key, err)
	}

	if s.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	if indexedDate.Valid {
		t, err := parseTime(indexedDate.String)
		if err != nil {
			return nil, err
		}
		s.IndexedDate = &t
	}
	s.NeedReindex = needReindex != 0
	if indexationError.Valid {
		msg := indexationError.String
		s.IndexationError = &msg
	}

	lists := []struct {
		raw sql.NullString
		dst *[]string
	}{
		{noIndexNode, &s.NoIndexNodeProperties},
		{hiddenNode, &s.HiddenNodeProperties},
		{noIndexEdge, &s.NoIndexEdgeProperties},
		{hiddenEdge, &s.HiddenEdgeProperties},
	}
	for _, list := range lists {
		if !list.raw.Valid {
			continue
		}
		values := []string{}
		if err := json.Unmarshal([]byte(list.raw.String), &values); err != nil {
			return nil, fmt.Errorf("unmarshaling property list: %w", err)
		}
		*list.dst = values
	}

	return &s, nil
}

func (c *Client) UpdateState(ctx context.Context, s *store.DataSourceState) error {
	var indexedDate any
	if s.IndexedDate != nil {
		indexedDate = formatTime(*s.IndexedDate)
	}
	var indexationError any
	if s.IndexationError != nil {
		indexationError = *s.IndexationError
	}
	needReindex := 0
	if s.NeedReindex {
		needReindex = 1
	}

	lists := make([]any, 0, 4)
	for _, list := range [][]string{s.NoIndexNodeProperties, s.HiddenNodeProperties, s.NoIndexEdgeProperties, s.HiddenEdgeProperties} {
		encoded, err := encodeList(list)
		if err != nil {
			return err
		}
		lists = append(lists, encoded)
	}

	res, err := c.db.ExecContext(ctx, `
	UPDATE data_source_states SET
		last_seen = ?,
		name = ?,
		graph_vendor = ?,
		index_vendor = ?,
		indexed_date = ?,
		need_reindex = ?,
		indexation_error = ?,
		no_index_node_properties = ?,
		hidden_node_properties = ?,
		no_index_edge_properties = ?,
		hidden_edge_properties = ?
	WHERE key = ?
	`, formatTime(s.LastSeen), s.Name, s.GraphVendor, s.IndexVendor, indexedDate, needReindex, indexationError,
		lists[0], lists[1], lists[2], lists[3], s.Key)
	if err != nil {
		return fmt.Errorf("updating state %s: %w", s.Key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating state %s: %w", s.Key, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *Client) DeleteState(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM data_source_states WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting state %s: %w", key, err)
	}
	return nil
}

func encodeList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshaling property list: %w", err)
	}
	return string(payload), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}
