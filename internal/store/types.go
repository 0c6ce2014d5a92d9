package store

import (
	"time"

	"graphsync/internal/backend"
)

// DataSourceState is the durable record of one data source, keyed by the
// short key derived from host, port and store identity.
type DataSourceState struct {
	Key      string
	Info     string
	LastSeen time.Time

	Name        string
	GraphVendor string
	IndexVendor string

	IndexedDate     *time.Time
	NeedReindex     bool
	IndexationError *string

	// A nil list means "never configured"; an empty list means "configured,
	// nothing hidden".
	NoIndexNodeProperties []string
	HiddenNodeProperties  []string
	NoIndexEdgeProperties []string
	HiddenEdgeProperties  []string
}

// NeverConfigured reports whether no visibility list has ever been set.
func (s *DataSourceState) NeverConfigured() bool {
	return s.NoIndexNodeProperties == nil &&
		s.HiddenNodeProperties == nil &&
		s.NoIndexEdgeProperties == nil &&
		s.HiddenEdgeProperties == nil
}

func (s *DataSourceState) Clone() *DataSourceState {
	if s == nil {
		return nil
	}
	c := *s
	if s.IndexedDate != nil {
		d := *s.IndexedDate
		c.IndexedDate = &d
	}
	if s.IndexationError != nil {
		e := *s.IndexationError
		c.IndexationError = &e
	}
	c.NoIndexNodeProperties = cloneList(s.NoIndexNodeProperties)
	c.HiddenNodeProperties = cloneList(s.HiddenNodeProperties)
	c.NoIndexEdgeProperties = cloneList(s.NoIndexEdgeProperties)
	c.HiddenEdgeProperties = cloneList(s.HiddenEdgeProperties)
	return &c
}

func cloneList(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// TypeRow is a persisted type with its item count.
type TypeRow struct {
	ID        int64
	SourceKey string
	Kind      backend.Kind
	Name      string
	Count     int64
}

// PropertyRow is a persisted property count owned by a type row.
type PropertyRow struct {
	ID        int64
	TypeID    int64
	SourceKey string
	Key       string
	Count     int64
}
