package store

import (
	"context"
	"errors"

	"graphsync/internal/backend"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// FindOrCreateState returns the state row for key, creating it with info
	// when missing. created reports which happened.
	FindOrCreateState(ctx context.Context, key, info string) (state *DataSourceState, created bool, err error)
	GetState(ctx context.Context, key string) (*DataSourceState, error)
	UpdateState(ctx context.Context, state *DataSourceState) error
	DeleteState(ctx context.Context, key string) error

	// DeleteSchema removes property rows, then type rows, of one kind.
	DeleteSchema(ctx context.Context, sourceKey string, kind backend.Kind) error
	// SaveTypes adds the given aggregates to the persisted rows, creating type
	// rows that do not exist yet and bulk-inserting their property rows.
	SaveTypes(ctx context.Context, sourceKey string, kind backend.Kind, types []backend.TypeStats) error
	ListTypes(ctx context.Context, sourceKey string, kind backend.Kind) ([]backend.TypeStats, error)

	// WithTx runs fn in one transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(tx SchemaTx) error) error
}

// SchemaTx holds the single-row operations used by live schema edits.
type SchemaTx interface {
	FindType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*TypeRow, error)
	GetType(ctx context.Context, id int64) (*TypeRow, error)
	CreateType(ctx context.Context, sourceKey string, kind backend.Kind, name string) (*TypeRow, error)
	// AdjustTypeCount adds delta to a type count, never going below zero.
	AdjustTypeCount(ctx context.Context, typeID int64, delta int64) error
	// AdjustProperty adds delta to a property count, creating the row for a
	// positive delta and deleting it once the count reaches zero.
	AdjustProperty(ctx context.Context, sourceKey string, typeID int64, key string, delta int64) error
}
