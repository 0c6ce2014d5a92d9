// Package schema aggregates per-type item and property counts for a data
// source and persists them to the state store, either in bulk during a full
// indexation or one item at a time for live edits.
package schema

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"graphsync/internal/backend"
	"graphsync/internal/logging"
	"graphsync/internal/store"
)

const (
	DefaultBatchSize = 10
	typeIDCacheSize  = 1024
)

type entry struct {
	count      int64
	properties map[string]int64
}

type Builder struct {
	store     store.Store
	sourceKey string
	logger    logging.Logger
	batchSize int

	mu     sync.Mutex
	frozen bool
	types  map[backend.Kind]map[string]*entry

	// one live edit per kind at a time
	locks map[backend.Kind]chan struct{}
	ids   *lru.Cache[string, int64]
}

func New(st store.Store, sourceKey string, logger logging.Logger, batchSize int) *Builder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ids, _ := lru.New[string, int64](typeIDCacheSize)
	return &Builder{
		store:     st,
		sourceKey: sourceKey,
		logger:    logger,
		batchSize: batchSize,
		types: map[backend.Kind]map[string]*entry{
			backend.KindNode: {},
			backend.KindEdge: {},
		},
		locks: map[backend.Kind]chan struct{}{
			backend.KindNode: make(chan struct{}, 1),
			backend.KindEdge: make(chan struct{}, 1),
		},
		ids: ids,
	}
}

// Init drops the in-memory aggregates and sets the freeze flag.
func (b *Builder) Init(freeze bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = freeze
	for kind := range b.types {
		b.types[kind] = map[string]*entry{}
	}
	b.ids.Purge()
}

func (b *Builder) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

func (b *Builder) IngestNodes(items []backend.Item) { b.ingest(backend.KindNode, items...) }
func (b *Builder) IngestEdges(items []backend.Item) { b.ingest(backend.KindEdge, items...) }
func (b *Builder) IngestNode(item backend.Item)     { b.ingest(backend.KindNode, item) }
func (b *Builder) IngestEdge(item backend.Item)     { b.ingest(backend.KindEdge, item) }

func (b *Builder) ingest(kind backend.Kind, items ...backend.Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := b.types[kind]
	for _, item := range items {
		for _, name := range TypeNames(item) {
			e := types[name]
			if e == nil {
				e = &entry{properties: map[string]int64{}}
				types[name] = e
			}
			e.count++
			for key := range item.Properties {
				e.properties[key]++
			}
		}
	}
}

// IngestTypes merges precomputed aggregates, typically read back from an
// external index. Freeze does not apply.
func (b *Builder) IngestTypes(kind backend.Kind, stats []backend.TypeStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := b.types[kind]
	for _, s := range stats {
		e := types[s.Name]
		if e == nil {
			e = &entry{properties: map[string]int64{}}
			types[s.Name] = e
		}
		e.count += s.Count
		for key, count := range s.Properties {
			e.properties[key] += count
		}
	}
}

// Pending returns the in-memory aggregates not yet saved, sorted by name.
func (b *Builder) Pending(kind backend.Kind) []backend.TypeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return snapshot(b.types[kind])
}

func snapshot(types map[string]*entry) []backend.TypeStats {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]backend.TypeStats, 0, len(names))
	for _, name := range names {
		e := types[name]
		props := make(map[string]int64, len(e.properties))
		for key, count := range e.properties {
			props[key] = count
		}
		out = append(out, backend.TypeStats{Name: name, Count: e.count, Properties: props})
	}
	return out
}

// SaveSchema writes the in-memory aggregates of both kinds to the store in
// batches, then clears them.
func (b *Builder) SaveSchema(ctx context.Context) error {
	b.mu.Lock()
	pending := map[backend.Kind][]backend.TypeStats{
		backend.KindNode: snapshot(b.types[backend.KindNode]),
		backend.KindEdge: snapshot(b.types[backend.KindEdge]),
	}
	b.mu.Unlock()

	for _, kind := range []backend.Kind{backend.KindNode, backend.KindEdge} {
		stats := pending[kind]
		for start := 0; start < len(stats); start += b.batchSize {
			end := min(start+b.batchSize, len(stats))
			if err := b.store.SaveTypes(ctx, b.sourceKey, kind, stats[start:end]); err != nil {
				return fmt.Errorf("saving %s schema: %w", kind, err)
			}
		}
		b.logger.Debug("schema saved", "source", b.sourceKey, "kind", kind, "types", len(stats))
	}

	b.mu.Lock()
	for kind := range b.types {
		b.types[kind] = map[string]*entry{}
	}
	b.mu.Unlock()
	return nil
}

// DeleteSchema removes the persisted schema of both kinds.
func (b *Builder) DeleteSchema(ctx context.Context) error {
	for _, kind := range []backend.Kind{backend.KindNode, backend.KindEdge} {
		if err := b.store.DeleteSchema(ctx, b.sourceKey, kind); err != nil {
			return fmt.Errorf("deleting %s schema: %w", kind, err)
		}
	}
	b.ids.Purge()
	return nil
}

// Schema returns the persisted types of one kind.
func (b *Builder) Schema(ctx context.Context, kind backend.Kind) ([]backend.TypeStats, error) {
	return b.store.ListTypes(ctx, b.sourceKey, kind)
}

func (b *Builder) NodeCreation(ctx context.Context, item backend.Item) error {
	return b.edit(ctx, backend.KindNode, nil, &item)
}

func (b *Builder) NodeDeletion(ctx context.Context, item backend.Item) error {
	return b.edit(ctx, backend.KindNode, &item, nil)
}

func (b *Builder) NodeUpdate(ctx context.Context, before, after backend.Item) error {
	return b.edit(ctx, backend.KindNode, &before, &after)
}

func (b *Builder) EdgeCreation(ctx context.Context, item backend.Item) error {
	return b.edit(ctx, backend.KindEdge, nil, &item)
}

func (b *Builder) EdgeDeletion(ctx context.Context, item backend.Item) error {
	return b.edit(ctx, backend.KindEdge, &item, nil)
}

func (b *Builder) EdgeUpdate(ctx context.Context, before, after backend.Item) error {
	return b.edit(ctx, backend.KindEdge, &before, &after)
}

// change is the effect of a live edit on one persisted type.
type change struct {
	name       string
	count      int64
	properties map[string]int64
}

// changes computes per-type deltas. An update that keeps the type set only
// touches the properties that differ; otherwise it is a deletion of before
// followed by a creation of after.
func changes(before, after *backend.Item) []change {
	var out []change
	if before != nil && after != nil {
		oldNames, newNames := TypeNames(*before), TypeNames(*after)
		if slices.Equal(oldNames, newNames) {
			props := map[string]int64{}
			for key := range after.Properties {
				if _, ok := before.Properties[key]; !ok {
					props[key]++
				}
			}
			for key := range before.Properties {
				if _, ok := after.Properties[key]; !ok {
					props[key]--
				}
			}
			if len(props) == 0 {
				return nil
			}
			for _, name := range newNames {
				out = append(out, change{name: name, properties: props})
			}
			return out
		}
	}
	if before != nil {
		out = append(out, itemChanges(*before, -1)...)
	}
	if after != nil {
		out = append(out, itemChanges(*after, 1)...)
	}
	return out
}

func itemChanges(item backend.Item, sign int64) []change {
	props := make(map[string]int64, len(item.Properties))
	for key := range item.Properties {
		props[key] = sign
	}
	names := TypeNames(item)
	out := make([]change, 0, len(names))
	for _, name := range names {
		out = append(out, change{name: name, count: sign, properties: props})
	}
	return out
}

func (b *Builder) edit(ctx context.Context, kind backend.Kind, before, after *backend.Item) error {
	deltas := changes(before, after)
	if len(deltas) == 0 {
		return nil
	}

	lock := b.locks[kind]
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	frozen := b.Frozen()
	resolved := map[string]int64{}
	err := b.store.WithTx(ctx, func(tx store.SchemaTx) error {
		for _, d := range deltas {
			typeID, ok, err := b.resolveType(ctx, tx, kind, d, frozen, resolved)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if d.count != 0 && !frozen {
				if err := tx.AdjustTypeCount(ctx, typeID, d.count); err != nil {
					return err
				}
			}
			keys := make([]string, 0, len(d.properties))
			for key := range d.properties {
				keys = append(keys, key)
			}
			slices.Sort(keys)
			for _, key := range keys {
				if err := tx.AdjustProperty(ctx, b.sourceKey, typeID, key, d.properties[key]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating %s schema: %w", kind, err)
	}

	for name, id := range resolved {
		b.ids.Add(cacheKey(kind, name), id)
	}
	return nil
}

// resolveType finds the persisted row for a change. Missing rows are created
// for positive changes unless the builder is frozen; ok is false when the
// change has nothing to apply to.
func (b *Builder) resolveType(ctx context.Context, tx store.SchemaTx, kind backend.Kind, d change, frozen bool, resolved map[string]int64) (int64, bool, error) {
	if id, ok := resolved[d.name]; ok {
		return id, true, nil
	}
	if id, ok := b.ids.Get(cacheKey(kind, d.name)); ok {
		return id, true, nil
	}

	row, err := tx.FindType(ctx, b.sourceKey, kind, d.name)
	if err == nil {
		resolved[d.name] = row.ID
		return row.ID, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, err
	}

	if frozen || d.count <= 0 {
		b.logger.Debug("skipping schema change for unknown type", "source", b.sourceKey, "kind", kind, "type", d.name)
		return 0, false, nil
	}
	row, err = tx.CreateType(ctx, b.sourceKey, kind, d.name)
	if err != nil {
		return 0, false, err
	}
	resolved[d.name] = row.ID
	return row.ID, true, nil
}

func cacheKey(kind backend.Kind, name string) string {
	return string(kind) + "\x00" + name
}
