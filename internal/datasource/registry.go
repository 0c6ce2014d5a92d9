package datasource

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/logging"
	"graphsync/internal/store"
)

// Registry owns every configured source and makes sure no two of them
// resolve to the same graph database.
type Registry struct {
	logger  logging.Logger
	store   store.Store
	drivers Drivers

	sources *xsync.MapOf[string, *Source]
	// source key -> owning source name
	owners *xsync.MapOf[string, string]
}

func NewRegistry(st store.Store, drivers Drivers, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		logger:  logger,
		store:   st,
		drivers: drivers,
		sources: xsync.NewMapOf[string, *Source](),
		owners:  xsync.NewMapOf[string, string](),
	}
}

// NewRegistryFromConfig registers every source of cfg.
func NewRegistryFromConfig(cfg *config.Config, st store.Store, drivers Drivers, logger logging.Logger) (*Registry, error) {
	r := NewRegistry(st, drivers, logger)
	for _, sc := range cfg.SourceConfigs() {
		if _, err := r.Add(sc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(cfg config.SourceConfig) (*Source, error) {
	s := New(cfg, r.store, r.drivers, r.logger)
	s.claims = r
	if _, loaded := r.sources.LoadOrStore(strings.ToLower(cfg.Name), s); loaded {
		s.Destroy(context.Background())
		return nil, backend.Errorf(backend.CodeInvalidConfiguration, "data source %q is already registered", cfg.Name)
	}
	return s, nil
}

func (r *Registry) Get(name string) (*Source, bool) {
	return r.sources.Load(strings.ToLower(name))
}

// ByKey resolves a source by its persistence key.
func (r *Registry) ByKey(key string) (*Source, bool) {
	name, ok := r.owners.Load(key)
	if !ok {
		return nil, false
	}
	return r.Get(name)
}

// Sources returns every source ordered by name.
func (r *Registry) Sources() []*Source {
	var out []*Source
	r.sources.Range(func(_ string, s *Source) bool {
		out = append(out, s)
		return true
	})
	slices.SortFunc(out, func(a, b *Source) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
	return out
}

// ConnectAll connects every source concurrently. One failure does not stop
// the others; all failures are returned joined.
func (r *Registry) ConnectAll(ctx context.Context) error {
	return r.connect(ctx, r.Sources())
}

// ReconnectOffline connects again every source that is offline and not
// already connecting. Polling only watches sources that connected once, so
// this is what brings back a source whose first connect failed.
func (r *Registry) ReconnectOffline(ctx context.Context) error {
	var offline []*Source
	for _, s := range r.Sources() {
		if s.State().Code == StateOffline {
			offline = append(offline, s)
		}
	}
	return r.connect(ctx, offline)
}

func (r *Registry) connect(ctx context.Context, sources []*Source) error {
	errs := make([]error, len(sources))
	var g errgroup.Group
	for i, s := range sources {
		g.Go(func() error {
			if err := s.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("connecting %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Remove destroys a source. With purge, its durable record and schema rows
// are deleted as well.
func (r *Registry) Remove(ctx context.Context, name string, purge bool) error {
	s, ok := r.sources.LoadAndDelete(strings.ToLower(name))
	if !ok {
		return backend.Errorf(backend.CodeInvalidConfiguration, "unknown data source %q", name)
	}
	key := s.Key()
	s.Destroy(ctx)
	if !purge || key == "" {
		return nil
	}

	for _, kind := range []backend.Kind{backend.KindNode, backend.KindEdge} {
		if err := r.store.DeleteSchema(ctx, key, kind); err != nil {
			return fmt.Errorf("purging %s: %w", name, err)
		}
	}
	if err := r.store.DeleteState(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("purging %s: %w", name, err)
	}
	r.logger.Info("data source purged", "source", name, "key", key)
	return nil
}

// Close destroys every source.
func (r *Registry) Close(ctx context.Context) {
	for _, s := range r.Sources() {
		s.Destroy(ctx)
	}
}

func (r *Registry) claim(key, name string) error {
	owner, loaded := r.owners.LoadOrStore(key, name)
	if loaded && owner != name {
		return backend.Errorf(backend.CodeSourceConflict,
			"data source %s points to the same graph database as %s", name, owner)
	}
	return nil
}

func (r *Registry) release(key, name string) {
	r.owners.Compute(key, func(owner string, loaded bool) (string, bool) {
		return owner, !loaded || owner == name
	})
}
