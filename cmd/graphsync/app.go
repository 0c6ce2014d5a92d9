package main

import (
	"context"
	"fmt"

	"graphsync/internal/backend"
	"graphsync/internal/config"
	"graphsync/internal/datasource"
	"graphsync/internal/graph"
	"graphsync/internal/index/neo4jft"
	indexsqlite "graphsync/internal/index/sqlite"
	"graphsync/internal/logging"
	"graphsync/internal/store"
	"graphsync/internal/store/postgres"
	"graphsync/internal/store/sqlite"
)

// app holds what every command that touches sources needs.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	store    store.Store
	registry *datasource.Registry
}

func openApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.ParseLevel(cfg.Log.Level))

	st, err := openStore(ctx, cfg.State.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	registry, err := datasource.NewRegistryFromConfig(cfg, st, drivers(logger), logger)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st, registry: registry}, nil
}

func (a *app) close(ctx context.Context) {
	a.registry.Close(ctx)
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("closing state store", "error", err)
	}
}

// source connects the named source and waits for the attempt to settle.
func (a *app) source(ctx context.Context, name string) (*datasource.Source, error) {
	src, ok := a.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown data source %q", name)
	}
	if err := src.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting %s: %w", src.Name(), err)
	}
	return src, nil
}

func openStore(ctx context.Context, dsn string) (store.Store, error) {
	driver, err := config.StateDriver(dsn)
	if err != nil {
		return nil, err
	}
	if driver == "postgres" {
		return postgres.New(ctx, dsn)
	}
	return sqlite.New(ctx, dsn)
}

func graphConfig(c config.GraphConfig) graph.Config {
	return graph.Config{URL: c.URL, Username: c.Username, Password: c.Password, Database: c.Database}
}

func drivers(logger logging.Logger) datasource.Drivers {
	return datasource.Drivers{
		Graph: func(cfg config.SourceConfig) (backend.Graph, error) {
			if cfg.Graph.Vendor != config.GraphVendorNeo4j {
				return nil, backend.Errorf(backend.CodeInvalidConfiguration, "unsupported graph vendor %q", cfg.Graph.Vendor)
			}
			return graph.NewClient(graphConfig(cfg.Graph))
		},
		Index: func(cfg config.SourceConfig) (backend.Index, error) {
			switch cfg.Index.Vendor {
			case config.IndexVendorSQLite:
				return indexsqlite.New(cfg.Index.DSN)
			case config.IndexVendorFulltext:
				var opts []neo4jft.Option
				if cfg.SkipEdges {
					opts = append(opts, neo4jft.WithoutEdges())
				}
				return neo4jft.New(graph.Config{
					URL:      cfg.Index.URL,
					Username: cfg.Index.Username,
					Password: cfg.Index.Password,
					Database: cfg.Index.Database,
				}, logger, opts...)
			default:
				return nil, backend.Errorf(backend.CodeInvalidConfiguration, "unsupported index vendor %q", cfg.Index.Vendor)
			}
		},
	}
}
