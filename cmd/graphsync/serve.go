package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"graphsync/internal/backend"
	"graphsync/internal/datasource"
	"graphsync/internal/mcp"
	"graphsync/internal/queue"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const memoryQueueSize = 64

func serveCmd(configPath *string) *cobra.Command {
	var withMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect every source, run scheduled indexations and serve MCP over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, withMCP)
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", true, "Serve MCP tools over stdio")
	return cmd
}

func runServe(configPath string, withMCP bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if err := a.registry.ConnectAll(ctx); err != nil {
		a.logger.Warn("some data sources failed to connect", "error", err)
	}

	q, err := openQueue(ctx, a)
	if err != nil {
		return err
	}
	defer q.Close()

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv, err := metricsServer(addr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// connected sources poll themselves; the rest are retried here
	if interval := a.cfg.Defaults.PollInterval; interval > 0 {
		g.Go(func() error {
			reconnect(gctx, a, interval)
			return nil
		})
	}

	worker := queue.NewWorker(q, indexHandler(a), a.logger)
	g.Go(func() error { return worker.Run(gctx) })

	for _, src := range a.registry.Sources() {
		interval := src.Config().Interval
		if interval <= 0 {
			continue
		}
		g.Go(func() error {
			schedule(gctx, a, q, src.Name(), interval)
			return nil
		})
	}

	if withMCP {
		server := mcp.NewServer(mcp.FromRegistry(a.registry), func(ctx context.Context, source string) (string, error) {
			req, err := queue.Enqueue(ctx, q, source, "mcp")
			return req.ID, err
		}, version)
		g.Go(func() error {
			defer stop()
			return server.Run(gctx, &sdk.StdioTransport{})
		})
	}

	return g.Wait()
}

func openQueue(ctx context.Context, a *app) (queue.Queue, error) {
	if a.cfg.Redis == nil {
		return queue.NewMemory(memoryQueueSize), nil
	}
	return queue.NewRedis(ctx, *a.cfg.Redis)
}

func metricsServer(addr string) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := datasource.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}

func schedule(ctx context.Context, a *app, q queue.Queue, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := queue.Enqueue(ctx, q, name, "scheduled"); err != nil && ctx.Err() == nil {
				a.logger.Warn("scheduling indexation", "source", name, "error", err)
			}
		}
	}
}

func reconnect(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.registry.ReconnectOffline(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("data sources still offline", "error", err)
			}
		}
	}
}

// indexHandler runs one queued indexation. Requests for a source that is
// already indexing or connecting are dropped; an offline source is connected
// first.
func indexHandler(a *app) queue.Handler {
	return func(ctx context.Context, req queue.Request) error {
		src, ok := a.registry.Get(req.Source)
		if !ok {
			return backend.Errorf(backend.CodeInvalidConfiguration, "unknown data source %q", req.Source)
		}
		switch code := src.State().Code; code {
		case datasource.StateIndexing, datasource.StateConnecting:
			a.logger.Info("indexation request skipped", "source", src.Name(), "state", code, "request", req.ID)
			return nil
		case datasource.StateOffline:
			if err := src.Connect(ctx); err != nil {
				return fmt.Errorf("connecting %s: %w", src.Name(), err)
			}
		}
		a.logger.Info("indexation requested", "source", src.Name(), "reason", req.Reason, "request", req.ID)
		return src.IndexSource(ctx)
	}
}
