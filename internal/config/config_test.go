package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalSource = "sources:\n  - name: main\n    graph:\n      url: bolt://localhost:7687\n    index:\n      dsn: sqlite://./idx.db\n"

func TestLoadConfig(t *testing.T) {
	t.Run("valid config loads", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join("testdata", "valid_config.yaml"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(cfg.Sources) != 2 {
			t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
		}
		if cfg.Redis == nil || cfg.Redis.Queue != "graphsync:indexation" {
			t.Fatalf("expected default redis queue, got %+v", cfg.Redis)
		}
		if cfg.Defaults.ConnectDelay != 2*time.Second {
			t.Fatalf("expected connect delay override, got %s", cfg.Defaults.ConnectDelay)
		}
		if cfg.Defaults.PollInterval != 30*time.Second {
			t.Fatalf("expected default poll interval, got %s", cfg.Defaults.PollInterval)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		path := writeTempConfig(t, "version: 2\nstate:\n  dsn: sqlite://./s.db\n"+minimalSource)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("missing state dsn", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\n"+minimalSource)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("unsupported state dsn", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: mysql://localhost/db\n"+minimalSource)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("no sources", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("source missing graph url", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\nsources:\n  - name: main\n    index:\n      dsn: sqlite://./idx.db\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("sqlite index missing dsn", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\nsources:\n  - name: main\n    graph:\n      url: bolt://localhost:7687\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("unknown index vendor", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\nsources:\n  - name: main\n    graph:\n      url: bolt://localhost:7687\n    index:\n      vendor: elastic\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("duplicate source names", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\n"+minimalSource+"  - name: MAIN\n    graph:\n      url: bolt://other:7687\n    index:\n      dsn: sqlite://./b.db\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("redis without addr", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\nredis:\n  queue: q\n"+minimalSource)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTempConfig(t, "version: 1\nstate:\n  dsn: sqlite://./s.db\ndefaults:\n  poll_interval: soon\n"+minimalSource)
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeTempConfig(t, "version: [\n")
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestSourceResolution(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "valid_config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	main, ok := cfg.Source("MAIN")
	if !ok {
		t.Fatalf("expected case-insensitive lookup")
	}
	if main.ChunkSize != 250 {
		t.Fatalf("expected source chunk size, got %d", main.ChunkSize)
	}
	if main.Interval != time.Hour {
		t.Fatalf("expected interval, got %s", main.Interval)
	}
	if main.Index.Vendor != IndexVendorSQLite || main.Graph.Vendor != GraphVendorNeo4j {
		t.Fatalf("expected default vendors, got %+v / %+v", main.Index, main.Graph)
	}
	if main.ConnectDelay != 2*time.Second || main.ConnectRetries != 5 {
		t.Fatalf("expected defaults applied, got %+v", main)
	}

	ft, ok := cfg.Source("fulltext")
	if !ok {
		t.Fatalf("expected fulltext source")
	}
	if ft.ChunkSize != 500 {
		t.Fatalf("expected default chunk size, got %d", ft.ChunkSize)
	}
	if ft.Index.URL != "neo4j://graph.internal:7688" || ft.Index.Username != "reader" {
		t.Fatalf("expected fulltext index to inherit graph connection, got %+v", ft.Index)
	}
	if !ft.SkipEdges {
		t.Fatalf("expected skip_edges")
	}

	if _, ok := cfg.Source("missing"); ok {
		t.Fatalf("expected missing source")
	}

	again, _ := cfg.Source("main")
	if again != main {
		t.Fatalf("expected resolved configs to compare equal")
	}
	if len(cfg.SourceConfigs()) != 2 {
		t.Fatalf("expected 2 resolved sources")
	}
}

func TestStateDriver(t *testing.T) {
	tests := map[string]string{
		"sqlite://./state.db":         "sqlite",
		"sqlite://:memory:":           "sqlite",
		"postgres://u:p@localhost/db": "postgres",
		"postgresql://localhost/db":   "postgres",
	}
	for dsn, want := range tests {
		got, err := StateDriver(dsn)
		if err != nil || got != want {
			t.Fatalf("StateDriver(%q) = %q, %v; want %q", dsn, got, err, want)
		}
	}
}

func TestTemplateIsValid(t *testing.T) {
	path := writeTempConfig(t, Template)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("template should load: %v", err)
	}
	if _, ok := cfg.Source("main"); !ok {
		t.Fatalf("template should define main")
	}
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}
