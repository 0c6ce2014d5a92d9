package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	GraphVendorNeo4j = "neo4j"

	IndexVendorSQLite   = "sqlite"
	IndexVendorFulltext = "neo4j-fulltext"
)

type Config struct {
	Version  int           `yaml:"version"`
	State    StateConfig   `yaml:"state"`
	Redis    *RedisConfig  `yaml:"redis"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Log      LogConfig     `yaml:"log"`
	Defaults Defaults      `yaml:"defaults"`
	Sources  []SourceEntry `yaml:"sources"`
}

type StateConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults apply to every source that does not override them.
type Defaults struct {
	ConnectRetries    int           `yaml:"connect_retries"`
	ConnectDelay      time.Duration `yaml:"connect_delay"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ChunkSize         int           `yaml:"chunk_size"`
	IndexationRetries int           `yaml:"indexation_retries"`
	IndexationDelay   time.Duration `yaml:"indexation_delay"`
	ProgressStep      float64       `yaml:"progress_step"`
	SchemaBatchSize   int           `yaml:"schema_batch_size"`
}

type SourceEntry struct {
	Name       string           `yaml:"name"`
	Graph      GraphConfig      `yaml:"graph"`
	Index      IndexConfig      `yaml:"index"`
	Indexation IndexationConfig `yaml:"indexation"`
}

type GraphConfig struct {
	Vendor   string `yaml:"vendor"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type IndexConfig struct {
	Vendor   string `yaml:"vendor"`
	DSN      string `yaml:"dsn"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type IndexationConfig struct {
	ChunkSize int           `yaml:"chunk_size"`
	SkipEdges bool          `yaml:"skip_edges"`
	Interval  time.Duration `yaml:"interval"`
}

// SourceConfig is the resolved configuration of one source. It is comparable,
// so a changed configuration is detected with ==.
type SourceConfig struct {
	Name  string
	Graph GraphConfig
	Index IndexConfig

	ChunkSize         int
	SkipEdges         bool
	Interval          time.Duration
	ConnectRetries    int
	ConnectDelay      time.Duration
	PollInterval      time.Duration
	IndexationRetries int
	IndexationDelay   time.Duration
	ProgressStep      float64
	SchemaBatchSize   int
}

func DefaultDefaults() Defaults {
	return Defaults{
		ConnectRetries:    5,
		ConnectDelay:      5 * time.Second,
		PollInterval:      30 * time.Second,
		ChunkSize:         1000,
		IndexationRetries: 5,
		IndexationDelay:   5 * time.Second,
		ProgressStep:      5,
		SchemaBatchSize:   10,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := DefaultDefaults()
	if cfg.Defaults.ConnectRetries == 0 {
		cfg.Defaults.ConnectRetries = d.ConnectRetries
	}
	if cfg.Defaults.ConnectDelay == 0 {
		cfg.Defaults.ConnectDelay = d.ConnectDelay
	}
	if cfg.Defaults.PollInterval == 0 {
		cfg.Defaults.PollInterval = d.PollInterval
	}
	if cfg.Defaults.ChunkSize == 0 {
		cfg.Defaults.ChunkSize = d.ChunkSize
	}
	if cfg.Defaults.IndexationRetries == 0 {
		cfg.Defaults.IndexationRetries = d.IndexationRetries
	}
	if cfg.Defaults.IndexationDelay == 0 {
		cfg.Defaults.IndexationDelay = d.IndexationDelay
	}
	if cfg.Defaults.ProgressStep == 0 {
		cfg.Defaults.ProgressStep = d.ProgressStep
	}
	if cfg.Defaults.SchemaBatchSize == 0 {
		cfg.Defaults.SchemaBatchSize = d.SchemaBatchSize
	}
	if cfg.Redis != nil && cfg.Redis.Queue == "" {
		cfg.Redis.Queue = "graphsync:indexation"
	}

	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Graph.Vendor == "" {
			s.Graph.Vendor = GraphVendorNeo4j
		}
		if s.Index.Vendor == "" {
			s.Index.Vendor = IndexVendorSQLite
		}
		if s.Index.Vendor == IndexVendorFulltext {
			// the fulltext index lives in the graph database itself
			if s.Index.URL == "" {
				s.Index.URL = s.Graph.URL
			}
			if s.Index.Username == "" {
				s.Index.Username = s.Graph.Username
				s.Index.Password = s.Graph.Password
			}
			if s.Index.Database == "" {
				s.Index.Database = s.Graph.Database
			}
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}
	if _, err := StateDriver(cfg.State.DSN); err != nil {
		return err
	}
	if cfg.Redis != nil && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return fmt.Errorf("redis addr is required when redis is configured")
	}
	if err := validateDefaults(cfg.Defaults); err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]struct{})
	for i, s := range cfg.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("source %d name is required", i)
		}
		key := strings.ToLower(s.Name)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate source name: %s", s.Name)
		}
		seen[key] = struct{}{}

		if s.Graph.Vendor != GraphVendorNeo4j {
			return fmt.Errorf("source %s: unsupported graph vendor %q", s.Name, s.Graph.Vendor)
		}
		if strings.TrimSpace(s.Graph.URL) == "" {
			return fmt.Errorf("source %s: graph url is required", s.Name)
		}
		switch s.Index.Vendor {
		case IndexVendorSQLite:
			if strings.TrimSpace(s.Index.DSN) == "" {
				return fmt.Errorf("source %s: index dsn is required for %s", s.Name, IndexVendorSQLite)
			}
		case IndexVendorFulltext:
		default:
			return fmt.Errorf("source %s: unsupported index vendor %q", s.Name, s.Index.Vendor)
		}
		if s.Indexation.ChunkSize < 0 {
			return fmt.Errorf("source %s: chunk_size must not be negative", s.Name)
		}
		if s.Indexation.Interval < 0 {
			return fmt.Errorf("source %s: interval must not be negative", s.Name)
		}
	}

	return nil
}

func validateDefaults(d Defaults) error {
	switch {
	case d.ConnectRetries < 0:
		return fmt.Errorf("defaults.connect_retries must not be negative")
	case d.IndexationRetries < 0:
		return fmt.Errorf("defaults.indexation_retries must not be negative")
	case d.ChunkSize < 0:
		return fmt.Errorf("defaults.chunk_size must not be negative")
	case d.ConnectDelay < 0 || d.IndexationDelay < 0 || d.PollInterval < 0:
		return fmt.Errorf("defaults durations must not be negative")
	case d.ProgressStep < 0 || d.ProgressStep > 100:
		return fmt.Errorf("defaults.progress_step must be between 0 and 100")
	case d.SchemaBatchSize < 0:
		return fmt.Errorf("defaults.schema_batch_size must not be negative")
	}
	return nil
}

// StateDriver returns "sqlite" or "postgres" for a state store DSN.
func StateDriver(dsn string) (string, error) {
	switch {
	case strings.TrimSpace(dsn) == "":
		return "", fmt.Errorf("state dsn is required")
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported state dsn %q: expected sqlite:// or postgres://", dsn)
	}
}

// Source resolves the named source with defaults applied.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if strings.EqualFold(s.Name, name) {
			return c.resolve(s), true
		}
	}
	return SourceConfig{}, false
}

// SourceConfigs resolves every configured source in file order.
func (c *Config) SourceConfigs() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, c.resolve(s))
	}
	return out
}

func (c *Config) resolve(s SourceEntry) SourceConfig {
	chunk := s.Indexation.ChunkSize
	if chunk == 0 {
		chunk = c.Defaults.ChunkSize
	}
	return SourceConfig{
		Name:              s.Name,
		Graph:             s.Graph,
		Index:             s.Index,
		ChunkSize:         chunk,
		SkipEdges:         s.Indexation.SkipEdges,
		Interval:          s.Indexation.Interval,
		ConnectRetries:    c.Defaults.ConnectRetries,
		ConnectDelay:      c.Defaults.ConnectDelay,
		PollInterval:      c.Defaults.PollInterval,
		IndexationRetries: c.Defaults.IndexationRetries,
		IndexationDelay:   c.Defaults.IndexationDelay,
		ProgressStep:      c.Defaults.ProgressStep,
		SchemaBatchSize:   c.Defaults.SchemaBatchSize,
	}
}

// Template is the file written by "graphsync init".
const Template = `version: 1

state:
  dsn: sqlite://./graphsync.db

# redis:
#   addr: localhost:6379
#   queue: graphsync:indexation

metrics:
  addr: ":9108"

log:
  level: info

defaults:
  connect_retries: 5
  connect_delay: 5s
  poll_interval: 30s
  chunk_size: 1000
  indexation_retries: 5
  indexation_delay: 5s
  progress_step: 5
  schema_batch_size: 10

sources:
  - name: main
    graph:
      vendor: neo4j
      url: bolt://localhost:7687
      username: neo4j
      password: changeme
      database: neo4j
    index:
      vendor: sqlite
      dsn: sqlite://./main-index.db
    indexation:
      chunk_size: 1000
      skip_edges: false
      interval: 0s
`
