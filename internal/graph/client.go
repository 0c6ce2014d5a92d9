// Package graph reads a Neo4j database as the graph store being indexed.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"graphsync/internal/backend"
)

const (
	Vendor      = "neo4j"
	defaultPort = 7687
)

// minVersion is the oldest server with db.info() and fulltext indexes.
var minVersion = semver.MustParse("4.0.0")

type Config struct {
	URL      string
	Username string
	Password string
	Database string
}

var _ backend.Graph = (*Client)(nil)

type Client struct {
	cfg  Config
	host string
	port int

	mu     sync.RWMutex
	driver neo4j.DriverWithContext
}

func NewClient(cfg Config) (*Client, error) {
	host, port, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, host: host, port: port}, nil
}

func parseEndpoint(raw string) (string, int, error) {
	if strings.TrimSpace(raw) == "" {
		return "", 0, backend.Errorf(backend.CodeInvalidConfiguration, "graph url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, backend.Wrap(backend.CodeInvalidConfiguration, err, "invalid graph url %q", raw)
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		return "", 0, backend.Errorf(backend.CodeInvalidConfiguration, "unsupported graph url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", 0, backend.Errorf(backend.CodeInvalidConfiguration, "graph url %q has no host", raw)
	}
	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, backend.Wrap(backend.CodeInvalidConfiguration, err, "invalid graph port %q", p)
		}
	}
	return u.Hostname(), port, nil
}

func (c *Client) Vendor() string { return Vendor }
func (c *Client) Host() string   { return c.host }
func (c *Client) Port() int      { return c.port }

func (c *Client) Features() backend.GraphFeatures {
	return backend.GraphFeatures{CanCount: true, CanStream: true}
}

// Connect opens the driver, verifies connectivity and returns the server
// version.
func (c *Client) Connect(ctx context.Context) (string, error) {
	driver, err := neo4j.NewDriverWithContext(c.cfg.URL, neo4j.BasicAuth(c.cfg.Username, c.cfg.Password, ""))
	if err != nil {
		return "", backend.Wrap(backend.CodeInvalidConfiguration, err, "creating neo4j driver")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return "", classify(err, "verifying neo4j connectivity")
	}

	info, err := driver.GetServerInfo(ctx)
	if err != nil {
		_ = driver.Close(ctx)
		return "", classify(err, "getting neo4j server info")
	}
	version, err := checkVersion(info.Agent())
	if err != nil {
		_ = driver.Close(ctx)
		return "", err
	}

	c.mu.Lock()
	old := c.driver
	c.driver = driver
	c.mu.Unlock()
	if old != nil {
		_ = old.Close(ctx)
	}
	return version, nil
}

// checkVersion parses an agent string such as "Neo4j/5.12.0".
func checkVersion(agent string) (string, error) {
	raw := agent
	if _, after, ok := strings.Cut(agent, "/"); ok {
		raw = after
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		// unknown agents are allowed through
		return raw, nil
	}
	if v.LessThan(minVersion) {
		return "", backend.Errorf(backend.CodeUnsupportedVersion, "neo4j %s is not supported, %s or later is required", v, minVersion)
	}
	return v.String(), nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()
	if driver == nil {
		return nil
	}
	return driver.Close(ctx)
}

func (c *Client) CheckUp(ctx context.Context) error {
	driver, err := c.current()
	if err != nil {
		return err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return classify(err, "checking neo4j")
	}
	return nil
}

func (c *Client) current() (neo4j.DriverWithContext, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.driver == nil {
		return nil, errors.New("neo4j driver is not connected")
	}
	return c.driver, nil
}

func (c *Client) StoreID(ctx context.Context) (string, error) {
	rows, err := c.RunCypher(ctx, `CALL db.info() YIELD id RETURN id`, nil)
	if err != nil {
		return "", fmt.Errorf("getting store id: %w", err)
	}
	if len(rows) == 0 {
		return "", errors.New("getting store id: db.info() returned no rows")
	}
	id, ok := rows[0]["id"].(string)
	if !ok || id == "" {
		return "", backend.Errorf(backend.CodeBadData, "db.info() returned an invalid store id %v", rows[0]["id"])
	}
	return id, nil
}

// The count store answers both queries in constant time, so approx is ignored.
func (c *Client) NodeCount(ctx context.Context, approx bool) (int64, error) {
	return c.count(ctx, `MATCH (n) RETURN count(n) AS c`)
}

func (c *Client) EdgeCount(ctx context.Context, approx bool) (int64, error) {
	return c.count(ctx, `MATCH ()-[r]->() RETURN count(r) AS c`)
}

func (c *Client) count(ctx context.Context, query string) (int64, error) {
	rows, err := c.RunCypher(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := rows[0]["c"].(int64)
	if !ok {
		return 0, backend.Errorf(backend.CodeBadData, "count returned %T", rows[0]["c"])
	}
	return n, nil
}

func (c *Client) OnInternalIndexation(ctx context.Context) error { return nil }
func (c *Client) OnAfterIndexation(ctx context.Context) error    { return nil }

func classify(err error, action string) error {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security.") {
		return backend.Wrap(backend.CodeInvalidCredentials, err, "%s: authentication failed", action)
	}
	return fmt.Errorf("%s: %w", action, err)
}
