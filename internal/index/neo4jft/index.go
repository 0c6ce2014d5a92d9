// Package neo4jft is the external search index: Neo4j native fulltext indexes
// populate themselves from the store, and only progress and schema are read
// back.
package neo4jft

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"graphsync/internal/backend"
	"graphsync/internal/graph"
	"graphsync/internal/logging"
	"graphsync/internal/schema"
)

const (
	Vendor = "neo4j-fulltext"

	nodeIndexName = "graphsync_nodes"
	edgeIndexName = "graphsync_edges"

	defaultPollInterval = time.Second
)

var _ backend.Index = (*Index)(nil)

type Index struct {
	client       *graph.Client
	logger       logging.Logger
	pollInterval time.Duration
	skipEdges    bool
}

type Option func(*Index)

func WithPollInterval(d time.Duration) Option {
	return func(x *Index) { x.pollInterval = d }
}

// WithoutEdges builds only the node index.
func WithoutEdges() Option {
	return func(x *Index) { x.skipEdges = true }
}

func New(cfg graph.Config, logger logging.Logger, opts ...Option) (*Index, error) {
	client, err := graph.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	x := &Index{client: client, logger: logger, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

func (x *Index) Vendor() string { return Vendor }

func (x *Index) Features() backend.IndexFeatures {
	return backend.IndexFeatures{External: true, SchemaCounts: true, CanIndexEdges: !x.skipEdges}
}

func (x *Index) Connect(ctx context.Context) (string, error) {
	return x.client.Connect(ctx)
}

func (x *Index) Disconnect(ctx context.Context) error {
	return x.client.Disconnect(ctx)
}

func (x *Index) CheckUp(ctx context.Context) error {
	return x.client.CheckUp(ctx)
}

func (x *Index) Clear(ctx context.Context) error {
	for _, name := range []string{nodeIndexName, edgeIndexName} {
		if err := x.client.ExecCypher(ctx, "DROP INDEX "+quoteName(name)+" IF EXISTS", nil); err != nil {
			return fmt.Errorf("dropping index %s: %w", name, err)
		}
	}
	return nil
}

func (x *Index) AddEntries(ctx context.Context, kind backend.Kind, items []backend.Item) error {
	return backend.Errorf(backend.CodeIllegalState, "the %s index populates itself", Vendor)
}

func (x *Index) Commit(ctx context.Context) error            { return nil }
func (x *Index) OnAfterIndexation(ctx context.Context) error { return nil }

// IndexSource (re)creates the fulltext indexes over every label, type and
// property key, then waits for population while reporting progress.
func (x *Index) IndexSource(ctx context.Context, progress backend.ProgressReporter) error {
	keys, err := x.column(ctx, `CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey AS v`)
	if err != nil {
		return err
	}
	if err := x.Clear(ctx); err != nil {
		return err
	}

	var targets []target
	labels, err := x.column(ctx, `CALL db.labels() YIELD label RETURN label AS v`)
	if err != nil {
		return err
	}
	if stmt := fulltextStatement(nodeIndexName, backend.KindNode, labels, keys); stmt != "" {
		total, err := x.client.NodeCount(ctx, true)
		if err != nil {
			return err
		}
		targets = append(targets, target{name: nodeIndexName, label: "nodes", total: total, statement: stmt})
	}
	if !x.skipEdges {
		relTypes, err := x.column(ctx, `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType AS v`)
		if err != nil {
			return err
		}
		if stmt := fulltextStatement(edgeIndexName, backend.KindEdge, relTypes, keys); stmt != "" {
			total, err := x.client.EdgeCount(ctx, true)
			if err != nil {
				return err
			}
			targets = append(targets, target{name: edgeIndexName, label: "edges", total: total, statement: stmt})
		}
	}

	for _, t := range targets {
		if err := x.client.ExecCypher(ctx, t.statement, nil); err != nil {
			return fmt.Errorf("creating index %s: %w", t.name, err)
		}
		x.logger.Info("fulltext index created", "index", t.name)
	}
	return x.await(ctx, targets, progress)
}

type target struct {
	name      string
	label     string
	total     int64
	statement string
	reported  int64
}

func (x *Index) await(ctx context.Context, targets []target, progress backend.ProgressReporter) error {
	ticker := time.NewTicker(x.pollInterval)
	defer ticker.Stop()

	for {
		done := true
		for i := range targets {
			t := &targets[i]
			rows, err := x.client.RunCypher(ctx,
				`SHOW INDEXES YIELD name, state, populationPercent WHERE name = $name RETURN state, populationPercent`,
				map[string]any{"name": t.name})
			if err != nil {
				return fmt.Errorf("reading index %s state: %w", t.name, err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("index %s disappeared during population", t.name)
			}
			state, _ := rows[0]["state"].(string)
			percent, _ := rows[0]["populationPercent"].(float64)
			if state == "FAILED" {
				return backend.Errorf(backend.CodeManualAction, "index %s failed to populate", t.name)
			}
			if state == "ONLINE" {
				percent = 100
			} else {
				done = false
			}
			if delta := populationDelta(t.total, percent, t.reported); delta > 0 {
				t.reported += delta
				progress.Add(t.label, delta)
			}
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// populationDelta converts a population percentage into items not yet
// reported.
func populationDelta(total int64, percent float64, reported int64) int64 {
	if total <= 0 {
		return 0
	}
	percent = min(max(percent, 0), 100)
	return int64(float64(total)*percent/100) - reported
}

func fulltextStatement(name string, kind backend.Kind, types, keys []string) string {
	if len(types) == 0 || len(keys) == 0 {
		return ""
	}
	quotedTypes := make([]string, len(types))
	for i, t := range types {
		quotedTypes[i] = quoteName(t)
	}
	slices.Sort(quotedTypes)
	props := make([]string, len(keys))
	for i, k := range keys {
		props[i] = "e." + quoteName(k)
	}
	slices.Sort(props)

	pattern := "(e:" + strings.Join(quotedTypes, "|") + ")"
	if kind == backend.KindEdge {
		pattern = "()-[e:" + strings.Join(quotedTypes, "|") + "]-()"
	}
	return fmt.Sprintf("CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR %s ON EACH [%s]",
		quoteName(name), pattern, strings.Join(props, ", "))
}

func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (x *Index) column(ctx context.Context, query string) ([]string, error) {
	rows, err := x.client.RunCypher(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row["v"].(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Schema counts items and property keys per label or relationship type, plus
// the wildcard row over all items of the kind.
func (x *Index) Schema(ctx context.Context, kind backend.Kind, withProperties bool) ([]backend.TypeStats, error) {
	var listQuery, countQuery, propsQuery, anyCount, anyProps string
	if kind == backend.KindEdge {
		listQuery = `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType AS v`
		countQuery = `MATCH ()-[e:%s]->() RETURN count(e) AS c`
		propsQuery = `MATCH ()-[e:%s]->() UNWIND keys(e) AS k RETURN k, count(*) AS c`
		anyCount = `MATCH ()-[e]->() RETURN count(e) AS c`
		anyProps = `MATCH ()-[e]->() UNWIND keys(e) AS k RETURN k, count(*) AS c`
	} else {
		listQuery = `CALL db.labels() YIELD label RETURN label AS v`
		countQuery = `MATCH (e:%s) RETURN count(e) AS c`
		propsQuery = `MATCH (e:%s) UNWIND keys(e) AS k RETURN k, count(*) AS c`
		anyCount = `MATCH (e) RETURN count(e) AS c`
		anyProps = `MATCH (e) UNWIND keys(e) AS k RETURN k, count(*) AS c`
	}

	names, err := x.column(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("listing %s types: %w", kind, err)
	}
	slices.Sort(names)

	stats := make([]backend.TypeStats, 0, len(names)+1)
	for _, name := range names {
		s, err := x.typeStats(ctx, name, fmt.Sprintf(countQuery, quoteName(name)), fmt.Sprintf(propsQuery, quoteName(name)), withProperties)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	s, err := x.typeStats(ctx, schema.AnyType, anyCount, anyProps, withProperties)
	if err != nil {
		return nil, err
	}
	return append(stats, s), nil
}

func (x *Index) typeStats(ctx context.Context, name, countQuery, propsQuery string, withProperties bool) (backend.TypeStats, error) {
	s := backend.TypeStats{Name: name, Properties: map[string]int64{}}
	rows, err := x.client.RunCypher(ctx, countQuery, nil)
	if err != nil {
		return s, fmt.Errorf("counting %s: %w", name, err)
	}
	if len(rows) > 0 {
		s.Count, _ = rows[0]["c"].(int64)
	}
	if !withProperties {
		return s, nil
	}
	rows, err = x.client.RunCypher(ctx, propsQuery, nil)
	if err != nil {
		return s, fmt.Errorf("counting %s properties: %w", name, err)
	}
	for _, row := range rows {
		key, _ := row["k"].(string)
		count, _ := row["c"].(int64)
		if key != "" {
			s.Properties[key] = count
		}
	}
	return s, nil
}

func (x *Index) PropertyTypes(ctx context.Context, kind backend.Kind) (map[string]string, error) {
	query := `CALL db.schema.nodeTypeProperties() YIELD propertyName, propertyTypes RETURN propertyName, propertyTypes`
	if kind == backend.KindEdge {
		query = `CALL db.schema.relTypeProperties() YIELD propertyName, propertyTypes RETURN propertyName, propertyTypes`
	}
	rows, err := x.client.RunCypher(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s property types: %w", kind, err)
	}
	types := map[string]string{}
	for _, row := range rows {
		name, _ := row["propertyName"].(string)
		if name == "" {
			continue
		}
		raw, _ := row["propertyTypes"].([]any)
		for _, t := range raw {
			typ, _ := t.(string)
			types[name] = mergeType(types[name], strings.ToLower(typ))
		}
	}
	return types, nil
}

func mergeType(current, next string) string {
	switch {
	case current == "" || current == next:
		return next
	default:
		return "mixed"
	}
}
