//go:build integration

package neo4jft

import (
	"context"
	"sync"
	"testing"
	"time"

	"graphsync/internal/backend"
	"graphsync/internal/graph"
	"graphsync/internal/logging"
	"graphsync/internal/schema"
)

type recordingProgress struct {
	mu    sync.Mutex
	total int64
}

func (p *recordingProgress) Add(label string, count int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += count
}

func TestIndexSourceAndSchema(t *testing.T) {
	ctx := context.Background()
	cfg := graph.Config{URL: "bolt://localhost:7687", Username: "neo4j", Password: "changeme", Database: "neo4j"}

	seeder, err := graph.NewClient(cfg)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	if _, err := seeder.Connect(ctx); err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer seeder.Disconnect(ctx)
	if err := seeder.ExecCypher(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if err := seeder.ExecCypher(ctx, `CREATE (:Person {name: 'Ada'})-[:KNOWS {since: 'always'}]->(:Person {name: 'Charles', title: 'Mr'})`, nil); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	x, err := New(cfg, logging.Nop(), WithPollInterval(100*time.Millisecond))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if _, err := x.Connect(ctx); err != nil {
		t.Fatalf("connecting index: %v", err)
	}
	defer x.Disconnect(ctx)

	progress := &recordingProgress{}
	if err := x.IndexSource(ctx, progress); err != nil {
		t.Fatalf("index source: %v", err)
	}
	if progress.total != 3 {
		t.Fatalf("expected 3 items reported, got %d", progress.total)
	}

	stats, err := x.Schema(ctx, backend.KindNode, true)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var person, wildcard *backend.TypeStats
	for i := range stats {
		switch stats[i].Name {
		case "Person":
			person = &stats[i]
		case schema.AnyType:
			wildcard = &stats[i]
		}
	}
	if person == nil || person.Count != 2 || person.Properties["name"] != 2 || person.Properties["title"] != 1 {
		t.Fatalf("unexpected Person stats %+v", person)
	}
	if wildcard == nil || wildcard.Count != 2 {
		t.Fatalf("unexpected wildcard stats %+v", wildcard)
	}

	types, err := x.PropertyTypes(ctx, backend.KindNode)
	if err != nil {
		t.Fatalf("property types: %v", err)
	}
	if types["name"] != "string" {
		t.Fatalf("expected string name, got %v", types)
	}
}
