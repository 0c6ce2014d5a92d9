package main

import (
	"testing"

	"graphsync/internal/graph"
)

// raw queries go through the registry-connected graph store
var _ cypherRunner = (*graph.Client)(nil)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"name=Ada", "", " limit = 10 ", "expr=a=b"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["name"] != "Ada" || params["limit"] != "10" || params["expr"] != "a=b" {
		t.Fatalf("unexpected params: %#v", params)
	}

	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
	if _, err := parseParams([]string{"=x"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]string{"node": "node", "Edges": "edge", "EDGE": "edge"} {
		got, err := parseKind(raw)
		if err != nil {
			t.Fatalf("parseKind(%q): %v", raw, err)
		}
		if string(got) != want {
			t.Fatalf("parseKind(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := parseKind("vertex"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRunInitRefusesExistingFile(t *testing.T) {
	path := t.TempDir() + "/graphsync.yaml"
	if err := runInit(path); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if err := runInit(path); err == nil {
		t.Fatalf("expected error when the file exists")
	}
}
