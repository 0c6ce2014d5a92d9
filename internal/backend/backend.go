// Package backend declares the contracts the synchronization core consumes:
// a graph store to read from and a search index to write to.
package backend

import (
	"context"
	"io"
)

// Kind distinguishes nodes from edges wherever both are handled alike.
type Kind string

const (
	KindNode Kind = "node"
	KindEdge Kind = "edge"
)

func (k Kind) String() string {
	return string(k)
}

// Item is a node or an edge read from the graph store. Types holds the node
// categories, or the single edge type.
type Item struct {
	ID         string
	Types      []string
	Properties map[string]any
	Source     string
	Target     string
}

// TypeStats is the aggregated view of one type: how many items carry it and
// how many of those carry each property key.
type TypeStats struct {
	Name       string
	Count      int64
	Properties map[string]int64
}

// Stream is a pull-based paged read. Next returns io.EOF once exhausted; the
// next page is only fetched when the caller asks for more items.
type Stream interface {
	Next(ctx context.Context) (Item, error)
	Close() error
}

// EOF is returned by Stream.Next at end of stream.
var EOF = io.EOF

type GraphFeatures struct {
	CanCount  bool
	CanStream bool
}

type Graph interface {
	Vendor() string
	Features() GraphFeatures
	Connect(ctx context.Context) (version string, err error)
	Disconnect(ctx context.Context) error
	CheckUp(ctx context.Context) error
	StoreID(ctx context.Context) (string, error)
	// Host and Port identify the store endpoint for the source key.
	Host() string
	Port() int
	NodeCount(ctx context.Context, approx bool) (int64, error)
	EdgeCount(ctx context.Context, approx bool) (int64, error)
	NodeStream(ctx context.Context, offset int64, chunkSize int) (Stream, error)
	EdgeStream(ctx context.Context, offset int64, chunkSize int) (Stream, error)
	OnInternalIndexation(ctx context.Context) error
	OnAfterIndexation(ctx context.Context) error
}

type IndexFeatures struct {
	// External indexes scan the store themselves; only schema is pulled back.
	External bool
	// SchemaCounts reports whether Schema returns authoritative type counts.
	SchemaCounts  bool
	CanIndexEdges bool
}

// ProgressReporter receives "items done" updates from an external index.
type ProgressReporter interface {
	Add(label string, count int64)
}

type Index interface {
	Vendor() string
	Features() IndexFeatures
	Connect(ctx context.Context) (version string, err error)
	Disconnect(ctx context.Context) error
	CheckUp(ctx context.Context) error
	Clear(ctx context.Context) error
	AddEntries(ctx context.Context, kind Kind, items []Item) error
	Commit(ctx context.Context) error
	IndexSource(ctx context.Context, progress ProgressReporter) error
	Schema(ctx context.Context, kind Kind, withProperties bool) ([]TypeStats, error)
	PropertyTypes(ctx context.Context, kind Kind) (map[string]string, error)
	OnAfterIndexation(ctx context.Context) error
}

// Hit is one full-text match.
type Hit struct {
	ID      string   `json:"id"`
	Kind    Kind     `json:"kind"`
	Types   []string `json:"types"`
	Score   float64  `json:"score"`
	Snippet string   `json:"snippet,omitempty"`
}

// Searcher is implemented by indexes that answer full-text queries. An empty
// kind searches both kinds; higher scores are better.
type Searcher interface {
	Search(ctx context.Context, query string, kind Kind, limit int) ([]Hit, error)
}
