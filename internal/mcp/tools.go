package mcp

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"graphsync/internal/backend"
	"graphsync/internal/datasource"
)

type ListSourcesInput struct{}

type SourceInput struct {
	Name string `json:"name" jsonschema:"data source name"`
}

type GetSchemaInput struct {
	Name string `json:"name" jsonschema:"data source name"`
	Kind string `json:"kind,omitempty" jsonschema:"node or edge, defaults to node"`
}

type SearchInput struct {
	Name  string `json:"name" jsonschema:"data source name"`
	Query string `json:"query" jsonschema:"search terms"`
	Kind  string `json:"kind,omitempty" jsonschema:"restrict to node or edge"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

type SourceSummaryOutput struct {
	Name   string `json:"name"`
	Key    string `json:"key,omitempty"`
	State  string `json:"state"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

type ListSourcesOutput struct {
	Sources []SourceSummaryOutput `json:"sources"`
}

type SourceStateOutput struct {
	Name            string          `json:"name"`
	Key             string          `json:"key,omitempty"`
	State           string          `json:"state"`
	Reason          string          `json:"reason"`
	Error           string          `json:"error,omitempty"`
	IndexVendor     string          `json:"index_vendor,omitempty"`
	IndexedDate     string          `json:"indexed_date,omitempty"`
	NeedReindex     bool            `json:"need_reindex"`
	IndexationError string          `json:"indexation_error,omitempty"`
	Progress        *ProgressOutput `json:"progress,omitempty"`
}

type ProgressOutput struct {
	Total      int64   `json:"total"`
	Done       int64   `json:"done"`
	Percent    float64 `json:"percent"`
	Rate       float64 `json:"rate"`
	ETASeconds float64 `json:"eta_seconds"`
}

type IndexSourceOutput struct {
	Name      string `json:"name"`
	RequestID string `json:"request_id"`
}

type TypeOutput struct {
	Name       string           `json:"name"`
	Count      int64            `json:"count"`
	Properties []PropertyOutput `json:"properties"`
}

type PropertyOutput struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type SchemaOutput struct {
	Name  string       `json:"name"`
	Kind  string       `json:"kind"`
	Types []TypeOutput `json:"types"`
}

type SearchOutput struct {
	Results []backend.Hit `json:"results"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_sources",
		Description: "List configured data sources and their state",
	}, s.handleListSources)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_source_state",
		Description: "Return the operational and search status of a data source",
	}, s.handleGetSourceState)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "index_source",
		Description: "Queue a full indexation of a data source",
	}, s.handleIndexSource)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_schema",
		Description: "Return the observed types and property counts of a data source",
	}, s.handleGetSchema)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "search",
		Description: "Full-text search over the index of a data source",
	}, s.handleSearch)
}

func (s *Server) lookup(name string) (Source, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	src, ok := s.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown data source %q", name)
	}
	return src, nil
}

func parseKind(raw string, fallback backend.Kind) (backend.Kind, error) {
	switch strings.ToLower(raw) {
	case "":
		return fallback, nil
	case "node", "nodes":
		return backend.KindNode, nil
	case "edge", "edges":
		return backend.KindEdge, nil
	default:
		return "", fmt.Errorf("kind must be node or edge, got %q", raw)
	}
}

func (s *Server) handleListSources(ctx context.Context, req *sdk.CallToolRequest, input ListSourcesInput) (*sdk.CallToolResult, ListSourcesOutput, error) {
	sources := s.catalog.List()
	output := make([]SourceSummaryOutput, 0, len(sources))
	for _, src := range sources {
		state := src.State()
		output = append(output, SourceSummaryOutput{
			Name:   src.Name(),
			Key:    src.Key(),
			State:  string(state.Code),
			Reason: state.Reason,
			Error:  state.Error,
		})
	}
	return nil, ListSourcesOutput{Sources: output}, nil
}

func (s *Server) handleGetSourceState(ctx context.Context, req *sdk.CallToolRequest, input SourceInput) (*sdk.CallToolResult, SourceStateOutput, error) {
	src, err := s.lookup(input.Name)
	if err != nil {
		return nil, SourceStateOutput{}, err
	}
	return nil, sourceStateOutput(src.Name(), src.Key(), src.State(), src.SearchStatus()), nil
}

func (s *Server) handleIndexSource(ctx context.Context, req *sdk.CallToolRequest, input SourceInput) (*sdk.CallToolResult, IndexSourceOutput, error) {
	src, err := s.lookup(input.Name)
	if err != nil {
		return nil, IndexSourceOutput{}, err
	}
	if s.request == nil {
		return nil, IndexSourceOutput{}, fmt.Errorf("indexation requests are disabled")
	}
	id, err := s.request(ctx, src.Name())
	if err != nil {
		return nil, IndexSourceOutput{}, err
	}
	return nil, IndexSourceOutput{Name: src.Name(), RequestID: id}, nil
}

func (s *Server) handleGetSchema(ctx context.Context, req *sdk.CallToolRequest, input GetSchemaInput) (*sdk.CallToolResult, SchemaOutput, error) {
	src, err := s.lookup(input.Name)
	if err != nil {
		return nil, SchemaOutput{}, err
	}
	kind, err := parseKind(input.Kind, backend.KindNode)
	if err != nil {
		return nil, SchemaOutput{}, err
	}
	types, err := src.Schema(ctx, kind)
	if err != nil {
		return nil, SchemaOutput{}, err
	}

	hidden := src.HiddenNodeProperties()
	if kind == backend.KindEdge {
		hidden = src.HiddenEdgeProperties()
	}
	return nil, schemaOutput(src.Name(), kind, types, hidden), nil
}

func (s *Server) handleSearch(ctx context.Context, req *sdk.CallToolRequest, input SearchInput) (*sdk.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	src, err := s.lookup(input.Name)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	kind, err := parseKind(input.Kind, "")
	if err != nil {
		return nil, SearchOutput{}, err
	}
	index := src.Index()
	if index == nil {
		return nil, SearchOutput{}, fmt.Errorf("data source %s is not connected", src.Name())
	}
	searcher, ok := index.(backend.Searcher)
	if !ok {
		return nil, SearchOutput{}, fmt.Errorf("index %s does not support search", index.Vendor())
	}
	hits, err := searcher.Search(ctx, input.Query, kind, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: hits}, nil
}

func schemaOutput(name string, kind backend.Kind, types []backend.TypeStats, hidden []string) SchemaOutput {
	out := SchemaOutput{Name: name, Kind: string(kind), Types: make([]TypeOutput, 0, len(types))}
	for _, t := range types {
		typeOut := TypeOutput{Name: t.Name, Count: t.Count, Properties: make([]PropertyOutput, 0, len(t.Properties))}
		for key, count := range t.Properties {
			if slices.Contains(hidden, key) {
				continue
			}
			typeOut.Properties = append(typeOut.Properties, PropertyOutput{Key: key, Count: count})
		}
		slices.SortFunc(typeOut.Properties, func(a, b PropertyOutput) int {
			return strings.Compare(a.Key, b.Key)
		})
		out.Types = append(out.Types, typeOut)
	}
	return out
}

func sourceStateOutput(name, key string, state datasource.State, status datasource.SearchStatus) SourceStateOutput {
	out := SourceStateOutput{
		Name:            name,
		Key:             key,
		State:           string(state.Code),
		Reason:          state.Reason,
		Error:           state.Error,
		IndexVendor:     status.IndexVendor,
		NeedReindex:     status.NeedReindex,
		IndexationError: status.Error,
	}
	if status.IndexedDate != nil {
		out.IndexedDate = status.IndexedDate.Format(time.RFC3339)
	}
	if p := status.Progress; p != nil {
		out.Progress = &ProgressOutput{
			Total:      p.Total,
			Done:       p.Done,
			Percent:    p.Percent,
			Rate:       p.Rate,
			ETASeconds: p.ETA.Seconds(),
		}
	}
	return out
}
