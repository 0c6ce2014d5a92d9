package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"graphsync/internal/backend"
	"graphsync/internal/datasource"
)

// Source is what the tools read from one data source.
type Source interface {
	Name() string
	Key() string
	State() datasource.State
	SearchStatus() datasource.SearchStatus
	Schema(ctx context.Context, kind backend.Kind) ([]backend.TypeStats, error)
	HiddenNodeProperties() []string
	HiddenEdgeProperties() []string
	Index() backend.Index
}

type Catalog interface {
	List() []Source
	Lookup(name string) (Source, bool)
}

// Requester queues an indexation of the named source and returns the
// request id.
type Requester func(ctx context.Context, source string) (string, error)

type Server struct {
	catalog Catalog
	request Requester
	mcp     *sdk.Server
}

func NewServer(catalog Catalog, request Requester, version string) *Server {
	s := &Server{
		catalog: catalog,
		request: request,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "graphsync",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}

// FromRegistry exposes a registry as a Catalog.
func FromRegistry(r *datasource.Registry) Catalog {
	return registryCatalog{r}
}

type registryCatalog struct {
	r *datasource.Registry
}

func (c registryCatalog) List() []Source {
	sources := c.r.Sources()
	out := make([]Source, 0, len(sources))
	for _, src := range sources {
		out = append(out, src)
	}
	return out
}

func (c registryCatalog) Lookup(name string) (Source, bool) {
	src, ok := c.r.Get(name)
	if !ok {
		return nil, false
	}
	return src, true
}
