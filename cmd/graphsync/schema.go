package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"graphsync/internal/backend"
)

func schemaCmd(configPath *string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "schema <source>",
		Short: "Print the node or edge types recorded at the last indexation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return runSchema(*configPath, args[0], k)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "node", "node or edge")
	return cmd
}

func runSchema(configPath, name string, kind backend.Kind) error {
	ctx := context.Background()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	src, err := a.source(ctx, name)
	if err != nil {
		return err
	}
	types, err := src.Schema(ctx, kind)
	if err != nil {
		return err
	}
	if len(types) == 0 {
		fmt.Fprintf(os.Stdout, "No %s types recorded for %s.\n", kind, src.Name())
		return nil
	}

	hidden := src.HiddenNodeProperties()
	if kind == backend.KindEdge {
		hidden = src.HiddenEdgeProperties()
	}
	skip := make(map[string]struct{}, len(hidden))
	for _, key := range hidden {
		skip[key] = struct{}{}
	}

	for _, t := range types {
		fmt.Fprintf(os.Stdout, "%s (%d)\n", t.Name, t.Count)
		keys := make([]string, 0, len(t.Properties))
		for key := range t.Properties {
			if _, ok := skip[key]; !ok {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(os.Stdout, "  %s: %d\n", key, t.Properties[key])
		}
	}
	return nil
}

func parseKind(raw string) (backend.Kind, error) {
	switch strings.ToLower(raw) {
	case "node", "nodes":
		return backend.KindNode, nil
	case "edge", "edges":
		return backend.KindEdge, nil
	default:
		return "", fmt.Errorf("--kind must be node or edge, got %q", raw)
	}
}
