package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"graphsync/internal/backend"
)

func indexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <source>",
		Short: "Rebuild the search index of a source now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(*configPath, args[0])
		},
	}
}

func runIndex(configPath, name string) error {
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
	if err := src.IndexSource(ctx); err != nil {
		return err
	}

	search := src.SearchStatus()
	fmt.Fprintf(os.Stdout, "Indexed %s into %s.\n", src.Name(), search.IndexVendor)
	for _, kind := range []backend.Kind{backend.KindNode, backend.KindEdge} {
		types, err := src.Schema(ctx, kind)
		if err != nil {
			return err
		}
		var total int64
		for _, t := range types {
			total += t.Count
		}
		fmt.Fprintf(os.Stdout, "  %s: %d types, %d items\n", kind, len(types), total)
	}
	fmt.Fprintf(os.Stdout, "State: %s\n", src.State().Code)
	return nil
}
