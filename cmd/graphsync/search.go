package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"graphsync/internal/backend"
)

func searchCmd(configPath *string) *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <source> <query>",
		Short: "Run a full-text query against the index of a source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			return runSearch(*configPath, args[0], strings.Join(args[1:], " "), k, limit)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "node", "node or edge")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

func runSearch(configPath, name, query string, kind backend.Kind, limit int) error {
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
	searcher, ok := src.Index().(backend.Searcher)
	if !ok {
		return fmt.Errorf("the index of %s does not support search", src.Name())
	}
	hits, err := searcher.Search(ctx, query, kind, limit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(os.Stdout, "No results.")
		return nil
	}
	for _, hit := range hits {
		fmt.Fprintf(os.Stdout, "%s [%s] %.3f\n", hit.ID, strings.Join(hit.Types, ", "), hit.Score)
		if hit.Snippet != "" {
			fmt.Fprintf(os.Stdout, "  %s\n", hit.Snippet)
		}
	}
	return nil
}
