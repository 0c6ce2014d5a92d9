package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// cypherRunner is implemented by graph stores that accept raw Cypher.
type cypherRunner interface {
	RunCypher(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

func cypherCmd(configPath *string) *cobra.Command {
	var paramPairs []string
	cmd := &cobra.Command{
		Use:   "cypher <source> <query>",
		Short: "Execute a raw Cypher query against the graph of a source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramPairs)
			if err != nil {
				return err
			}
			return runCypher(*configPath, args[0], strings.Join(args[1:], " "), params)
		},
	}
	cmd.Flags().StringArrayVar(&paramPairs, "param", nil, "Query parameter as key=value (repeatable)")
	return cmd
}

func runCypher(configPath, name, query string, params map[string]any) error {
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
	runner, ok := src.Graph().(cypherRunner)
	if !ok {
		return fmt.Errorf("the graph of %s does not accept Cypher", src.Name())
	}
	rows, err := runner.RunCypher(ctx, query, params)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(payload))
	return nil
}

// parseParams turns key=value pairs into query parameters. Values stay strings.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid param %q: expected key=value", pair)
		}
		if key = strings.TrimSpace(key); key == "" {
			return nil, fmt.Errorf("invalid param %q: empty key", pair)
		}
		params[key] = strings.TrimSpace(value)
	}
	return params, nil
}
