package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"graphsync/internal/datasource"
)

// visibilityFlag binds one property list flag to its setter.
type visibilityFlag struct {
	name  string
	usage string
	keys  []string
	set   func(src *datasource.Source, ctx context.Context, keys []string) error
}

func visibilityCmd(configPath *string) *cobra.Command {
	flags := []*visibilityFlag{
		{name: "hidden-node", usage: "Node properties never exposed", set: (*datasource.Source).SetHiddenNodeProperties},
		{name: "no-index-node", usage: "Node properties exposed but not searchable", set: (*datasource.Source).SetNoIndexNodeProperties},
		{name: "hidden-edge", usage: "Edge properties never exposed", set: (*datasource.Source).SetHiddenEdgeProperties},
		{name: "no-index-edge", usage: "Edge properties exposed but not searchable", set: (*datasource.Source).SetNoIndexEdgeProperties},
	}
	cmd := &cobra.Command{
		Use:   "visibility <source>",
		Short: "Show or change which properties are hidden or not indexed",
		Long: "Without flags, prints the current property lists. Each flag replaces its list;\n" +
			"pass an empty value (--hidden-node=) to clear one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var changed []*visibilityFlag
			for _, f := range flags {
				if cmd.Flags().Changed(f.name) {
					changed = append(changed, f)
				}
			}
			return runVisibility(*configPath, args[0], changed)
		},
	}
	for _, f := range flags {
		cmd.Flags().StringSliceVar(&f.keys, f.name, nil, f.usage)
	}
	return cmd
}

func runVisibility(configPath, name string, changed []*visibilityFlag) error {
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
	for _, f := range changed {
		if err := f.set(src, ctx, f.keys); err != nil {
			return fmt.Errorf("setting --%s: %w", f.name, err)
		}
	}

	fmt.Fprintf(os.Stdout, "Hidden node properties:    %s\n", joinKeys(src.HiddenNodeProperties()))
	fmt.Fprintf(os.Stdout, "Unindexed node properties: %s\n", joinKeys(src.NoIndexNodeProperties()))
	fmt.Fprintf(os.Stdout, "Hidden edge properties:    %s\n", joinKeys(src.HiddenEdgeProperties()))
	fmt.Fprintf(os.Stdout, "Unindexed edge properties: %s\n", joinKeys(src.NoIndexEdgeProperties()))
	state := src.State()
	fmt.Fprintf(os.Stdout, "State: %s (%s)\n", state.Code, state.Reason)
	return nil
}

func joinKeys(keys []string) string {
	if len(keys) == 0 {
		return "(none)"
	}
	return strings.Join(keys, ", ")
}
