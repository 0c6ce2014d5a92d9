package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func forgetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <source>",
		Short: "Delete the stored state and schema of a source",
		Long:  "Connects to the source to learn its identity, then removes its durable record and schema rows.\nThe search index itself is left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(*configPath, args[0])
		},
	}
}

func runForget(configPath, name string) error {
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
	key := src.Key()
	if err := a.registry.Remove(ctx, src.Name(), true); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Forgot %s (%s).\n", src.Name(), key)
	return nil
}
