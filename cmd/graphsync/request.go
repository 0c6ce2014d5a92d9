package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"graphsync/internal/config"
	"graphsync/internal/queue"
)

func requestCmd(configPath *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "request <source>",
		Short: "Queue an indexation for a running serve process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(*configPath, args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded with the request")
	return cmd
}

func runRequest(configPath, name, reason string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Redis == nil {
		return fmt.Errorf("queueing needs a redis section in %s", configPath)
	}
	if _, ok := cfg.Source(name); !ok {
		return fmt.Errorf("unknown data source %q", name)
	}

	q, err := queue.NewRedis(ctx, *cfg.Redis)
	if err != nil {
		return err
	}
	defer q.Close()

	req, err := queue.Enqueue(ctx, q, name, reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Queued %s (request %s).\n", name, req.ID)
	return nil
}
