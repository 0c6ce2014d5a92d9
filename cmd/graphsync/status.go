package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type sourceStatus struct {
	Name        string `json:"name"`
	Key         string `json:"key,omitempty"`
	State       string `json:"state"`
	Reason      string `json:"reason"`
	Error       string `json:"error,omitempty"`
	IndexVendor string `json:"index_vendor,omitempty"`
	IndexedDate string `json:"indexed_date,omitempty"`
	Indexation  string `json:"indexation_error,omitempty"`
}

func statusCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect every source and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(*configPath, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func runStatus(configPath string, asJSON bool) error {
	ctx := context.Background()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	// failures show up in the per-source state
	_ = a.registry.ConnectAll(ctx)

	var rows []sourceStatus
	for _, src := range a.registry.Sources() {
		state := src.State()
		search := src.SearchStatus()
		row := sourceStatus{
			Name:        src.Name(),
			Key:         src.Key(),
			State:       string(state.Code),
			Reason:      state.Reason,
			Error:       state.Error,
			IndexVendor: search.IndexVendor,
			Indexation:  search.Error,
		}
		if search.IndexedDate != nil {
			row.IndexedDate = search.IndexedDate.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	if asJSON {
		payload, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(payload))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tINDEX\tINDEXED\tREASON")
	for _, row := range rows {
		indexed := row.IndexedDate
		if indexed == "" {
			indexed = "never"
		}
		reason := row.Reason
		if row.Error != "" {
			reason += ": " + row.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Name, row.State, row.IndexVendor, indexed, reason)
	}
	return w.Flush()
}
