package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "graphsync.yaml"

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "graphsync",
		Short:        "Keep graph databases mirrored into search indexes",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(indexCmd(&configPath))
	root.AddCommand(requestCmd(&configPath))
	root.AddCommand(visibilityCmd(&configPath))
	root.AddCommand(schemaCmd(&configPath))
	root.AddCommand(searchCmd(&configPath))
	root.AddCommand(cypherCmd(&configPath))
	root.AddCommand(forgetCmd(&configPath))
	root.AddCommand(initCmd(&configPath))
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
