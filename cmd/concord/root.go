package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/concord/internal/config"
	"github.com/aretw0/concord/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Concord keeps collaborative analysis sessions in sync",
	Long: `Concord is a real-time synchronization server for shared analysis sessions.
It merges concurrent edits to analysis parameters, queries and visualizations,
tracks participant presence and pushes every change to connected clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		level, err := logging.ParseLevel(loaded.Log.Level)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.NewWithFormat(os.Stderr, level, cfg.Log.Format)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
}
