// Package cmd defines the tickd CLI.
package cmd

import (
	"github.com/ralphlabs/tickd/internal/config"
	"github.com/ralphlabs/tickd/internal/server"
	"github.com/spf13/cobra"
)

var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "tickd",
	Short: "Local ticket-tracking server for AI coding assistants",
	Long: `tickd tracks tickets, review findings, work sessions, and conversation
logs for AI coding assistants, served over MCP stdio.

State lives in a per-user SQLite database under ~/.tickd. Concurrent
access is guarded by an advisory PID lock; the database's WAL journaling
is what actually serializes writers.`,
	Version:       server.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"state directory (default: ~/"+config.DataDirName+")")
}

// resolveDataDir returns the flag override or the default per-user dir.
func resolveDataDir() (string, error) {
	if dataDirFlag != "" {
		return dataDirFlag, nil
	}
	return config.DataDir()
}
