package main

import (
	"fmt"
	"os"

	"github.com/aretw0/formtree/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "formtree",
	Short: "formtree edits booking forms as trees of groups, services and questions",
	Long: `formtree stores booking forms as normalized trees and edits them through
an undo/redo command history, over HTTP, MCP or the command line.`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log at debug level")
	rootCmd.PersistentFlags().String("store", "", "Override the store driver: memory, file, redis or sqlite")
	rootCmd.PersistentFlags().String("templates", "", "Directory of form templates")
}
