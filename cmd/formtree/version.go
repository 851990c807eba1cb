package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of formtree",
	Run: func(cmd *cobra.Command, args []string) {
		version := strings.TrimSpace(formtree.Version)
		out := cmd.OutOrStdout()
		if f, ok := out.(*os.File); ok && tui.IsTerminal(f) {
			tui.PrintBanner(out, version)
			return
		}
		fmt.Fprintf(out, "formtree version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
