package main

import (
	"fmt"
	"os"

	"github.com/aretw0/formtree/internal/presentation/tui"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <id|file>...",
	Short: "Check forms against the validation rules",
	Long: `Runs the validation rules over each form, given as a stored form id or a
JSON/YAML file (legacy files are migrated first), and reports every issue.
Exits non-zero when any form has errors.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		profile := outputProfile(out)
		invalid := 0
		for _, arg := range args {
			ed, err := a.readEditor(cmd.Context(), arg)
			if err != nil {
				return err
			}
			res, err := ed.Validate(cmd.Context())
			ed.Close()
			if err != nil {
				return fmt.Errorf("failed to validate %s: %w", arg, err)
			}
			if len(args) > 1 {
				fmt.Fprintf(out, "%s\n", profile.String(arg).Bold())
			}
			tui.Report(out, res, profile)
			if !res.IsValid {
				invalid++
			}
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d forms are invalid", invalid, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// outputProfile colors output only when it goes to a terminal.
func outputProfile(w any) termenv.Profile {
	if f, ok := w.(*os.File); ok && tui.IsTerminal(f) {
		return termenv.EnvColorProfile()
	}
	return termenv.Ascii
}
