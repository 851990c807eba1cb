package main

import (
	"errors"
	"fmt"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/migrate"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a form read from a JSON or YAML file",
	Long: `Reads a form document, migrating the legacy flat shape (services with
inline questions) to the normalized tree, and saves it to the store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		id, _ := cmd.Flags().GetString("id")
		force, _ := cmd.Flags().GetBool("force")

		raw, err := readDocument(args[0])
		if err != nil {
			return err
		}
		state, migrated, err := migrate.Migrate(raw, migrate.WithIDGenerator(uuid.NewString))
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", args[0], err)
		}
		if id != "" {
			state.ID = id
		}
		if state.ID == "" {
			state.ID = uuid.NewString()
		}

		mgr := a.manager()
		if !force {
			_, err := mgr.Load(cmd.Context(), state.ID)
			if err == nil {
				return fmt.Errorf("form '%s' already exists (use --force to replace it)", state.ID)
			}
			if !errors.Is(err, domain.ErrFormNotFound) {
				return err
			}
		}

		state.IsDirty = false
		if err := mgr.Save(cmd.Context(), state); err != nil {
			return fmt.Errorf("failed to save form '%s': %w", state.ID, err)
		}

		out := cmd.OutOrStdout()
		if migrated {
			fmt.Fprintf(out, "Migrated legacy form: %d nodes, %d questions\n", len(state.Nodes), len(state.Questions))
		}
		fmt.Fprintf(out, "Imported form '%s'\n", state.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("id", "", "Store the form under this id instead of the one in the file")
	importCmd.Flags().Bool("force", false, "Replace an existing form with the same id")
}
