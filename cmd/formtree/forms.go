package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var formsCmd = &cobra.Command{
	Use:     "forms",
	Aliases: []string{"session"},
	Short:   "Manage stored forms",
	Long:    `List, inspect, and remove the forms kept in the configured store.`,
}

var formsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored forms",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.manager().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list forms: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No stored forms found.")
			return nil
		}
		fmt.Fprintln(out, "Stored Forms:")
		for _, id := range ids {
			fmt.Fprintln(out, "- "+id)
		}
		return nil
	},
}

var formsInspectCmd = &cobra.Command{
	Use:   "inspect <form-id>",
	Short: "Print the stored state of a form as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.manager().Load(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load form '%s': %w", args[0], err)
		}

		// Pretty print JSON
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal form: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var formsRmCmd = &cobra.Command{
	Use:   "rm <form-id>...",
	Short: "Remove one or more forms",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		mgr := a.manager()
		if all, _ := cmd.Flags().GetBool("all"); all {
			if args, err = mgr.List(cmd.Context()); err != nil {
				return fmt.Errorf("failed to list forms: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		var errs []error
		for _, id := range args {
			if err := mgr.Delete(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(out, "Removed form '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(formsCmd)
	formsCmd.AddCommand(formsLsCmd)
	formsCmd.AddCommand(formsInspectCmd)
	formsCmd.AddCommand(formsRmCmd)
	formsRmCmd.Flags().Bool("all", false, "Remove every stored form")
}
