package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/formtree/internal/presentation/outline"
	loamadapter "github.com/aretw0/formtree/pkg/adapters/loam"
	"github.com/aretw0/formtree/pkg/store"
	"github.com/aretw0/formtree/pkg/view"
	"github.com/spf13/cobra"
)

var errNoTemplates = errors.New("no template directory configured (use --templates or templates: in the config)")

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Browse the form template library",
}

var templatesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the available templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		loader, err := a.templates()
		if err != nil {
			return err
		}
		if loader == nil {
			return errNoTemplates
		}
		names, err := loader.ListTemplates(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	},
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a template as an outline",
	Long:  `Prints the named template as a Markdown outline. With --watch, reprints it whenever the library changes.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		loader, err := a.templates()
		if err != nil {
			return err
		}
		if loader == nil {
			return errNoTemplates
		}

		out := cmd.OutOrStdout()
		if err := showTemplate(cmd, loader, args[0], out); err != nil {
			return err
		}
		if watch, _ := cmd.Flags().GetBool("watch"); !watch {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		changes, err := loader.Watch(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("watching templates", "dir", a.cfg.Templates)
		for range changes {
			fmt.Fprintln(out)
			if err := showTemplate(cmd, loader, args[0], out); err != nil {
				// Keep watching through half-written files.
				a.logger.Warn("failed to reload template", "name", args[0], "error", err)
			}
		}
		return nil
	},
}

func showTemplate(cmd *cobra.Command, loader *loamadapter.Loader, name string, out io.Writer) error {
	form, err := loader.LoadTemplate(cmd.Context(), name)
	if err != nil {
		return err
	}
	tree := view.New(store.New(form)).Tree()
	fmt.Fprint(out, outline.Markdown(tree, outline.Options{Questions: outline.QuestionLabels(form)}))
	return nil
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesLsCmd)
	templatesCmd.AddCommand(templatesShowCmd)
	templatesShowCmd.Flags().BoolP("watch", "w", false, "Reprint the template when the library changes")
}
