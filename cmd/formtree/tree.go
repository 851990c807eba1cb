package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aretw0/formtree/internal/presentation/graph"
	"github.com/aretw0/formtree/internal/presentation/outline"
	"github.com/aretw0/formtree/internal/presentation/tui"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/spf13/cobra"
)

// treeCmd represents the tree command
var treeCmd = &cobra.Command{
	Use:   "tree <id|file>",
	Short: "Print the display tree of a form",
	Long: `Prints the form as a Markdown outline (rendered when stdout is a terminal),
a Mermaid diagram (graph TD) or the display tree as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		format, _ := cmd.Flags().GetString("format")
		showIDs, _ := cmd.Flags().GetBool("ids")
		withIssues, _ := cmd.Flags().GetBool("issues")

		ed, err := a.readEditor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer ed.Close()

		var issues []domain.Issue
		if withIssues {
			res, err := ed.Validate(cmd.Context())
			if err != nil {
				return err
			}
			issues = res.Issues
		}

		out := cmd.OutOrStdout()
		tree := ed.Tree()
		switch format {
		case "markdown", "md":
			md := outline.Markdown(tree, outline.Options{
				Questions: outline.QuestionLabels(ed.State()),
				Issues:    issues,
				ShowIDs:   showIDs,
			})
			if f, ok := out.(*os.File); ok && tui.IsTerminal(f) {
				render, err := tui.NewRenderer(tui.Width(f))
				if err != nil {
					return err
				}
				if md, err = render(md); err != nil {
					return err
				}
			}
			fmt.Fprint(out, md)
		case "mermaid":
			fmt.Fprint(out, graph.GenerateMermaid(tree, &graph.GraphOverlay{Issues: issues}))
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tree)
		default:
			return fmt.Errorf("unknown format %q (supported: markdown, mermaid, json)", format)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown, mermaid or json")
	treeCmd.Flags().Bool("ids", false, "Show node ids")
	treeCmd.Flags().Bool("issues", false, "Attach validation issues to the nodes")
}
