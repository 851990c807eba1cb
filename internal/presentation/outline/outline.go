// Package outline renders the display tree of a form as a Markdown document.
package outline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/view"
)

// Options tune the outline.
type Options struct {
	// Questions lists question labels under each service.
	Questions map[string][]string
	// Issues are attached to the nodes they point at.
	Issues []domain.Issue
	// ShowIDs appends node ids in code spans.
	ShowIDs bool
}

// Markdown renders tree as a heading followed by a nested bullet list.
func Markdown(tree *view.TreeNode, opts Options) string {
	var sb strings.Builder
	if tree == nil {
		sb.WriteString("_empty form_\n")
		return sb.String()
	}

	byNode := make(map[string][]domain.Issue)
	var formIssues []domain.Issue
	for _, is := range opts.Issues {
		if id, ok := strings.CutPrefix(is.Path, "node:"); ok {
			byNode[id] = append(byNode[id], is)
			continue
		}
		formIssues = append(formIssues, is)
	}

	fmt.Fprintf(&sb, "# %s\n\n", escape(tree.DisplayLabel))
	for _, is := range byNode[tree.ID] {
		fmt.Fprintf(&sb, "> %s\n", issueLine(is))
	}
	for _, is := range formIssues {
		fmt.Fprintf(&sb, "> %s\n", issueLine(is))
	}
	if len(byNode[tree.ID])+len(formIssues) > 0 {
		sb.WriteString("\n")
	}

	for _, c := range tree.Children {
		writeItem(&sb, c, 0, opts, byNode)
	}
	return sb.String()
}

func writeItem(sb *strings.Builder, n *view.TreeNode, depth int, opts Options, issues map[string][]domain.Issue) {
	indent := strings.Repeat("  ", depth)
	label := escape(n.DisplayLabel)
	if n.Type == domain.NodeTypeGroup {
		label = "**" + label + "**"
	}
	fmt.Fprintf(sb, "%s- %s", indent, label)
	if n.Type == domain.NodeTypeService && n.QuestionCount > 0 {
		fmt.Fprintf(sb, " (%d %s)", n.QuestionCount, plural(n.QuestionCount, "question"))
	}
	if opts.ShowIDs {
		fmt.Fprintf(sb, " `%s`", n.ID)
	}
	sb.WriteString("\n")

	for _, is := range issues[n.ID] {
		fmt.Fprintf(sb, "%s  - %s\n", indent, issueLine(is))
	}
	for _, q := range opts.Questions[n.ID] {
		fmt.Fprintf(sb, "%s  - _%s_\n", indent, escape(q))
	}
	for _, c := range n.Children {
		writeItem(sb, c, depth+1, opts, issues)
	}
}

func issueLine(is domain.Issue) string {
	mark := "⚠️"
	if is.Severity == domain.SeverityError {
		mark = "❌"
	}
	if is.Field != "" {
		return fmt.Sprintf("%s %s: %s", mark, is.Field, escape(is.Message))
	}
	return fmt.Sprintf("%s %s", mark, escape(is.Message))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

var escaper = strings.NewReplacer(`*`, `\*`, `_`, `\_`, "`", "\\`", `#`, `\#`)

func escape(s string) string {
	return escaper.Replace(s)
}

// QuestionLabels collects the labels of each service's questions, in order.
// Questions without a label are shown by id.
func QuestionLabels(st *domain.FormState) map[string][]string {
	qs := make([]*domain.Question, 0, len(st.Questions))
	for _, q := range st.Questions {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Order != qs[j].Order {
			return qs[i].Order < qs[j].Order
		}
		return qs[i].ID < qs[j].ID
	})

	out := make(map[string][]string)
	for _, q := range qs {
		label := q.Label()
		if label == "" {
			label = q.ID
		}
		out[q.ServiceID] = append(out[q.ServiceID], label)
	}
	return out
}
