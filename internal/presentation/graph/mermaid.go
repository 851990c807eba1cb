package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/view"
)

// GraphOverlay contains validation data to visualize on the graph.
type GraphOverlay struct {
	Issues   []domain.Issue
	Selected string
}

// GenerateMermaid produces a Mermaid flowchart (graph TD) of a form tree.
// Shapes follow the node type:
// - Root: ((Circle))
// - Service: [[Subroutine]], annotated with its question count
// - Group: [Rectangle]
// Nodes with issues are styled by their worst severity when an overlay is given.
func GenerateMermaid(tree *view.TreeNode, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	if tree != nil {
		writeNode(&sb, tree)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef warning fill:#fff8e1,stroke:#f9a825,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef error fill:#ffebee,stroke:#c62828,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef selected fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		worst := make(map[string]domain.Severity)
		var order []string
		for _, is := range overlay.Issues {
			id, ok := strings.CutPrefix(is.Path, "node:")
			if !ok {
				continue
			}
			prev, seen := worst[id]
			if !seen {
				order = append(order, id)
			}
			if !seen || prev != domain.SeverityError {
				worst[id] = is.Severity
			}
		}
		for _, id := range order {
			sb.WriteString(fmt.Sprintf("    class %s %s;\n", sanitizeMermaidID(id), worst[id]))
		}

		if overlay.Selected != "" {
			sb.WriteString(fmt.Sprintf("    class %s selected;\n", sanitizeMermaidID(overlay.Selected)))
		}
	}

	return sb.String()
}

func writeNode(sb *strings.Builder, n *view.TreeNode) {
	safeID := sanitizeMermaidID(n.ID)
	label := strings.ReplaceAll(n.DisplayLabel, "\"", "'")

	opener, closer := "[", "]"
	switch n.Type {
	case domain.NodeTypeRoot:
		opener, closer = "((", "))"
	case domain.NodeTypeService:
		opener, closer = "[[", "]]"
		if n.QuestionCount > 0 {
			label = fmt.Sprintf("%s <br/> %d questions", label, n.QuestionCount)
		}
	}
	sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

	for _, c := range n.Children {
		sb.WriteString(fmt.Sprintf("    %s --> %s\n", safeID, sanitizeMermaidID(c.ID)))
	}
	for _, c := range n.Children {
		writeNode(sb, c)
	}
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
