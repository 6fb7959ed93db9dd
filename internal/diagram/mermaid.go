package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Interrupt edges render dashed; the status overlay maps to class
// definitions so a run's trail is visible in the chart.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEdgeLabel(edge))
		} else if edge.Guarded || edge.Retryable {
			label = fmt.Sprintf("|%s|", mermaidEdgeLabel(edge))
		}
		arrow := "-->"
		if edge.Interrupt {
			arrow = "-.->"
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef visited fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, node := range model.Nodes {
		if cls := mermaidStatusClass(node.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	switch node.Kind {
	case NodeKindEntry:
		return fmt.Sprintf("%s([%q])", id, node.Label)
	case NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, node.Label)
	default:
		return fmt.Sprintf("%s[%q]", id, node.Label)
	}
}

// mermaidEdgeLabel annotates the label with guard and retry markers.
func mermaidEdgeLabel(edge Edge) string {
	label := edge.Label
	var marks []string
	if edge.Guarded {
		marks = append(marks, "guarded")
	}
	if edge.Retryable {
		marks = append(marks, "checked")
	}
	if len(marks) == 0 {
		return label
	}
	suffix := strings.Join(marks, ", ")
	if label == "" {
		return suffix
	}
	return label + " (" + suffix + ")"
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidStatusClass maps a status overlay to a Mermaid class name.
// Failure wins over suspension, suspension over a plain visit.
func mermaidStatusClass(status *StatusOverlay) string {
	switch {
	case status == nil:
		return ""
	case status.Failed:
		return "failed"
	case status.Suspended:
		return "suspended"
	case status.Visited:
		return "visited"
	default:
		return ""
	}
}
