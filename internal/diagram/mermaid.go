package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart. Cycle groups become
// subgraphs with a self-referencing loop edge; run statuses map to style
// classes.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		if node.Kind == NodeKindCycle {
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n",
				mermaidSafeID(node.ID), firstLine(node.Label)))
			for _, m := range node.Members {
				b.WriteString(fmt.Sprintf("        %s[\"%s\"]\n", mermaidSafeID(node.ID+"_"+m), m))
			}
			for i := 0; i+1 < len(node.Members); i++ {
				b.WriteString(fmt.Sprintf("        %s --> %s\n",
					mermaidSafeID(node.ID+"_"+node.Members[i]),
					mermaidSafeID(node.ID+"_"+node.Members[i+1])))
			}
			if n := len(node.Members); n > 1 {
				b.WriteString(fmt.Sprintf("        %s -.->|loop| %s\n",
					mermaidSafeID(node.ID+"_"+node.Members[n-1]),
					mermaidSafeID(node.ID+"_"+node.Members[0])))
			}
			b.WriteString("    end\n")
			continue
		}
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if class := mermaidClass(node.Status.Status); class != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), class))
		}
	}

	return b.String()
}

func mermaidNodeDef(node *Node) string {
	return fmt.Sprintf("%s[\"%s\"]", mermaidSafeID(node.ID), firstLine(node.Label))
}

func mermaidClass(status string) string {
	switch status {
	case "succeeded", "failed", "running":
		return status
	case "skipped_due_to_dependency_failure":
		return "skipped"
	default:
		return ""
	}
}

// mermaidSafeID strips characters Mermaid cannot digest from node ids.
func mermaidSafeID(id string) string {
	return sanitizeID(id)
}
