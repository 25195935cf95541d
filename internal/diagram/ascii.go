package diagram

import (
	"fmt"
	"strings"

	"github.com/weftflow/weft/pkg/schema"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case string(schema.NodeStatusSucceeded):
		return "[OK]"
	case string(schema.NodeStatusFailed):
		return "[FAIL]"
	case string(schema.NodeStatusRunning):
		return "[RUN]"
	case string(schema.NodeStatusSkipped):
		return "[SKIP]"
	case string(schema.NodeStatusPending):
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as a text-based diagram: one row of boxes per
// wave, top to bottom, with cycle groups drawn as a single looping block.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nconnections:\n")
		for _, e := range model.Edges {
			if e.Label != "" {
				b.WriteString(fmt.Sprintf("  %s ─→ %s (%s)\n", e.From, e.To, e.Label))
			} else {
				b.WriteString(fmt.Sprintf("  %s ─→ %s\n", e.From, e.To))
			}
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a diagram node. Cycle blocks get a loop
// marker and their member list.
func makeBox(node *Node) asciiBox {
	var contentLines []string

	label := firstLine(node.Label)
	if node.Kind == NodeKindCycle {
		label = "⟳ " + label
	}
	contentLines = append(contentLines, label)

	if rest := restLines(node.Label); rest != "" {
		contentLines = append(contentLines, rest)
	}
	if node.Kind == NodeKindCycle && len(node.Members) > 0 {
		contentLines = append(contentLines, strings.Join(node.Members, " → "))
	}

	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	lines = append(lines, top)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// restLines returns everything after the first line.
func restLines(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ") // gap between boxes
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between waves.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
