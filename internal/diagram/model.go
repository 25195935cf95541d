// Package diagram renders workflow graphs as ASCII art or Mermaid
// flowcharts, optionally overlaid with the statuses of a finished run.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindNode  NodeKind = "node"
	NodeKindCycle NodeKind = "cycle"
)

// Model is the intermediate representation used by all renderers. Levels
// holds the wave layout: node ids grouped by execution depth.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents one box in the diagram: a graph node, or a whole cycle
// group rendered as a single looping block.
type Node struct {
	ID      string
	Label   string
	Kind    NodeKind
	Members []string // cycle groups only
	Status  *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge represents a connection between two diagram nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
