package schema

import (
	"encoding/json"
	"fmt"
)

// NodeSpec identifies one node instance in a graph.
type NodeSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Connection is a directed data edge: one node's named output feeds another
// node's named input. Transform is an optional jq expression applied to the
// value in flight.
type Connection struct {
	SourceID     string `json:"source_id"`
	SourceOutput string `json:"source_output"`
	TargetID     string `json:"target_id"`
	TargetInput  string `json:"target_input"`
	Transform    string `json:"transform,omitempty"`

	// legacy is set when the connection was decoded from the deprecated
	// 2-element array form. Such connections are rejected by validation
	// (CON002), never silently upgraded.
	legacy bool
}

// Connect builds a fully-specified connection.
func Connect(sourceID, sourceOutput, targetID, targetInput string) Connection {
	return Connection{
		SourceID:     sourceID,
		SourceOutput: sourceOutput,
		TargetID:     targetID,
		TargetInput:  targetInput,
	}
}

// Legacy reports whether the connection was decoded from the deprecated
// 2-element array shape.
func (c Connection) Legacy() bool { return c.legacy }

// Complete reports whether all four endpoint fields are non-empty.
func (c Connection) Complete() bool {
	return !c.legacy && c.SourceID != "" && c.SourceOutput != "" && c.TargetID != "" && c.TargetInput != ""
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", c.SourceID, c.SourceOutput, c.TargetID, c.TargetInput)
}

// connectionJSON mirrors Connection for object-form decoding without
// recursing into Connection.UnmarshalJSON.
type connectionJSON struct {
	SourceID     string `json:"source_id"`
	SourceOutput string `json:"source_output"`
	TargetID     string `json:"target_id"`
	TargetInput  string `json:"target_input"`
	Transform    string `json:"transform,omitempty"`
}

// UnmarshalJSON accepts the object form and the positional array form
// [source_id, source_output, target_id, target_input]. A 2-element array is
// the legacy shape: it decodes, but is flagged for the validator.
func (c *Connection) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var fields []string
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		switch len(fields) {
		case 4:
			*c = Connect(fields[0], fields[1], fields[2], fields[3])
			return nil
		case 2:
			*c = Connection{SourceID: fields[0], TargetID: fields[1], legacy: true}
			return nil
		default:
			return fmt.Errorf("connection array must have 4 elements, got %d", len(fields))
		}
	}

	var obj connectionJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = Connection{
		SourceID:     obj.SourceID,
		SourceOutput: obj.SourceOutput,
		TargetID:     obj.TargetID,
		TargetInput:  obj.TargetInput,
		Transform:    obj.Transform,
	}
	return nil
}

// Graph is the complete unit of work handed to the engine: nodes, plain
// acyclic connections, and named cycle groups.
type Graph struct {
	Name        string       `json:"name,omitempty"`
	Nodes       []NodeSpec   `json:"nodes"`
	Connections []Connection `json:"connections,omitempty"`
	Cycles      []CycleGroup `json:"cycle_groups,omitempty"`
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{Name: name}
}

// AddNode appends a node spec. Duplicate IDs are a structural error and are
// rejected immediately rather than deferred to validation.
func (g *Graph) AddNode(id, nodeType string, config map[string]any) error {
	if id == "" {
		return NewError(ErrCodeValidation, "node id is empty")
	}
	for _, n := range g.Nodes {
		if n.ID == id {
			return NewErrorf(ErrCodeConflict, "duplicate node id: %s", id)
		}
	}
	g.Nodes = append(g.Nodes, NodeSpec{ID: id, Type: nodeType, Config: config})
	return nil
}

// Connect appends a plain (non-cycle) connection.
func (g *Graph) Connect(sourceID, sourceOutput, targetID, targetInput string) {
	g.Connections = append(g.Connections, Connect(sourceID, sourceOutput, targetID, targetInput))
}

// AddConnection appends a pre-built connection.
func (g *Graph) AddConnection(c Connection) {
	g.Connections = append(g.Connections, c)
}

// AddCycle appends a cycle group.
func (g *Graph) AddCycle(cg CycleGroup) {
	g.Cycles = append(g.Cycles, cg)
}

// Node returns the spec for the given id, or nil if absent.
func (g *Graph) Node(id string) *NodeSpec {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// HasNode reports whether a node with the given id exists.
func (g *Graph) HasNode(id string) bool {
	return g.Node(id) != nil
}
