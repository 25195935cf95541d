package engine

import (
	"sync"
	"time"

	"github.com/weftflow/weft/pkg/schema"
)

// NodeOutcome is the in-memory record of one node's execution.
type NodeOutcome struct {
	NodeID     string            `json:"node_id"`
	Status     schema.NodeStatus `json:"status"`
	Output     map[string]any    `json:"output,omitempty"`
	Err        *schema.WeftError `json:"error,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// Result is the outcome of one graph execution.
type Result struct {
	RunID     string                  `json:"run_id"`
	GraphName string                  `json:"graph_name,omitempty"`
	Status    schema.RunStatus        `json:"status"`
	Nodes     map[string]*NodeOutcome `json:"nodes"`
	StartedAt time.Time               `json:"started_at"`
	EndedAt   time.Time               `json:"ended_at"`
}

// Outputs returns node id -> output bag for every node that produced one.
func (r *Result) Outputs() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.Nodes))
	for id, n := range r.Nodes {
		if n.Output != nil {
			out[id] = n.Output
		}
	}
	return out
}

// runState carries the mutable state of one in-flight execution. The engine
// is the single writer: node goroutines mutate it only through these locked
// methods.
type runState struct {
	mu      sync.Mutex
	graph   *schema.Graph
	plan    *Plan
	params  map[string]any
	inbound map[string][]schema.Connection    // target node id -> plain inbound
	pending map[string]map[string]any         // node id -> delivered input values
	bags    map[string]map[string]any         // node id -> freshest output bag
	nodes   map[string]*NodeOutcome
}

func newRunState(g *schema.Graph, plan *Plan, params map[string]any) *runState {
	st := &runState{
		graph:   g,
		plan:    plan,
		params:  params,
		inbound: make(map[string][]schema.Connection),
		pending: make(map[string]map[string]any),
		bags:    make(map[string]map[string]any),
		nodes:   make(map[string]*NodeOutcome, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		st.nodes[n.ID] = &NodeOutcome{NodeID: n.ID, Status: schema.NodeStatusPending}
	}
	for _, c := range g.Connections {
		st.inbound[c.TargetID] = append(st.inbound[c.TargetID], c)
	}
	return st
}

// deliver records a value arriving at a node input.
func (st *runState) deliver(targetID, input string, value any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending[targetID] == nil {
		st.pending[targetID] = make(map[string]any)
	}
	st.pending[targetID][input] = value
}

// delivered reports whether a value has arrived for the given input.
func (st *runState) delivered(targetID, input string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.pending[targetID][input]
	return ok
}

// resolveInputs builds the input map a node sees: initial parameters, then
// static config, then delivered connection values — rightmost wins.
func (st *runState) resolveInputs(nodeID string) map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()

	inputs := make(map[string]any)
	for k, v := range st.params {
		inputs[k] = v
	}
	if spec := st.graph.Node(nodeID); spec != nil {
		for k, v := range spec.Config {
			inputs[k] = v
		}
	}
	for k, v := range st.pending[nodeID] {
		inputs[k] = v
	}
	return inputs
}

// setBag records a node's freshest output bag without touching its status.
// Cycle passes overwrite it each iteration.
func (st *runState) setBag(nodeID string, bag map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bags[nodeID] = bag
}

// bagsSnapshot returns a shallow copy of all freshest output bags, for
// convergence expression environments.
func (st *runState) bagsSnapshot() map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]any, len(st.bags))
	for id, bag := range st.bags {
		out[id] = bag
	}
	return out
}

// outcome returns the live outcome record for a node.
func (st *runState) outcome(nodeID string) *NodeOutcome {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.nodes[nodeID]
}

// status returns a node's current status.
func (st *runState) status(nodeID string) schema.NodeStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n, ok := st.nodes[nodeID]; ok {
		return n.Status
	}
	return schema.NodeStatusPending
}

// setStatus applies a guarded status change; illegal transitions are
// dropped so terminal outcomes stay absorbing.
func (st *runState) setStatus(nodeID string, to schema.NodeStatus) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	n, ok := st.nodes[nodeID]
	if !ok || !CanTransitionNode(n.Status, to) {
		return false
	}
	n.Status = to
	return true
}

// mutate runs fn with the outcome record under the state lock.
func (st *runState) mutate(nodeID string, fn func(*NodeOutcome)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n, ok := st.nodes[nodeID]; ok {
		fn(n)
	}
}
