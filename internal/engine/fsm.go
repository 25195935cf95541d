package engine

import "github.com/weftflow/weft/pkg/schema"

// ValidRunTransitions defines the allowed lifecycle transitions for runs.
// Terminal states are absorbing.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending: {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning: {
		schema.RunStatusSucceeded, schema.RunStatusFailed,
		schema.RunStatusPartiallyFailed, schema.RunStatusCancelled,
	},
	schema.RunStatusSucceeded:       {},
	schema.RunStatusFailed:          {},
	schema.RunStatusPartiallyFailed: {},
	schema.RunStatusCancelled:       {},
}

// ValidNodeTransitions defines the allowed lifecycle transitions for nodes.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending: {schema.NodeStatusRunning, schema.NodeStatusSkipped},
	schema.NodeStatusRunning: {schema.NodeStatusSucceeded, schema.NodeStatusFailed},
	schema.NodeStatusSucceeded: {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

// CanTransitionRun reports whether from -> to is a legal run transition.
func CanTransitionRun(from, to schema.RunStatus) bool {
	for _, allowed := range ValidRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionNode reports whether from -> to is a legal node transition.
func CanTransitionNode(from, to schema.NodeStatus) bool {
	for _, allowed := range ValidNodeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionRun validates a run transition, returning INVALID_TRANSITION on
// an illegal move. Illegal transitions indicate an engine bug, not bad input.
func TransitionRun(from, to schema.RunStatus) error {
	if !CanTransitionRun(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to)
	}
	return nil
}

// TransitionNode validates a node transition.
func TransitionNode(nodeID string, from, to schema.NodeStatus) error {
	if !CanTransitionNode(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).WithNode(nodeID)
	}
	return nil
}
