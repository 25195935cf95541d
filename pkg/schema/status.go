package schema

// RunStatus is the lifecycle state of a graph execution.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusSucceeded       RunStatus = "succeeded"
	RunStatusFailed          RunStatus = "failed"
	RunStatusPartiallyFailed RunStatus = "partially_failed"
	RunStatusCancelled       RunStatus = "cancelled"
)

// Terminal reports whether the run status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusPartiallyFailed, RunStatusCancelled:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a single node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	// NodeStatusSkipped marks a node whose run was never invoked because an
	// upstream dependency failed or produced no value for it.
	NodeStatusSkipped NodeStatus = "skipped_due_to_dependency_failure"
)

// Terminal reports whether the node status is absorbing.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}
