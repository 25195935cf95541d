package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run.started"
	EventRunFinished  = "run.finished"
	EventRunCancelled = "run.cancelled"

	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventNodeSkipped   = "node.skipped"

	EventCyclePassCompleted = "cycle.pass_completed"
	EventCycleConverged     = "cycle.converged"
	EventCycleExhausted     = "cycle.exhausted"
	EventCycleTimedOut      = "cycle.timed_out"
)
