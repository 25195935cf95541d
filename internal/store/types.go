package store

import (
	"encoding/json"
	"time"

	"github.com/weftflow/weft/pkg/schema"
)

// Run is the persisted record of one graph execution.
type Run struct {
	ID        string           `json:"id"`
	GraphName string           `json:"graph_name,omitempty"`
	Status    schema.RunStatus `json:"status"`
	Params    map[string]any   `json:"params,omitempty"`
	Error     json.RawMessage  `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// RunUpdate is a partial update applied to a run record.
type RunUpdate struct {
	Status  *schema.RunStatus
	Error   json.RawMessage
	EndedAt *time.Time
}

// NodeResult is the materialized outcome of one node within a run.
type NodeResult struct {
	RunID       string            `json:"run_id"`
	NodeID      string            `json:"node_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}
