// Package store persists run records, per-node results, and the run event
// log. Two implementations: MemoryStore (default) and LibSQLStore (embedded
// SQLite fork, for callers that want run history to survive the process).
package store

import (
	"context"

	"github.com/weftflow/weft/pkg/schema"
)

// RunStore is the persistence contract the executor writes through and
// callers query. Implementations must refuse to mutate a run after it
// reaches a terminal status, and must reject duplicate run ids.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)

	UpsertNodeResult(ctx context.Context, result *NodeResult) error
	GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResult, error)
	ListNodeResults(ctx context.Context, runID string) ([]*NodeResult, error)

	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, runID string) ([]*Event, error)
}

func notFound(kind, id string) *schema.WeftError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}
