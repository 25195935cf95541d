package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func newRun(id string) *Run {
	return &Run{
		ID:        id,
		GraphName: "pipeline",
		Status:    schema.RunStatusRunning,
		Params:    map[string]any{"env": "test"},
		StartedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_SaveAndGetRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "pipeline", got.GraphName)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
}

func TestMemoryStore_DuplicateRunID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, newRun("r1")))
	err := s.SaveRun(ctx, newRun("r1"))
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)
}

func TestMemoryStore_GetRunNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetRun(context.Background(), "missing")
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, werr.Code)
}

func TestMemoryStore_UpdateRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	done := schema.RunStatusSucceeded
	ended := time.Now().UTC()
	require.NoError(t, s.UpdateRun(ctx, "r1", RunUpdate{Status: &done, EndedAt: &ended}))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSucceeded, got.Status)
	require.NotNil(t, got.EndedAt)
}

func TestMemoryStore_TerminalRunIsImmutable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	failed := schema.RunStatusFailed
	require.NoError(t, s.UpdateRun(ctx, "r1", RunUpdate{Status: &failed}))

	// Further run updates refused.
	running := schema.RunStatusRunning
	assert.Error(t, s.UpdateRun(ctx, "r1", RunUpdate{Status: &running}))

	// Node result writes refused too.
	err := s.UpsertNodeResult(ctx, &NodeResult{RunID: "r1", NodeID: "a", Status: schema.NodeStatusSucceeded})
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)
}

func TestMemoryStore_NodeResults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	out, _ := json.Marshal(map[string]any{"rows": 3})
	require.NoError(t, s.UpsertNodeResult(ctx, &NodeResult{
		RunID: "r1", NodeID: "extract", Status: schema.NodeStatusSucceeded, Output: out,
	}))
	require.NoError(t, s.UpsertNodeResult(ctx, &NodeResult{
		RunID: "r1", NodeID: "load", Status: schema.NodeStatusFailed,
	}))

	got, err := s.GetNodeResult(ctx, "r1", "extract")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":3}`, string(got.Output))

	all, err := s.ListNodeResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Node id order, for determinism.
	assert.Equal(t, "extract", all[0].NodeID)
	assert.Equal(t, "load", all[1].NodeID)
}

func TestMemoryStore_UpsertOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	require.NoError(t, s.UpsertNodeResult(ctx, &NodeResult{RunID: "r1", NodeID: "a", Status: schema.NodeStatusRunning}))
	require.NoError(t, s.UpsertNodeResult(ctx, &NodeResult{RunID: "r1", NodeID: "a", Status: schema.NodeStatusSucceeded}))

	got, err := s.GetNodeResult(ctx, "r1", "a")
	require.NoError(t, err)
	assert.Equal(t, schema.NodeStatusSucceeded, got.Status)
}

func TestMemoryStore_ReadsReturnCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, newRun("r1")))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	got.Status = schema.RunStatusFailed // mutating the copy

	fresh, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, fresh.Status)
}

func TestMemoryStore_EventSequencePerRun(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, runID := range []string{"r1", "r2"} {
		require.NoError(t, s.SaveRun(ctx, newRun(runID)))
	}

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "r1", Type: schema.EventRunStarted}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "r2", Type: schema.EventRunStarted}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "r1", Type: schema.EventNodeStarted, NodeID: "a"}))

	events, err := s.ListEvents(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, int64(2), events[1].Sequence)
	assert.Equal(t, schema.EventNodeStarted, events[1].Type)

	other, err := s.ListEvents(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence, "sequences are per run")
}

func TestMemoryStore_AppendEventAssignsTimestamp(t *testing.T) {
	s := NewMemoryStore()
	ev := &Event{RunID: "r1", Type: schema.EventRunStarted}
	require.NoError(t, s.AppendEvent(context.Background(), ev))

	events, err := s.ListEvents(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}
