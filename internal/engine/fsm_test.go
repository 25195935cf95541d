package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func TestRunTransitions(t *testing.T) {
	assert.True(t, CanTransitionRun(schema.RunStatusPending, schema.RunStatusRunning))
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusSucceeded))
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusPartiallyFailed))
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusCancelled))

	assert.False(t, CanTransitionRun(schema.RunStatusSucceeded, schema.RunStatusRunning))
	assert.False(t, CanTransitionRun(schema.RunStatusFailed, schema.RunStatusSucceeded))
	assert.False(t, CanTransitionRun(schema.RunStatusPending, schema.RunStatusSucceeded))
}

func TestNodeTransitions(t *testing.T) {
	assert.True(t, CanTransitionNode(schema.NodeStatusPending, schema.NodeStatusRunning))
	assert.True(t, CanTransitionNode(schema.NodeStatusPending, schema.NodeStatusSkipped))
	assert.True(t, CanTransitionNode(schema.NodeStatusRunning, schema.NodeStatusFailed))

	assert.False(t, CanTransitionNode(schema.NodeStatusRunning, schema.NodeStatusSkipped))
	assert.False(t, CanTransitionNode(schema.NodeStatusSucceeded, schema.NodeStatusRunning))
	assert.False(t, CanTransitionNode(schema.NodeStatusSkipped, schema.NodeStatusRunning))
}

func TestTransitionErrors(t *testing.T) {
	assert.NoError(t, TransitionRun(schema.RunStatusRunning, schema.RunStatusFailed))

	err := TransitionRun(schema.RunStatusSucceeded, schema.RunStatusRunning)
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidTransition, werr.Code)

	err = TransitionNode("extract", schema.NodeStatusSucceeded, schema.NodeStatusRunning)
	require.Error(t, err)
	werr, ok = err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, "extract", werr.NodeID)
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, schema.RunStatusSucceeded.Terminal())
	assert.True(t, schema.RunStatusPartiallyFailed.Terminal())
	assert.False(t, schema.RunStatusRunning.Terminal())

	assert.True(t, schema.NodeStatusSkipped.Terminal())
	assert.False(t, schema.NodeStatusPending.Terminal())
}
