package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func TestCELEvaluate_NodeOutputs(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		EnvNodes: map[string]any{
			"critique": map[string]any{"score": 0.95},
		},
		EnvIteration: 3,
	}

	out, err := eng.Evaluate(context.Background(), `nodes["critique"]["score"] >= 0.9`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_Iteration(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	out, err := eng.Evaluate(context.Background(), "iteration >= 5",
		map[string]any{EnvIteration: 7})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_MissingKeysDefault(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	// nodes defaults to an empty map, iteration to 0.
	out, err := eng.Evaluate(context.Background(), `size(nodes) == 0 && iteration == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEvaluate_CompileError(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Evaluate(context.Background(), "nodes ==", nil)
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestCELName(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", eng.Name())
	assert.Equal(t, "expr", NewExprEngine().Name())
}
