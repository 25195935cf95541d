package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func TestJQTransform_Identity(t *testing.T) {
	eng := NewJQEngine()

	out, err := eng.Transform(context.Background(), ".", map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, out)
}

func TestJQTransform_EmptyExpressionPassesThrough(t *testing.T) {
	eng := NewJQEngine()

	out, err := eng.Transform(context.Background(), "", "untouched")
	require.NoError(t, err)
	assert.Equal(t, "untouched", out)
}

func TestJQTransform_FieldProjection(t *testing.T) {
	eng := NewJQEngine()

	value := map[string]any{"user": map[string]any{"name": "ada", "age": 36.0}}
	out, err := eng.Transform(context.Background(), ".user.name", value)
	require.NoError(t, err)
	assert.Equal(t, "ada", out)
}

func TestJQTransform_MultipleOutputsCollected(t *testing.T) {
	eng := NewJQEngine()

	out, err := eng.Transform(context.Background(), ".[]", []any{1.0, 2.0, 3.0})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out)
}

func TestJQTransform_NoOutputIsNil(t *testing.T) {
	eng := NewJQEngine()

	out, err := eng.Transform(context.Background(), "empty", "anything")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestJQTransform_NormalizesGoTypes(t *testing.T) {
	eng := NewJQEngine()

	// int-keyed Go values round-trip through JSON before jq sees them.
	out, err := eng.Transform(context.Background(), ".count + 1", map[string]any{"count": 41})
	require.NoError(t, err)
	assert.InDelta(t, 42.0, out, 0.0001)
}

func TestJQTransform_ParseError(t *testing.T) {
	eng := NewJQEngine()

	_, err := eng.Transform(context.Background(), ".[", nil)
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestJQTransform_RuntimeError(t *testing.T) {
	eng := NewJQEngine()

	_, err := eng.Transform(context.Background(), ".a + 1", map[string]any{"a": "str"})
	require.Error(t, err)

	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, werr.Code)
}

func TestJQTransform_EnvBlocked(t *testing.T) {
	eng := NewJQEngine()

	out, err := eng.Transform(context.Background(), "$ENV", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

func TestJQCheck(t *testing.T) {
	eng := NewJQEngine()
	assert.NoError(t, eng.Check(".a | map(.b)"))
	assert.Error(t, eng.Check(".["))
}
