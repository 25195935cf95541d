package weft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func runBuiltin(t *testing.T, r *Registry, typeName string, inputs map[string]any) (map[string]any, error) {
	t.Helper()
	fn, err := r.ResolveRun(typeName)
	require.NoError(t, err)
	return fn(context.Background(), inputs)
}

func TestBuiltins_Registered(t *testing.T) {
	r := builtinRegistry(t)
	for _, typ := range []string{"constant", "passthrough", "expr.eval", "jq.transform", "assert.equals", "delay"} {
		assert.True(t, r.Has(typ), typ)
	}
	assert.Equal(t, []string{"expression"}, r.RequiredParameters("expr.eval"))
}

func TestBuiltin_Constant(t *testing.T) {
	out, err := runBuiltin(t, builtinRegistry(t), "constant", map[string]any{"value": 42, "noise": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 42}, out)
}

func TestBuiltin_Passthrough(t *testing.T) {
	in := map[string]any{"a": 1, "b": "two"}
	out, err := runBuiltin(t, builtinRegistry(t), "passthrough", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBuiltin_ExprEval(t *testing.T) {
	r := builtinRegistry(t)

	out, err := runBuiltin(t, r, "expr.eval", map[string]any{
		"expression": "price * quantity",
		"price":      3,
		"quantity":   4,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, out["result"])

	_, err = runBuiltin(t, r, "expr.eval", map[string]any{"expression": ""})
	require.Error(t, err)
}

func TestBuiltin_JQTransform(t *testing.T) {
	r := builtinRegistry(t)

	out, err := runBuiltin(t, r, "jq.transform", map[string]any{
		"expression": "map(.name)",
		"input":      []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["result"])

	_, err = runBuiltin(t, r, "jq.transform", map[string]any{"input": 1})
	require.Error(t, err)
}

func TestBuiltin_AssertEquals(t *testing.T) {
	r := builtinRegistry(t)

	// Numeric types are normalized, so int 5 matches float 5.0.
	out, err := runBuiltin(t, r, "assert.equals", map[string]any{"actual": 5, "expected": 5.0})
	require.NoError(t, err)
	assert.Equal(t, true, out["passed"])

	_, err = runBuiltin(t, r, "assert.equals", map[string]any{"actual": "x", "expected": "y"})
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, werr.Code)
}

func TestBuiltin_AssertEqualsNested(t *testing.T) {
	actual := map[string]any{"items": []any{1, 2}, "total": int64(3)}
	expected := map[string]any{"items": []any{1.0, 2.0}, "total": 3.0}
	_, err := runBuiltin(t, builtinRegistry(t), "assert.equals", map[string]any{
		"actual": actual, "expected": expected,
	})
	assert.NoError(t, err)
}

func TestBuiltin_Delay(t *testing.T) {
	r := builtinRegistry(t)

	start := time.Now()
	out, err := runBuiltin(t, r, "delay", map[string]any{"duration": "20ms", "v": 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, out["v"])

	_, err = runBuiltin(t, r, "delay", map[string]any{"duration": "forever"})
	require.Error(t, err)
	_, err = runBuiltin(t, r, "delay", map[string]any{"duration": 5})
	require.Error(t, err)
}

func TestBuiltin_DelayCancellation(t *testing.T) {
	fn, err := builtinRegistry(t).ResolveRun("delay")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fn(ctx, map[string]any{"duration": "10s"})
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCancelled, werr.Code)
}
