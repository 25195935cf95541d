package weft

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/weftflow/weft/internal/expressions"
	"github.com/weftflow/weft/pkg/schema"
)

// RegisterBuiltins adds the built-in node types to a registry: small
// utilities for wiring and testing graphs without writing node functions.
//
//	constant      emits its configured "value" unchanged
//	passthrough   echoes its resolved inputs as outputs
//	expr.eval     evaluates an Expr expression against the inputs
//	jq.transform  applies a jq expression to the "input" value
//	assert.equals fails the node when "actual" != "expected"
//	delay         sleeps for "duration" then echoes inputs
func RegisterBuiltins(r *Registry) error {
	builtins := []Descriptor{
		{Type: "constant", Run: constantNode},
		{Type: "passthrough", Run: passthroughNode},
		{Type: "expr.eval", Required: []string{"expression"}, Run: exprEvalNode()},
		{Type: "jq.transform", Required: []string{"expression", "input"}, Run: jqTransformNode()},
		{Type: "assert.equals", Required: []string{"actual", "expected"}, Run: assertEqualsNode},
		{Type: "delay", Required: []string{"duration"}, Run: delayNode},
	}
	for _, d := range builtins {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func constantNode(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"value": inputs["value"]}, nil
}

func passthroughNode(_ context.Context, inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	return out, nil
}

func exprEvalNode() NodeFunc {
	engine := expressions.NewExprEngine()
	return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		expression, ok := inputs["expression"].(string)
		if !ok || expression == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"expr.eval requires a non-empty 'expression' string")
		}
		result, err := engine.Evaluate(ctx, expression, inputs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": result}, nil
	}
}

func jqTransformNode() NodeFunc {
	engine := expressions.NewJQEngine()
	return func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		expression, ok := inputs["expression"].(string)
		if !ok || expression == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				"jq.transform requires a non-empty 'expression' string")
		}
		result, err := engine.Transform(ctx, expression, inputs["input"])
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": result}, nil
	}
}

func assertEqualsNode(_ context.Context, inputs map[string]any) (map[string]any, error) {
	actual := normalizeJSON(inputs["actual"])
	expected := normalizeJSON(inputs["expected"])
	if !reflect.DeepEqual(actual, expected) {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"assertion failed: expected %v, got %v", expected, actual)
	}
	return map[string]any{"passed": true}, nil
}

func delayNode(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	raw, ok := inputs["duration"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"delay requires a 'duration' string such as \"250ms\"")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid duration %q", raw)
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "delay interrupted").WithCause(ctx.Err())
	}
	return passthroughNode(ctx, inputs)
}

// normalizeJSON converts Go numeric types to float64 for consistent
// deep-equal comparison. JSON unmarshaling produces float64 for numbers;
// this normalizes int, int64, json.Number so reflect.DeepEqual works across
// boundaries.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return fmt.Sprintf("%v", val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}
