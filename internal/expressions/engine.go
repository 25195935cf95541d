// Package expressions evaluates the boolean and transform expressions the
// engine accepts: convergence conditions over node outputs (expr or CEL)
// and jq projections on connection values.
package expressions

import (
	"context"
	"strings"

	"github.com/weftflow/weft/pkg/schema"
)

// Engine evaluates a convergence expression against accumulated run data.
// Two implementations: Expr (default) and CEL.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Environment keys exposed to convergence expressions.
const (
	EnvNodes     = "nodes"     // node id -> output bag
	EnvInputs    = "inputs"    // initial run parameters
	EnvIteration = "iteration" // completed cycle passes, starting at 1
)

// EvaluateBool evaluates the expression and coerces the result to a bool.
// Non-boolean results are an execution error: convergence conditions must
// be predicates, not projections.
func EvaluateBool(ctx context.Context, eng Engine, expression string, data map[string]any) (bool, error) {
	out, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"convergence expression %q produced %T, want bool", expression, out)
	}
	return b, nil
}

// CheckBool reports whether an expression is usable as a convergence
// condition. Degenerate cases: empty, a bare boolean literal (would either
// never loop or never converge), or an expression that does not compile.
func CheckBool(expression string) error {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty convergence expression")
	}
	if trimmed == "true" || trimmed == "false" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"convergence expression is the constant %q", trimmed)
	}
	return compileCheck(trimmed)
}
