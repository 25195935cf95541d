package engine

import (
	"context"
	"time"

	"github.com/weftflow/weft/internal/expressions"
	"github.com/weftflow/weft/internal/logging"
	"github.com/weftflow/weft/pkg/schema"
)

// runCycle executes one cycle group as a sequential pass loop. Each pass
// runs every member in declared order, delivering values along the group's
// member connections; after a full pass the termination rule is checked:
// converge_when true, max_iterations reached, or timeout elapsed, whichever
// fires first. Convergence and exhaustion are normal terminations — the
// freshest member outputs stand. Timeout marks every member failed so
// downstream nodes skip.
func (e *Executor) runCycle(ctx context.Context, st *runState, cg *schema.CycleGroup) {
	log := logging.LogWith(ctx, e.logger).With("cycle", cg.Name)
	runID := logging.RunID(ctx)
	members := cg.NodeIDs()

	for _, id := range members {
		if reason := e.skipReason(st, id); reason != "" {
			for _, m := range members {
				e.markSkipped(ctx, st, m, reason)
			}
			return
		}
	}

	fns := make(map[string]NodeFunc, len(members))
	for _, id := range members {
		spec := st.graph.Node(id)
		fn, err := e.resolver.ResolveRun(spec.Type)
		if err != nil {
			e.failGroup(ctx, st, members, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
				"node type %q is not registered", spec.Type))
			return
		}
		fns[id] = fn
	}

	var deadline time.Time
	if d, err := cg.ParseTimeout(); err == nil && d > 0 {
		deadline = time.Now().Add(d)
	}

	started := time.Now().UTC()
	for _, id := range members {
		st.setStatus(id, schema.NodeStatusRunning)
		startCopy := started
		st.mutate(id, func(n *NodeOutcome) { n.StartedAt = &startCopy })
		e.emit(ctx, runID, id, schema.EventNodeStarted, map[string]any{"cycle": cg.Name})
	}
	log.Debug("cycle started", "members", len(members),
		"max_iterations", cg.MaxIterations, "converge_when", cg.ConvergeWhen)

	pass := 0
	for {
		if ctx.Err() != nil {
			log.Info("cycle cancelled", "passes", pass)
			e.failGroup(ctx, st, members, schema.NewErrorf(schema.ErrCodeCancelled,
				"cycle group %q cancelled after %d passes", cg.Name, pass))
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			e.emit(ctx, runID, "", schema.EventCycleTimedOut, map[string]any{
				"cycle": cg.Name, "passes": pass,
			})
			log.Warn("cycle timed out", "passes", pass)
			e.failGroup(ctx, st, members, schema.NewErrorf(schema.ErrCodeTimeout,
				"cycle group %q exceeded its timeout after %d passes", cg.Name, pass))
			return
		}
		pass++

		for _, id := range members {
			memberCtx := logging.WithNodeID(ctx, id)
			inputs := st.resolveInputs(id)
			output, err := invoke(memberCtx, fns[id], inputs)
			if err != nil {
				log.Error("cycle member failed", "node_id", id, "pass", pass, "error", err)
				e.failGroup(ctx, st, members, asWeftError(err, id))
				return
			}
			st.setBag(id, output)
			st.mutate(id, func(n *NodeOutcome) { n.Output = output })
			e.deliverMemberOutputs(memberCtx, st, cg, id, output)
		}

		e.emit(ctx, runID, "", schema.EventCyclePassCompleted, map[string]any{
			"cycle": cg.Name, "pass": pass,
		})

		if cg.ConvergeWhen != "" {
			env := map[string]any{
				expressions.EnvNodes:     st.bagsSnapshot(),
				expressions.EnvInputs:    st.params,
				expressions.EnvIteration: pass,
			}
			converged, err := expressions.EvaluateBool(ctx, e.conv, cg.ConvergeWhen, env)
			if err != nil {
				log.Error("convergence expression failed", "pass", pass, "error", err)
				e.failGroup(ctx, st, members, schema.NewErrorf(schema.ErrCodeExecution,
					"cycle group %q convergence expression failed: %v", cg.Name, err))
				return
			}
			if converged {
				e.emit(ctx, runID, "", schema.EventCycleConverged, map[string]any{
					"cycle": cg.Name, "passes": pass,
				})
				log.Info("cycle converged", "passes", pass)
				break
			}
		}
		if cg.MaxIterations > 0 && pass >= cg.MaxIterations {
			e.emit(ctx, runID, "", schema.EventCycleExhausted, map[string]any{
				"cycle": cg.Name, "passes": pass,
			})
			log.Info("cycle exhausted iteration budget", "passes", pass)
			break
		}
	}

	e.finishGroup(ctx, st, cg, members, started)
}

// deliverMemberOutputs propagates one member's output along the group's
// internal connections, applying transforms the same way plain connections
// do.
func (e *Executor) deliverMemberOutputs(ctx context.Context, st *runState, cg *schema.CycleGroup, nodeID string, output map[string]any) {
	for _, c := range cg.Members {
		if c.SourceID != nodeID {
			continue
		}
		value, ok := output[c.SourceOutput]
		if !ok {
			continue
		}
		if c.Transform != "" {
			transformed, err := e.jq.Transform(ctx, c.Transform, value)
			if err != nil {
				logging.LogWith(ctx, e.logger).Warn("transform failed",
					"connection", c.String(), "error", err)
				continue
			}
			value = transformed
		}
		st.deliver(c.TargetID, c.TargetInput, value)
	}
}

// finishGroup marks every member succeeded with its freshest output and
// propagates member outputs along the plain connections leaving the group.
func (e *Executor) finishGroup(ctx context.Context, st *runState, cg *schema.CycleGroup, members []string, started time.Time) {
	runID := logging.RunID(ctx)
	ended := time.Now().UTC()
	for _, id := range members {
		st.setStatus(id, schema.NodeStatusSucceeded)
		st.mutate(id, func(n *NodeOutcome) {
			n.EndedAt = &ended
			n.DurationMs = ended.Sub(started).Milliseconds()
		})
		if out := st.outcome(id); out != nil && out.Output != nil {
			e.propagate(ctx, st, id, out.Output)
		}
		e.persistNode(ctx, runID, st.outcome(id))
		e.emit(ctx, runID, id, schema.EventNodeCompleted, map[string]any{"cycle": cg.Name})
	}
}

// failGroup finalizes a cycle group that cannot complete: running members
// are marked failed with the group error, never-started members skipped.
func (e *Executor) failGroup(ctx context.Context, st *runState, members []string, werr *schema.WeftError) {
	runID := logging.RunID(ctx)
	ended := time.Now().UTC()
	for _, id := range members {
		switch st.status(id) {
		case schema.NodeStatusPending:
			e.markSkipped(ctx, st, id, werr.Message)
		case schema.NodeStatusRunning:
			st.setStatus(id, schema.NodeStatusFailed)
			st.mutate(id, func(n *NodeOutcome) {
				n.Err = werr
				n.EndedAt = &ended
				if n.StartedAt != nil {
					n.DurationMs = ended.Sub(*n.StartedAt).Milliseconds()
				}
			})
			e.persistNode(ctx, runID, st.outcome(id))
			e.emit(ctx, runID, id, schema.EventNodeFailed, map[string]any{"error": werr.Error()})
		}
	}
}
