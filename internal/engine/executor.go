// Package engine executes validated workflow graphs: it condenses cycle
// groups into schedulable units, topologically sorts them into waves, and
// runs each wave on a bounded worker pool while persisting node results and
// an event log through a RunStore.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftflow/weft/internal/expressions"
	"github.com/weftflow/weft/internal/logging"
	"github.com/weftflow/weft/internal/store"
	"github.com/weftflow/weft/internal/streaming"
	"github.com/weftflow/weft/pkg/schema"
)

// NodeFunc is the executable behavior of one node. It receives the resolved
// input map and returns the node's output bag.
type NodeFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// NodeResolver maps a node type name to its executable function. The
// registry in the root package implements it.
type NodeResolver interface {
	ResolveRun(typeName string) (NodeFunc, error)
}

// Config tunes one Executor.
type Config struct {
	// PoolSize bounds concurrent node executions per run. Zero means 8.
	PoolSize int
	// Convergence evaluates cycle group converge_when expressions.
	// Nil means the expr engine.
	Convergence expressions.Engine
	// Store receives run records, node results, and events. Nil means a
	// fresh in-memory store.
	Store store.RunStore
	// Logger receives structured execution logs. Nil means slog.Default.
	Logger *slog.Logger
	// Events, when set, receives every run event as it happens, in
	// addition to the persisted log.
	Events streaming.Hub
}

const defaultPoolSize = 8

// Executor runs graphs. Safe for concurrent use; each Execute call is an
// independent run with its own worker pool and cancel handle.
type Executor struct {
	resolver NodeResolver
	conv     expressions.Engine
	jq       *expressions.JQEngine
	store    store.RunStore
	events   streaming.Hub
	logger   *slog.Logger
	poolSize int

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewExecutor(resolver NodeResolver, cfg Config) *Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.Convergence == nil {
		cfg.Convergence = expressions.NewExprEngine()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		resolver: resolver,
		conv:     cfg.Convergence,
		jq:       expressions.NewJQEngine(),
		store:    cfg.Store,
		events:   cfg.Events,
		logger:   cfg.Logger,
		poolSize: cfg.PoolSize,
		running:  make(map[string]context.CancelFunc),
	}
}

// Store exposes the run store backing this executor, for status and result
// queries after a run finishes.
func (e *Executor) Store() store.RunStore { return e.store }

// Execute runs the graph to completion and returns the per-node outcomes.
// The graph must already have passed validation; Execute assumes the plan
// builds and node types resolve. Cancellation is observed between waves and
// between cycle passes, never mid-node.
func (e *Executor) Execute(ctx context.Context, g *schema.Graph, params map[string]any) (*Result, error) {
	plan, err := BuildPlan(g)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.running[runID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, runID)
		e.mu.Unlock()
	}()

	runCtx = logging.WithRunID(runCtx, runID)
	runCtx = logging.WithGraph(runCtx, g.Name)
	log := logging.LogWith(runCtx, e.logger)

	startedAt := time.Now().UTC()
	if err := e.store.SaveRun(ctx, &store.Run{
		ID:        runID,
		GraphName: g.Name,
		Status:    schema.RunStatusRunning,
		Params:    params,
		StartedAt: startedAt,
	}); err != nil {
		return nil, err
	}
	e.emit(runCtx, runID, "", schema.EventRunStarted, map[string]any{"graph": g.Name})
	log.Info("run started", "nodes", len(g.Nodes), "waves", len(plan.Waves))

	st := newRunState(g, plan, params)
	pool := NewPool(e.poolSize)

	for i, wave := range plan.Waves {
		if runCtx.Err() != nil {
			break
		}
		e.runWave(runCtx, st, pool, wave)
		log.Debug("wave completed", "wave", i, "units", len(wave))
	}
	pool.Shutdown()

	// A cancelled run must not leave non-terminal node statuses behind:
	// nodes whose wave never started are skipped.
	if runCtx.Err() != nil {
		for _, n := range g.Nodes {
			if st.status(n.ID) == schema.NodeStatusPending {
				e.markSkipped(runCtx, st, n.ID, "run cancelled before this node started")
			}
		}
	}

	endedAt := time.Now().UTC()
	status := e.finalStatus(runCtx, st)

	result := &Result{
		RunID:     runID,
		GraphName: g.Name,
		Status:    status,
		Nodes:     st.nodes,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}

	update := store.RunUpdate{Status: &status, EndedAt: &endedAt}
	if err := e.store.UpdateRun(ctx, runID, update); err != nil {
		return result, schema.NewError(schema.ErrCodeStore, "failed to finalize run record").WithCause(err)
	}
	if status == schema.RunStatusCancelled {
		e.emit(ctx, runID, "", schema.EventRunCancelled, nil)
	}
	e.emit(ctx, runID, "", schema.EventRunFinished, map[string]any{"status": string(status)})
	log.Info("run finished", "status", string(status), "duration_ms", endedAt.Sub(startedAt).Milliseconds())
	return result, nil
}

// Cancel requests cooperative cancellation of a running run. In-flight nodes
// finish; subsequent waves and cycle passes do not start.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	cancel, ok := e.running[runID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no running run with id %s", runID)
	}
	cancel()
	return nil
}

// runWave executes every unit of one wave concurrently and waits for all of
// them before returning.
func (e *Executor) runWave(ctx context.Context, st *runState, pool *Pool, unitIDs []string) {
	var wg sync.WaitGroup
	for _, uid := range unitIDs {
		unit := st.plan.Units[uid]
		wg.Add(1)
		task := func(taskCtx context.Context) {
			defer wg.Done()
			switch unit.Kind {
			case unitCycle:
				e.runCycle(taskCtx, st, unit.Cycle)
			default:
				e.runNode(taskCtx, st, unit.NodeID)
			}
		}
		if err := pool.Submit(ctx, task); err != nil {
			wg.Done()
			e.skipNode(ctx, st, unit, "worker pool rejected unit")
		}
	}
	wg.Wait()
}

// runNode executes a single plain node: dependency taint check, input
// resolution, invocation with panic containment, then output propagation
// through its outbound connections.
func (e *Executor) runNode(ctx context.Context, st *runState, nodeID string) {
	ctx = logging.WithNodeID(ctx, nodeID)
	log := logging.LogWith(ctx, e.logger)
	runID := logging.RunID(ctx)

	if reason := e.skipReason(st, nodeID); reason != "" {
		e.markSkipped(ctx, st, nodeID, reason)
		return
	}

	spec := st.graph.Node(nodeID)
	fn, err := e.resolver.ResolveRun(spec.Type)
	if err != nil {
		e.markFailed(ctx, st, nodeID, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
			"node type %q is not registered", spec.Type).WithNode(nodeID))
		return
	}

	started := time.Now().UTC()
	st.setStatus(nodeID, schema.NodeStatusRunning)
	st.mutate(nodeID, func(n *NodeOutcome) { n.StartedAt = &started })
	e.emit(ctx, runID, nodeID, schema.EventNodeStarted, nil)
	log.Debug("node started", "type", spec.Type)

	inputs := st.resolveInputs(nodeID)
	output, err := invoke(ctx, fn, inputs)
	if err != nil {
		e.markFailed(ctx, st, nodeID, asWeftError(err, nodeID))
		return
	}

	ended := time.Now().UTC()
	st.setBag(nodeID, output)
	st.setStatus(nodeID, schema.NodeStatusSucceeded)
	st.mutate(nodeID, func(n *NodeOutcome) {
		n.Output = output
		n.EndedAt = &ended
		n.DurationMs = ended.Sub(started).Milliseconds()
	})
	e.propagate(ctx, st, nodeID, output)
	e.persistNode(ctx, runID, st.outcome(nodeID))
	e.emit(ctx, runID, nodeID, schema.EventNodeCompleted, map[string]any{"duration_ms": ended.Sub(started).Milliseconds()})
	log.Debug("node completed", "duration_ms", ended.Sub(started).Milliseconds())
}

// skipReason reports why a node must be skipped instead of run: a tainted
// upstream dependency, or an upstream output field that never materialized.
func (e *Executor) skipReason(st *runState, nodeID string) string {
	for _, c := range st.inbound[nodeID] {
		switch st.status(c.SourceID) {
		case schema.NodeStatusFailed:
			return fmt.Sprintf("upstream node %s failed", c.SourceID)
		case schema.NodeStatusSkipped:
			return fmt.Sprintf("upstream node %s was skipped", c.SourceID)
		case schema.NodeStatusSucceeded:
			if !st.delivered(nodeID, c.TargetInput) {
				return fmt.Sprintf("upstream node %s produced no %q output", c.SourceID, c.SourceOutput)
			}
		}
	}
	return ""
}

// propagate delivers one node's output bag along its outbound connections,
// applying any jq transform on the way. A missing source field or a failed
// transform leaves the target input undelivered; the target skips later with
// an explanatory reason.
func (e *Executor) propagate(ctx context.Context, st *runState, nodeID string, output map[string]any) {
	for _, c := range st.graph.Connections {
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

func (e *Executor) markFailed(ctx context.Context, st *runState, nodeID string, werr *schema.WeftError) {
	ended := time.Now().UTC()
	st.setStatus(nodeID, schema.NodeStatusRunning) // no-op if already running
	st.setStatus(nodeID, schema.NodeStatusFailed)
	st.mutate(nodeID, func(n *NodeOutcome) {
		n.Err = werr
		n.EndedAt = &ended
		if n.StartedAt != nil {
			n.DurationMs = ended.Sub(*n.StartedAt).Milliseconds()
		}
	})
	runID := logging.RunID(ctx)
	e.persistNode(ctx, runID, st.outcome(nodeID))
	e.emit(ctx, runID, nodeID, schema.EventNodeFailed, map[string]any{"error": werr.Error()})
	logging.LogWith(ctx, e.logger).Error("node failed", "node_id", nodeID, "error", werr)
}

func (e *Executor) markSkipped(ctx context.Context, st *runState, nodeID, reason string) {
	st.setStatus(nodeID, schema.NodeStatusSkipped)
	st.mutate(nodeID, func(n *NodeOutcome) {
		n.Err = schema.NewError(schema.ErrCodeNodeFailed, reason).WithNode(nodeID)
	})
	runID := logging.RunID(ctx)
	e.persistNode(ctx, runID, st.outcome(nodeID))
	e.emit(ctx, runID, nodeID, schema.EventNodeSkipped, map[string]any{"reason": reason})
	logging.LogWith(ctx, e.logger).Info("node skipped", "node_id", nodeID, "reason", reason)
}

// skipNode marks every node behind a unit as skipped.
func (e *Executor) skipNode(ctx context.Context, st *runState, unit *Unit, reason string) {
	if unit.Kind == unitCycle {
		for _, id := range unit.Cycle.NodeIDs() {
			e.markSkipped(ctx, st, id, reason)
		}
		return
	}
	e.markSkipped(ctx, st, unit.NodeID, reason)
}

// finalStatus derives the run status. Cancellation wins; otherwise a run is
// failed only when every sink node is tainted, partially_failed when some
// useful output survived, succeeded when nothing failed.
func (e *Executor) finalStatus(ctx context.Context, st *runState) schema.RunStatus {
	if ctx.Err() != nil {
		return schema.RunStatusCancelled
	}

	tainted := func(s schema.NodeStatus) bool {
		return s == schema.NodeStatusFailed || s == schema.NodeStatusSkipped || s == schema.NodeStatusPending
	}

	anyTainted := false
	for _, n := range st.nodes {
		if tainted(n.Status) {
			anyTainted = true
			break
		}
	}
	if !anyTainted {
		return schema.RunStatusSucceeded
	}

	hasOutbound := make(map[string]bool, len(st.graph.Nodes))
	for _, c := range st.graph.Connections {
		hasOutbound[c.SourceID] = true
	}
	allSinksTainted := true
	for _, n := range st.graph.Nodes {
		if hasOutbound[n.ID] {
			continue
		}
		if !tainted(st.status(n.ID)) {
			allSinksTainted = false
			break
		}
	}
	if allSinksTainted {
		return schema.RunStatusFailed
	}
	return schema.RunStatusPartiallyFailed
}

// invoke calls a node function with panic containment. A panicking node is
// reported as a failed node, not a crashed run.
func invoke(ctx context.Context, fn NodeFunc, inputs map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "node panicked: %v", r)
		}
	}()
	return fn(ctx, inputs)
}

func asWeftError(err error, nodeID string) *schema.WeftError {
	if werr, ok := err.(*schema.WeftError); ok {
		if werr.NodeID == "" {
			return werr.WithNode(nodeID)
		}
		return werr
	}
	return schema.NewError(schema.ErrCodeNodeFailed, err.Error()).WithNode(nodeID)
}

// persistNode writes a node outcome through the store. Store failures are
// logged and swallowed; the in-memory result is authoritative for the run.
func (e *Executor) persistNode(ctx context.Context, runID string, n *NodeOutcome) {
	if n == nil {
		return
	}
	rec := &store.NodeResult{
		RunID:       runID,
		NodeID:      n.NodeID,
		Status:      n.Status,
		StartedAt:   n.StartedAt,
		CompletedAt: n.EndedAt,
		DurationMs:  n.DurationMs,
	}
	if n.Output != nil {
		if raw, err := json.Marshal(n.Output); err == nil {
			rec.Output = raw
		}
	}
	if n.Err != nil {
		if raw, err := json.Marshal(n.Err); err == nil {
			rec.Error = raw
		}
	}
	if err := e.store.UpsertNodeResult(ctx, rec); err != nil {
		logging.LogWith(ctx, e.logger).Warn("failed to persist node result",
			"node_id", n.NodeID, "error", err)
	}
}

// emit appends an event to the run log, best effort.
func (e *Executor) emit(ctx context.Context, runID, nodeID, eventType string, payload map[string]any) {
	ev := &store.Event{
		RunID:     runID,
		NodeID:    nodeID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, e.logger).Warn("failed to append event",
			"event_type", eventType, "error", err)
	}
	if e.events != nil {
		_ = e.events.Publish(ctx, streaming.Event{
			RunID:     runID,
			NodeID:    nodeID,
			EventType: eventType,
			Payload:   payload,
		})
	}
}
