package weft

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/weftflow/weft/internal/diagram"
	"github.com/weftflow/weft/internal/engine"
	"github.com/weftflow/weft/internal/expressions"
	"github.com/weftflow/weft/internal/logging"
	"github.com/weftflow/weft/internal/scheduler"
	"github.com/weftflow/weft/internal/store"
	"github.com/weftflow/weft/internal/streaming"
	"github.com/weftflow/weft/internal/validation"
	"github.com/weftflow/weft/pkg/schema"
)

// NodeOutcome is the per-node result of a run.
type NodeOutcome = engine.NodeOutcome

// ExecutionResult is what Execute returns. When the graph fails validation,
// Validation carries the issues, RunID is empty, and no node ran; validation
// problems are data, not errors.
type ExecutionResult struct {
	RunID      string                   `json:"run_id,omitempty"`
	GraphName  string                   `json:"graph_name,omitempty"`
	Status     schema.RunStatus         `json:"status,omitempty"`
	Nodes      map[string]*NodeOutcome  `json:"nodes,omitempty"`
	Validation *schema.ValidationResult `json:"validation,omitempty"`
	StartedAt  time.Time                `json:"started_at,omitzero"`
	EndedAt    time.Time                `json:"ended_at,omitzero"`
}

// Valid reports whether the graph passed validation.
func (r *ExecutionResult) Valid() bool {
	return r.Validation == nil || r.Validation.Valid()
}

// RunEvent is one entry of a run's event log.
type RunEvent struct {
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a read-only view of one recurring run.
type ScheduledJob struct {
	ID            string
	GraphName     string
	CronExpr      string
	Enabled       bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}

// Runner ties a registry to an executor, a validator, a run store, and a
// scheduler. Safe for concurrent use.
type Runner struct {
	registry  *Registry
	executor  *engine.Executor
	scheduler *scheduler.Scheduler
	schemas   *validation.ConfigSchemaValidator
	store     store.RunStore
	hub       *streaming.MemoryHub
	logger    *slog.Logger
	warnAt    int
	closer    func() error
}

// NewRunner builds a Runner around a registry. A nil registry uses the
// package default.
func NewRunner(registry *Registry, opts ...Option) (*Runner, error) {
	if registry == nil {
		registry = defaultRegistry
	}

	var o runnerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}

	var closer func() error
	if o.store == nil {
		if o.libsqlPath != "" {
			ls, err := store.NewLibSQLStore(o.libsqlPath)
			if err != nil {
				return nil, err
			}
			if err := ls.Migrate(context.Background()); err != nil {
				ls.Close()
				return nil, err
			}
			o.store = ls
			closer = ls.Close
		} else {
			o.store = store.NewMemoryStore()
		}
	}

	var conv expressions.Engine
	if o.useCEL {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		conv = cel
	} else {
		conv = expressions.NewExprEngine()
	}

	r := &Runner{
		registry: registry,
		schemas:  validation.NewConfigSchemaValidator(),
		store:    o.store,
		hub:      streaming.NewMemoryHub(),
		logger:   o.logger,
		warnAt:   o.maxIterationsWarn,
		closer:   closer,
	}
	r.executor = engine.NewExecutor(registry, engine.Config{
		PoolSize:    o.poolSize,
		Convergence: conv,
		Store:       o.store,
		Logger:      o.logger,
		Events:      r.hub,
	})
	r.scheduler = scheduler.NewScheduler(&schedulerRunner{r}, o.logger)
	return r, nil
}

// Close releases the run store when it holds external resources.
func (r *Runner) Close() error {
	r.scheduler.Stop()
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// Validate runs the full static check sequence over a graph and returns
// every issue found, errors and warnings alike.
func (r *Runner) Validate(g *schema.Graph) *schema.ValidationResult {
	return validation.ValidateGraph(g, validation.Config{
		Registry:          r.registry,
		Schemas:           r.schemas,
		MaxIterationsWarn: r.warnAt,
	})
}

// Execute validates the graph and, if it is sound, runs it to completion.
// An invalid graph returns an ExecutionResult carrying the validation
// issues and a nil error; no run is created. Warnings do not block
// execution.
func (r *Runner) Execute(ctx context.Context, g *schema.Graph, params map[string]any) (*ExecutionResult, error) {
	vr := r.Validate(g)
	if vr.HasErrors() {
		return &ExecutionResult{Validation: vr}, nil
	}

	res, err := r.executor.Execute(ctx, g, params)
	if res == nil {
		return nil, err
	}
	return &ExecutionResult{
		RunID:      res.RunID,
		GraphName:  res.GraphName,
		Status:     res.Status,
		Nodes:      res.Nodes,
		Validation: vr,
		StartedAt:  res.StartedAt,
		EndedAt:    res.EndedAt,
	}, err
}

// Status returns the current status of a run.
func (r *Runner) Status(ctx context.Context, runID string) (schema.RunStatus, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// Result reconstructs a finished run's result from the store.
func (r *Runner) Result(ctx context.Context, runID string) (*ExecutionResult, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	records, err := r.store.ListNodeResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*NodeOutcome, len(records))
	for _, rec := range records {
		nodes[rec.NodeID] = outcomeFromRecord(rec)
	}

	result := &ExecutionResult{
		RunID:     run.ID,
		GraphName: run.GraphName,
		Status:    run.Status,
		Nodes:     nodes,
		StartedAt: run.StartedAt,
	}
	if run.EndedAt != nil {
		result.EndedAt = *run.EndedAt
	}
	return result, nil
}

// NodeResult returns one node's outcome from a run. Unknown run ids and
// unknown node ids both come back as NOT_FOUND.
func (r *Runner) NodeResult(ctx context.Context, runID, nodeID string) (*NodeOutcome, error) {
	rec, err := r.store.GetNodeResult(ctx, runID, nodeID)
	if err != nil {
		return nil, err
	}
	return outcomeFromRecord(rec), nil
}

func outcomeFromRecord(rec *store.NodeResult) *NodeOutcome {
	outcome := &NodeOutcome{
		NodeID:     rec.NodeID,
		Status:     rec.Status,
		StartedAt:  rec.StartedAt,
		EndedAt:    rec.CompletedAt,
		DurationMs: rec.DurationMs,
	}
	if len(rec.Output) > 0 {
		_ = json.Unmarshal(rec.Output, &outcome.Output)
	}
	if len(rec.Error) > 0 {
		var werr schema.WeftError
		if json.Unmarshal(rec.Error, &werr) == nil {
			outcome.Err = &werr
		}
	}
	return outcome
}

// Events returns a run's event log in append order.
func (r *Runner) Events(ctx context.Context, runID string) ([]RunEvent, error) {
	records, err := r.store.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]RunEvent, 0, len(records))
	for _, ev := range records {
		out = append(out, RunEvent{
			RunID:     ev.RunID,
			NodeID:    ev.NodeID,
			Type:      ev.Type,
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
			Sequence:  ev.Sequence,
		})
	}
	return out, nil
}

// Cancel requests cooperative cancellation of a running run. In-flight
// nodes finish; later waves and cycle passes never start.
func (r *Runner) Cancel(runID string) error {
	return r.executor.Cancel(runID)
}

// Watch subscribes to live events, optionally filtered to one run and a set
// of event types. The returned cancel function must be called to release
// the subscription. Delivery is best effort: a slow consumer misses events
// rather than stalling the run.
func (r *Runner) Watch(ctx context.Context, runID string, eventTypes ...string) (<-chan RunEvent, func(), error) {
	inner, unsub, err := r.hub.Subscribe(ctx, streaming.Filter{RunID: runID, EventTypes: eventTypes})
	if err != nil {
		return nil, nil, err
	}

	out := make(chan RunEvent, cap(inner))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case ev, ok := <-inner:
				if !ok {
					return
				}
				re := RunEvent{
					RunID:     ev.RunID,
					NodeID:    ev.NodeID,
					Type:      ev.EventType,
					Timestamp: time.Now().UTC(),
				}
				if ev.Payload != nil {
					if raw, err := json.Marshal(ev.Payload); err == nil {
						re.Payload = raw
					}
				}
				select {
				case out <- re:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
	return out, cancel, nil
}

// Schedule registers a recurring run of a graph on a cron schedule. The
// graph is validated up front.
func (r *Runner) Schedule(id string, g *schema.Graph, cronExpr string, params map[string]any) error {
	if vr := r.Validate(g); vr.HasErrors() {
		return vr.ToError()
	}
	return r.scheduler.Add(&scheduler.Job{
		ID:       id,
		Graph:    g,
		CronExpr: cronExpr,
		Params:   params,
		Enabled:  true,
	})
}

// Unschedule removes a recurring run.
func (r *Runner) Unschedule(id string) { r.scheduler.Remove(id) }

// ScheduledJobs lists the registered recurring runs.
func (r *Runner) ScheduledJobs() []ScheduledJob {
	jobs := r.scheduler.Jobs()
	out := make([]ScheduledJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ScheduledJob{
			ID:            j.ID,
			GraphName:     j.Graph.Name,
			CronExpr:      j.CronExpr,
			Enabled:       j.Enabled,
			LastRunAt:     j.LastRunAt,
			NextRunAt:     j.NextRunAt,
			LastRunStatus: j.LastRunStatus,
		})
	}
	return out
}

// DiagramASCII renders the graph's wave layout as an ASCII diagram. A
// non-nil result overlays per-node statuses from that run.
func (r *Runner) DiagramASCII(g *schema.Graph, result *ExecutionResult) (string, error) {
	model, err := diagram.Build(g, statusOverlay(result))
	if err != nil {
		return "", err
	}
	return diagram.RenderASCII(model), nil
}

// DiagramMermaid renders the graph as a Mermaid flowchart, cycle groups as
// subgraphs. A non-nil result overlays per-node statuses.
func (r *Runner) DiagramMermaid(g *schema.Graph, result *ExecutionResult) (string, error) {
	model, err := diagram.Build(g, statusOverlay(result))
	if err != nil {
		return "", err
	}
	return diagram.RenderMermaid(model), nil
}

func statusOverlay(result *ExecutionResult) map[string]diagram.StatusOverlay {
	if result == nil {
		return nil
	}
	overlay := make(map[string]diagram.StatusOverlay, len(result.Nodes))
	for id, n := range result.Nodes {
		o := diagram.StatusOverlay{Status: string(n.Status), DurationMs: n.DurationMs}
		if n.Err != nil {
			o.Error = n.Err.Message
		}
		overlay[id] = o
	}
	return overlay
}

// StartScheduler launches the background trigger loop for scheduled runs.
func (r *Runner) StartScheduler(ctx context.Context) error { return r.scheduler.Start(ctx) }

// StopScheduler shuts the trigger loop down.
func (r *Runner) StopScheduler() error { return r.scheduler.Stop() }

// schedulerRunner adapts Runner to the scheduler's narrow interface.
type schedulerRunner struct{ r *Runner }

func (s *schedulerRunner) RunGraph(ctx context.Context, g *schema.Graph, params map[string]any) error {
	res, err := s.r.Execute(ctx, g, params)
	if err != nil {
		return err
	}
	if !res.Valid() {
		return res.Validation.ToError()
	}
	if res.Status == schema.RunStatusFailed {
		return schema.NewErrorf(schema.ErrCodeNodeFailed, "run %s failed", res.RunID)
	}
	return nil
}

var (
	defaultRunnerOnce sync.Once
	defaultRunner     *Runner
)

// Default returns the process-wide Runner bound to the default registry.
func Default() *Runner {
	defaultRunnerOnce.Do(func() {
		defaultRunner, _ = NewRunner(defaultRegistry)
	})
	return defaultRunner
}

// Execute runs a graph with the default Runner.
func Execute(ctx context.Context, g *schema.Graph, params map[string]any) (*ExecutionResult, error) {
	return Default().Execute(ctx, g, params)
}

// Validate checks a graph with the default Runner.
func Validate(g *schema.Graph) *schema.ValidationResult {
	return Default().Validate(g)
}
