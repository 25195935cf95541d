package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (f *fakeRunner) RunGraph(ctx context.Context, g *schema.Graph, params map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, g.Name)
	return f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGraph(name string) *schema.Graph {
	g := schema.NewGraph(name)
	g.AddNode("only", "noop", nil)
	return g
}

func TestAdd_ValidatesCronExpression(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())

	err := s.Add(&Job{ID: "bad", Graph: testGraph("g"), CronExpr: "not a schedule"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron expression")

	err = s.Add(&Job{ID: "good", Graph: testGraph("g"), CronExpr: "*/5 * * * *"})
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].NextRunAt)
	assert.True(t, jobs[0].NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestAdd_RejectsDuplicatesAndBlanks(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())

	require.Error(t, s.Add(&Job{ID: "", Graph: testGraph("g"), CronExpr: "* * * * *"}))
	require.Error(t, s.Add(&Job{ID: "nograph", CronExpr: "* * * * *"}))

	require.NoError(t, s.Add(&Job{ID: "nightly", Graph: testGraph("g"), CronExpr: "0 2 * * *"}))
	err := s.Add(&Job{ID: "nightly", Graph: testGraph("g"), CronExpr: "0 3 * * *"})
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)
}

func TestNextRun_CronMath(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())
	from := time.Date(2026, 3, 14, 10, 17, 0, 0, time.UTC)

	next, err := s.NextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC), next)

	next, err = s.NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), next)
}

func TestSetEnabled(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *", Enabled: true}))

	require.NoError(t, s.SetEnabled("j", false))
	assert.False(t, s.Jobs()[0].Enabled)

	err := s.SetEnabled("missing", true)
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, werr.Code)
}

func TestRemove_IsIdempotent(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *"}))

	s.Remove("j")
	s.Remove("j")
	assert.Empty(t, s.Jobs())
}

func TestTick_RunsDueJobsOnly(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, discard())

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	due := &Job{ID: "due", Graph: testGraph("due-graph"), CronExpr: "* * * * *", Enabled: true}
	require.NoError(t, s.Add(due))
	notYet := &Job{ID: "later", Graph: testGraph("later-graph"), CronExpr: "* * * * *", Enabled: true}
	require.NoError(t, s.Add(notYet))
	disabled := &Job{ID: "off", Graph: testGraph("off-graph"), CronExpr: "* * * * *", Enabled: false}
	require.NoError(t, s.Add(disabled))

	// Force due times: Add computed them in the future.
	s.mu.Lock()
	s.jobs["due"].NextRunAt = &past
	s.jobs["later"].NextRunAt = &future
	s.jobs["off"].NextRunAt = &past
	s.mu.Unlock()

	s.tick(context.Background())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{"due-graph"}, runner.runs)
}

func TestTick_AdvancesJobState(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, discard())

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *", Enabled: true}))
	s.mu.Lock()
	s.jobs["j"].NextRunAt = &past
	s.mu.Unlock()

	s.tick(context.Background())

	job := s.Jobs()[0]
	require.NotNil(t, job.LastRunAt)
	assert.Equal(t, "success", job.LastRunStatus)
	require.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(past))
}

func TestTick_RecordsFailures(t *testing.T) {
	runner := &fakeRunner{err: errors.New("graph rejected")}
	s := NewScheduler(runner, discard())

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *", Enabled: true}))
	s.mu.Lock()
	s.jobs["j"].NextRunAt = &past
	s.mu.Unlock()

	s.tick(context.Background())

	assert.Equal(t, "error", s.Jobs()[0].LastRunStatus)
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, discard())
	s.interval = 10 * time.Millisecond

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *", Enabled: true}))
	s.mu.Lock()
	s.jobs["j"].NextRunAt = &past
	s.mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")

	// The initial tick fires immediately.
	require.Eventually(t, func() bool { return runner.count() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestJobs_ReturnsCopies(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, discard())
	require.NoError(t, s.Add(&Job{ID: "j", Graph: testGraph("g"), CronExpr: "* * * * *"}))

	s.Jobs()[0].Enabled = true
	assert.False(t, s.Jobs()[0].Enabled, "mutating a snapshot must not touch the live job")
}
