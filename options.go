package weft

import (
	"log/slog"

	"github.com/weftflow/weft/internal/store"
)

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	store             store.RunStore
	logger            *slog.Logger
	poolSize          int
	useCEL            bool
	maxIterationsWarn int
	libsqlPath        string
}

// WithLogger sets the structured logger. Run and node ids are attached to
// every record automatically.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runnerOptions) { o.logger = logger }
}

// WithPoolSize bounds how many nodes one run executes concurrently.
func WithPoolSize(n int) Option {
	return func(o *runnerOptions) { o.poolSize = n }
}

// WithCELConvergence evaluates cycle group converge_when expressions with
// CEL instead of the default expr engine.
func WithCELConvergence() Option {
	return func(o *runnerOptions) { o.useCEL = true }
}

// WithPersistentStore keeps run history in an embedded libsql database at
// the given path instead of the default in-memory store.
func WithPersistentStore(path string) Option {
	return func(o *runnerOptions) { o.libsqlPath = path }
}

// WithCycleIterationWarning sets the max_iterations threshold above which
// validation emits a performance warning.
func WithCycleIterationWarning(n int) Option {
	return func(o *runnerOptions) { o.maxIterationsWarn = n }
}

// withStore injects an arbitrary store. Used by tests.
func withStore(s store.RunStore) Option {
	return func(o *runnerOptions) { o.store = s }
}
