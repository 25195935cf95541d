package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/weftflow/weft/pkg/schema"
)

// LibSQLStore implements RunStore over libSQL (embedded SQLite fork), for
// callers that want run history to survive the process.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns the
// store. The path should be a file URI, e.g. "file:/path/to/runs.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SaveRun inserts a new run record. Duplicate ids are a conflict.
func (s *LibSQLStore) SaveRun(ctx context.Context, run *Run) error {
	params, err := marshalNullable(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_name, status, params, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphName, string(run.Status), params, rawOrNull(run.Error),
		run.StartedAt, run.EndedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already exists", run.ID)
	}
	return err
}

// UpdateRun applies a partial update. Terminal runs are immutable.
func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is terminal (%s)", id, run.Status)
	}

	if update.Status != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(*update.Status), id); err != nil {
			return err
		}
	}
	if update.Error != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET error = ? WHERE id = ?`, string(update.Error), id); err != nil {
			return err
		}
	}
	if update.EndedAt != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET ended_at = ? WHERE id = ?`, update.EndedAt, id); err != nil {
			return err
		}
	}
	return nil
}

// GetRun loads one run record.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var status string
	var params, runErr sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, graph_name, status, params, error, started_at, ended_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.GraphName, &status, &params, &runErr, &run.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &run.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	if runErr.Valid {
		run.Error = json.RawMessage(runErr.String)
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return run, nil
}

// UpsertNodeResult writes a node result. Refused once the run is terminal.
func (s *LibSQLStore) UpsertNodeResult(ctx context.Context, result *NodeResult) error {
	run, err := s.GetRun(ctx, result.RunID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is terminal (%s)", run.ID, run.Status)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_results (run_id, node_id, status, output, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms`,
		result.RunID, result.NodeID, string(result.Status), rawOrNull(result.Output),
		rawOrNull(result.Error), result.StartedAt, result.CompletedAt, result.DurationMs,
	)
	return err
}

// GetNodeResult loads one node's result.
func (s *LibSQLStore) GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, node_id, status, output, error, started_at, completed_at, duration_ms
		 FROM node_results WHERE run_id = ? AND node_id = ?`, runID, nodeID)
	result, err := scanNodeResult(row)
	if err == sql.ErrNoRows {
		return nil, notFound("node result", runID+"/"+nodeID)
	}
	return result, err
}

// ListNodeResults loads all node results for a run, ordered by node id.
func (s *LibSQLStore) ListNodeResults(ctx context.Context, runID string) ([]*NodeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, status, output, error, started_at, completed_at, duration_ms
		 FROM node_results WHERE run_id = ? ORDER BY node_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NodeResult
	for rows.Next() {
		result, err := scanNodeResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// AppendEvent appends to the run's event log, assigning the next sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node_id, event_type, payload, sequence)
		 VALUES (?, ?, ?, ?, COALESCE((SELECT MAX(sequence) FROM run_events WHERE run_id = ?), 0) + 1)`,
		event.RunID, event.NodeID, event.Type, rawOrNull(event.Payload), event.RunID,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListEvents loads the run's events in sequence order.
func (s *LibSQLStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeResult(row rowScanner) (*NodeResult, error) {
	result := &NodeResult{}
	var status string
	var output, resultErr sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&result.RunID, &result.NodeID, &status, &output, &resultErr,
		&startedAt, &completedAt, &result.DurationMs)
	if err != nil {
		return nil, err
	}
	result.Status = schema.NodeStatus(status)
	if output.Valid {
		result.Output = json.RawMessage(output.String)
	}
	if resultErr.Valid {
		result.Error = json.RawMessage(resultErr.String)
	}
	if startedAt.Valid {
		result.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		result.CompletedAt = &completedAt.Time
	}
	return result, nil
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint")
}

var _ RunStore = (*LibSQLStore)(nil)
