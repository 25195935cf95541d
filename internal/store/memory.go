package store

import (
	"context"
	"sync"
	"time"

	"github.com/weftflow/weft/pkg/schema"
)

// MemoryStore is the default in-process RunStore. Results are immutable once
// a run reaches a terminal status.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	results map[string]map[string]*NodeResult // run id -> node id -> result
	events  map[string][]*Event
	nextSeq map[string]int64
	nextID  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*Run),
		results: make(map[string]map[string]*NodeResult),
		events:  make(map[string][]*Event),
		nextSeq: make(map[string]int64),
	}
}

// SaveRun records a new run. Duplicate ids are a conflict: run ids are
// unique per execution and never silently overwritten.
func (s *MemoryStore) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	s.results[run.ID] = make(map[string]*NodeResult)
	return nil
}

// UpdateRun applies a partial update. Terminal runs are immutable.
func (s *MemoryStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return notFound("run", id)
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is terminal (%s)", id, run.Status)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	if update.EndedAt != nil {
		run.EndedAt = update.EndedAt
	}
	return nil
}

// GetRun returns a copy of the run record.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	cp := *run
	return &cp, nil
}

// UpsertNodeResult writes a node result. Refused once the run is terminal.
func (s *MemoryStore) UpsertNodeResult(ctx context.Context, result *NodeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[result.RunID]
	if !ok {
		return notFound("run", result.RunID)
	}
	if run.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s is terminal (%s)", run.ID, run.Status)
	}
	cp := *result
	s.results[result.RunID][result.NodeID] = &cp
	return nil
}

// GetNodeResult returns a copy of one node's result.
func (s *MemoryStore) GetNodeResult(ctx context.Context, runID, nodeID string) (*NodeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byNode, ok := s.results[runID]
	if !ok {
		return nil, notFound("run", runID)
	}
	result, ok := byNode[nodeID]
	if !ok {
		return nil, notFound("node result", runID+"/"+nodeID)
	}
	cp := *result
	return &cp, nil
}

// ListNodeResults returns copies of all node results for a run, in node id
// order for determinism.
func (s *MemoryStore) ListNodeResults(ctx context.Context, runID string) ([]*NodeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byNode, ok := s.results[runID]
	if !ok {
		return nil, notFound("run", runID)
	}
	out := make([]*NodeResult, 0, len(byNode))
	for _, r := range byNode {
		cp := *r
		out = append(out, &cp)
	}
	sortNodeResults(out)
	return out, nil
}

// AppendEvent appends to the run's event log, assigning id and sequence.
func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.nextSeq[event.RunID]++
	cp := *event
	cp.ID = s.nextID
	cp.Sequence = s.nextSeq[event.RunID]
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	s.events[event.RunID] = append(s.events[event.RunID], &cp)

	event.ID = cp.ID
	event.Sequence = cp.Sequence
	return nil
}

// ListEvents returns the run's events in append order.
func (s *MemoryStore) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[runID]
	out := make([]*Event, len(events))
	for i, e := range events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func sortNodeResults(results []*NodeResult) {
	for i := 1; i < len(results); i++ {
		key := results[i]
		j := i - 1
		for j >= 0 && results[j].NodeID > key.NodeID {
			results[j+1] = results[j]
			j--
		}
		results[j+1] = key
	}
}

var _ RunStore = (*MemoryStore)(nil)
