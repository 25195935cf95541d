package schema

import "time"

// CycleGroup is a named subgraph permitted to loop. Members are executed in
// declared order every pass until the termination rule fires: ConvergeWhen
// evaluates true, the pass count reaches MaxIterations, or Timeout elapses,
// whichever first. At least one of MaxIterations/ConvergeWhen must be set.
type CycleGroup struct {
	Name          string       `json:"name"`
	Members       []Connection `json:"member_connections"`
	MaxIterations int          `json:"max_iterations,omitempty"`
	ConvergeWhen  string       `json:"converge_when,omitempty"`
	Timeout       string       `json:"timeout,omitempty"`
}

// NodeIDs returns the node ids participating in the cycle, in the order
// implied by Members (source before target, first mention wins).
func (cg *CycleGroup) NodeIDs() []string {
	seen := make(map[string]bool, len(cg.Members)*2)
	ids := make([]string, 0, len(cg.Members)*2)
	for _, m := range cg.Members {
		if m.SourceID != "" && !seen[m.SourceID] {
			seen[m.SourceID] = true
			ids = append(ids, m.SourceID)
		}
		if m.TargetID != "" && !seen[m.TargetID] {
			seen[m.TargetID] = true
			ids = append(ids, m.TargetID)
		}
	}
	return ids
}

// ParseTimeout parses the optional timeout. Returns 0 when unset.
func (cg *CycleGroup) ParseTimeout() (time.Duration, error) {
	if cg.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(cg.Timeout)
}

// CycleBuilder stages the configuration of a CycleGroup. Build returns a
// value copy, so a builder can be discarded without sharing mutable state.
type CycleBuilder struct {
	cg CycleGroup
}

// NewCycle starts building a cycle group with the given name.
func NewCycle(name string) *CycleBuilder {
	return &CycleBuilder{cg: CycleGroup{Name: name}}
}

// Connect adds a member connection to the loop.
func (b *CycleBuilder) Connect(sourceID, sourceOutput, targetID, targetInput string) *CycleBuilder {
	b.cg.Members = append(b.cg.Members, Connect(sourceID, sourceOutput, targetID, targetInput))
	return b
}

// Transform sets the jq transform on the most recently added member.
func (b *CycleBuilder) Transform(jq string) *CycleBuilder {
	if n := len(b.cg.Members); n > 0 {
		b.cg.Members[n-1].Transform = jq
	}
	return b
}

// MaxIterations caps the number of passes.
func (b *CycleBuilder) MaxIterations(n int) *CycleBuilder {
	b.cg.MaxIterations = n
	return b
}

// ConvergeWhen sets the boolean convergence expression, evaluated against
// accumulated node outputs after each full pass.
func (b *CycleBuilder) ConvergeWhen(expression string) *CycleBuilder {
	b.cg.ConvergeWhen = expression
	return b
}

// Timeout sets the wall-clock budget for the whole group.
func (b *CycleBuilder) Timeout(d string) *CycleBuilder {
	b.cg.Timeout = d
	return b
}

// Build returns the configured cycle group by value.
func (b *CycleBuilder) Build() CycleGroup {
	cg := b.cg
	cg.Members = append([]Connection(nil), b.cg.Members...)
	return cg
}
