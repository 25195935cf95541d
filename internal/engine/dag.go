package engine

import (
	"fmt"

	"github.com/weftflow/weft/pkg/schema"
)

// unitKind distinguishes plain nodes from condensed cycle groups in the plan.
type unitKind int

const (
	unitNode unitKind = iota
	unitCycle
)

// Unit is one schedulable element: a single node, or a whole cycle group
// treated as an opaque looping block.
type Unit struct {
	ID     string
	Kind   unitKind
	NodeID string             // unitNode only
	Cycle  *schema.CycleGroup // unitCycle only
}

// Plan is the execution plan computed from a validated graph: cycle groups
// condensed to single units, units topologically sorted into waves. Units
// within a wave have no ordering constraint and may run concurrently.
type Plan struct {
	Units      map[string]*Unit
	Deps       map[string][]string // unit id -> dependency unit ids
	Dependents map[string][]string // unit id -> dependent unit ids
	Waves      [][]string          // unit ids grouped by topological depth
	UnitOf     map[string]string   // node id -> owning unit id
}

// cycleUnitID namespaces condensed cycle units so they cannot collide with
// node ids.
func cycleUnitID(name string) string { return "cycle\x00" + name }

// BuildPlan condenses cycle groups and topologically sorts the result using
// Kahn's algorithm. Waves are derived from topological depth, with sorted
// queues for deterministic ordering. A surviving cycle here means validation
// was bypassed; that is an engine-fatal CYCLE_DETECTED error.
func BuildPlan(g *schema.Graph) (*Plan, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}

	plan := &Plan{
		Units:      make(map[string]*Unit, len(g.Nodes)),
		Deps:       make(map[string][]string),
		Dependents: make(map[string][]string),
		UnitOf:     make(map[string]string, len(g.Nodes)),
	}

	// Condense cycle groups first so member nodes map to their group unit.
	for i := range g.Cycles {
		cg := &g.Cycles[i]
		uid := cycleUnitID(cg.Name)
		plan.Units[uid] = &Unit{ID: uid, Kind: unitCycle, Cycle: cg}
		for _, nodeID := range cg.NodeIDs() {
			plan.UnitOf[nodeID] = uid
		}
	}

	for _, n := range g.Nodes {
		if _, inCycle := plan.UnitOf[n.ID]; inCycle {
			continue
		}
		plan.Units[n.ID] = &Unit{ID: n.ID, Kind: unitNode, NodeID: n.ID}
		plan.UnitOf[n.ID] = n.ID
	}

	// Map plain connections to unit edges, dropping intra-unit edges.
	seen := make(map[string]bool)
	for _, c := range g.Connections {
		src, okSrc := plan.UnitOf[c.SourceID]
		dst, okDst := plan.UnitOf[c.TargetID]
		if !okSrc || !okDst || src == dst {
			continue
		}
		key := src + "\x00" + dst
		if seen[key] {
			continue
		}
		seen[key] = true
		plan.Deps[dst] = append(plan.Deps[dst], src)
		plan.Dependents[src] = append(plan.Dependents[src], dst)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(plan.Units))
	for id := range plan.Units {
		inDegree[id] = len(plan.Deps[id])
	}

	queue := make([]string, 0, len(plan.Units))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sortStrings(queue)

	sorted := make([]string, 0, len(plan.Units))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		dependents := make([]string, len(plan.Dependents[id]))
		copy(dependents, plan.Dependents[id])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(plan.Units) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			fmt.Sprintf("graph contains a cycle outside any cycle group (%d of %d units schedulable)",
				len(sorted), len(plan.Units)))
	}

	plan.Waves = computeWaves(plan, sorted)
	return plan, nil
}

// computeWaves groups units by topological depth: a unit's depth is one more
// than the deepest of its dependencies. Units at the same depth have all
// dependencies satisfied by earlier waves.
func computeWaves(plan *Plan, sorted []string) [][]string {
	depth := make(map[string]int, len(sorted))
	maxDepth := 0
	for _, id := range sorted {
		d := 0
		for _, dep := range plan.Deps[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]string, maxDepth+1)
	for _, id := range sorted {
		waves[depth[id]] = append(waves[depth[id]], id)
	}
	return waves
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// The slices here are small: waves rarely exceed a handful of units.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
