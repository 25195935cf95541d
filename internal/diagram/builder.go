package diagram

import (
	"fmt"
	"strings"

	"github.com/weftflow/weft/internal/engine"
	"github.com/weftflow/weft/pkg/schema"
)

// Build converts a graph into the renderer model. The layout reuses the
// executor's plan, so the diagram shows exactly the waves a run would
// schedule, with each cycle group condensed to one looping block. statuses
// optionally overlays per-node outcomes from a finished run; cycle blocks
// take the worst status among their members.
func Build(g *schema.Graph, statuses map[string]StatusOverlay) (*Model, error) {
	plan, err := engine.BuildPlan(g)
	if err != nil {
		return nil, err
	}

	model := &Model{Title: g.Name}

	displayID := make(map[string]string, len(plan.Units))
	for _, cg := range g.Cycles {
		members := cg.NodeIDs()
		id := "cycle_" + sanitizeID(cg.Name)
		node := &Node{
			ID:      id,
			Label:   fmt.Sprintf("%s (max %s)", cg.Name, cycleBudget(cg)),
			Kind:    NodeKindCycle,
			Members: members,
		}
		if statuses != nil {
			node.Status = worstStatus(members, statuses)
		}
		model.Nodes = append(model.Nodes, node)
		for _, m := range members {
			displayID[m] = id
		}
	}

	for _, n := range g.Nodes {
		if _, inCycle := displayID[n.ID]; inCycle {
			continue
		}
		displayID[n.ID] = n.ID
		node := &Node{
			ID:    n.ID,
			Label: fmt.Sprintf("%s\n%s", n.ID, n.Type),
			Kind:  NodeKindNode,
		}
		if s, ok := statuses[n.ID]; ok {
			copied := s
			node.Status = &copied
		}
		model.Nodes = append(model.Nodes, node)
	}

	seen := make(map[string]bool)
	for _, c := range g.Connections {
		from, to := displayID[c.SourceID], displayID[c.TargetID]
		if from == "" || to == "" || from == to {
			continue
		}
		key := from + "\x00" + to + "\x00" + c.TargetInput
		if seen[key] {
			continue
		}
		seen[key] = true
		model.Edges = append(model.Edges, Edge{From: from, To: to, Label: c.TargetInput})
	}

	for _, wave := range plan.Waves {
		level := make([]string, 0, len(wave))
		for _, uid := range wave {
			if cycle := planCycleName(plan, uid); cycle != "" {
				level = append(level, "cycle_"+sanitizeID(cycle))
			} else {
				level = append(level, uid)
			}
		}
		model.Levels = append(model.Levels, level)
	}

	return model, nil
}

func planCycleName(plan *engine.Plan, unitID string) string {
	if u := plan.Units[unitID]; u != nil && u.Cycle != nil {
		return u.Cycle.Name
	}
	return ""
}

// cycleBudget describes a cycle group's termination rule in a short label.
func cycleBudget(cg schema.CycleGroup) string {
	switch {
	case cg.MaxIterations > 0 && cg.ConvergeWhen != "":
		return fmt.Sprintf("%d passes or converged", cg.MaxIterations)
	case cg.MaxIterations > 0:
		return fmt.Sprintf("%d passes", cg.MaxIterations)
	default:
		return "until converged"
	}
}

// worstStatus picks the most severe member status for a cycle block.
func worstStatus(members []string, statuses map[string]StatusOverlay) *StatusOverlay {
	rank := func(s string) int {
		switch s {
		case "failed":
			return 3
		case string(schema.NodeStatusSkipped):
			return 2
		case "running":
			return 1
		default:
			return 0
		}
	}
	var worst *StatusOverlay
	for _, m := range members {
		s, ok := statuses[m]
		if !ok {
			continue
		}
		if worst == nil || rank(s.Status) > rank(worst.Status) {
			copied := s
			worst = &copied
		}
	}
	return worst
}

// sanitizeID makes a name safe for renderer ids.
func sanitizeID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
