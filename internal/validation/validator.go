// Package validation statically checks a graph before execution. Checks run
// in a fixed order and accumulate every finding, so one pass reports the
// full defect list; running the same graph twice yields identical reports.
package validation

import (
	"fmt"
	"strings"

	"github.com/weftflow/weft/internal/expressions"
	"github.com/weftflow/weft/pkg/schema"
)

// TypeLookup is the slice of the node registry the validator needs.
// A nil lookup degrades gracefully: type existence and required-parameter
// checks are skipped.
type TypeLookup interface {
	Has(typeName string) bool
	RequiredParameters(typeName string) []string
	ConfigSchema(typeName string) []byte
}

// DefaultMaxIterationsWarn is the high-water mark above which a cycle
// group's max_iterations draws a performance warning.
const DefaultMaxIterationsWarn = 1000

// suspiciousMarkers flags field names that look like stale or placeholder
// wiring. This is a lint heuristic, not a type check.
var suspiciousMarkers = []string{"nonexistent", "invalid", "fake"}

// Config tunes the validator.
type Config struct {
	Registry          TypeLookup             // optional
	Schemas           *ConfigSchemaValidator // optional, for node config schemas
	MaxIterationsWarn int                    // 0 means DefaultMaxIterationsWarn
}

// ValidateGraph runs the full check sequence over the graph.
func ValidateGraph(g *schema.Graph, cfg Config) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		result.AddError("", schema.CodeMissingRequiredParam, "graph is nil")
		return result
	}
	if cfg.MaxIterationsWarn <= 0 {
		cfg.MaxIterationsWarn = DefaultMaxIterationsWarn
	}

	v := &graphValidator{graph: g, cfg: cfg, result: result}
	v.checkNodes()
	v.checkParameters()
	v.checkEndpoints()
	v.checkShapes()
	v.checkFieldNames()
	v.checkAcyclic()
	v.checkDuplicateTargets()
	v.checkCycleGroups()
	return result
}

type graphValidator struct {
	graph  *schema.Graph
	cfg    Config
	result *schema.ValidationResult
}

// checkNodes verifies node id uniqueness and (when a registry is supplied)
// that every node type resolves.
func (v *graphValidator) checkNodes() {
	seen := make(map[string]bool, len(v.graph.Nodes))
	for i, n := range v.graph.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if seen[n.ID] {
			v.result.AddError(path+".id", schema.CodeDuplicateNodeID,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true

		if v.cfg.Registry != nil && !v.cfg.Registry.Has(n.Type) {
			v.result.AddError(path+".type", schema.CodeUnknownNodeType,
				fmt.Sprintf("node type %q not registered", n.Type))
		}
	}
}

// checkParameters verifies required parameters are present in config or
// supplied by an inbound connection, and validates config against the node
// type's JSON Schema when one is declared.
func (v *graphValidator) checkParameters() {
	if v.cfg.Registry == nil {
		return
	}

	// Inbound suppliers: (target id, target input) pairs from plain
	// connections and cycle members alike.
	supplied := make(map[string]map[string]bool)
	record := func(c schema.Connection) {
		if c.TargetID == "" || c.TargetInput == "" {
			return
		}
		if supplied[c.TargetID] == nil {
			supplied[c.TargetID] = make(map[string]bool)
		}
		supplied[c.TargetID][c.TargetInput] = true
	}
	for _, c := range v.graph.Connections {
		record(c)
	}
	for _, cg := range v.graph.Cycles {
		for _, c := range cg.Members {
			record(c)
		}
	}

	for i, n := range v.graph.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		for _, req := range v.cfg.Registry.RequiredParameters(n.Type) {
			if _, ok := n.Config[req]; ok {
				continue
			}
			if supplied[n.ID][req] {
				continue
			}
			v.result.AddError(path+".config."+req, schema.CodeMissingRequiredParam,
				fmt.Sprintf("node %q: required parameter %q not in config and not supplied by a connection", n.ID, req))
		}

		if v.cfg.Schemas != nil {
			if raw := v.cfg.Registry.ConfigSchema(n.Type); len(raw) > 0 {
				if err := v.cfg.Schemas.ValidateConfig(n.Config, raw); err != nil {
					v.result.AddError(path+".config", schema.CodeConfigSchemaViolated,
						fmt.Sprintf("node %q: %s", n.ID, err.Error()))
				}
			}
		}
	}
}

// checkEndpoints verifies both ends of every connection reference existing
// nodes. One error per dangling endpoint per connection.
func (v *graphValidator) checkEndpoints() {
	for i, c := range v.graph.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if c.SourceID != "" && !v.graph.HasNode(c.SourceID) {
			v.result.AddError(path+".source_id", schema.CodeUnknownSource,
				fmt.Sprintf("source node %q does not exist", c.SourceID))
		}
		if c.TargetID != "" && !v.graph.HasNode(c.TargetID) {
			v.result.AddError(path+".target_id", schema.CodeUnknownTarget,
				fmt.Sprintf("target node %q does not exist", c.TargetID))
		}
	}
}

// checkShapes rejects the legacy 2-tuple connection form and connections
// with missing fields. Never silently upgraded.
func (v *graphValidator) checkShapes() {
	for i, c := range v.graph.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		switch {
		case c.Legacy():
			v.result.AddError(path, schema.CodeMalformedConnection,
				"legacy 2-tuple connection shape; declare source_output and target_input explicitly")
		case !c.Complete():
			v.result.AddError(path, schema.CodeMalformedConnection,
				"connection must carry source_id, source_output, target_id and target_input")
		}
		if c.Transform != "" {
			if err := jqChecker.Check(c.Transform); err != nil {
				v.result.AddError(path+".transform", schema.CodeMalformedConnection,
					fmt.Sprintf("transform does not compile: %s", err.Error()))
			}
		}
	}
}

// checkFieldNames flags output/input names containing placeholder markers.
// Heuristic lint against stale wiring, not a schema check.
func (v *graphValidator) checkFieldNames() {
	for i, c := range v.graph.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		v.fieldNameLint(path, c)
	}
	for i, cg := range v.graph.Cycles {
		for j, c := range cg.Members {
			path := fmt.Sprintf("cycle_groups[%d].member_connections[%d]", i, j)
			v.fieldNameLint(path, c)
		}
	}
}

func (v *graphValidator) fieldNameLint(path string, c schema.Connection) {
	if marker := suspiciousName(c.SourceOutput); marker != "" {
		v.result.AddError(path+".source_output", schema.CodeSuspiciousOutput,
			fmt.Sprintf("output field %q contains placeholder marker %q", c.SourceOutput, marker))
	}
	if marker := suspiciousName(c.TargetInput); marker != "" {
		v.result.AddError(path+".target_input", schema.CodeSuspiciousInput,
			fmt.Sprintf("input field %q contains placeholder marker %q", c.TargetInput, marker))
	}
}

func suspiciousName(field string) string {
	lower := strings.ToLower(field)
	for _, m := range suspiciousMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

// checkAcyclic runs depth-first cycle detection over plain connections only.
// Cycle-group edges are exempt by construction.
func (v *graphValidator) checkAcyclic() {
	adjacency := make(map[string][]string)
	for _, c := range v.graph.Connections {
		if c.SourceID == "" || c.TargetID == "" {
			continue
		}
		adjacency[c.SourceID] = append(adjacency[c.SourceID], c.TargetID)
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(v.graph.Nodes))
	var stack []string
	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				cycle := extractCycle(stack, next)
				key := strings.Join(cycle, "->")
				if !reported[key] {
					reported[key] = true
					v.result.AddError("connections", schema.CodeIllegalCycle,
						fmt.Sprintf("cycle outside any cycle group: %s", strings.Join(cycle, " -> ")))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range v.graph.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}

// extractCycle returns the stack suffix starting at the back-edge target,
// closed with the target again.
func extractCycle(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start, start}
}

// checkDuplicateTargets rejects two plain connections feeding the same
// (target, input) pair. Cycle members are exempt: re-delivery each pass is
// the point of a loop, and seeding a loop input from outside is legal.
func (v *graphValidator) checkDuplicateTargets() {
	seen := make(map[string]int)
	for i, c := range v.graph.Connections {
		if c.TargetID == "" || c.TargetInput == "" {
			continue
		}
		key := c.TargetID + "\x00" + c.TargetInput
		if first, dup := seen[key]; dup {
			v.result.AddError(fmt.Sprintf("connections[%d]", i), schema.CodeDuplicateTargetInput,
				fmt.Sprintf("input %s.%s already supplied by connections[%d]", c.TargetID, c.TargetInput, first))
			continue
		}
		seen[key] = i
	}
}

// checkCycleGroups verifies each group has members, a termination rule,
// sane bounds, known node ids, and no node shared with another group.
func (v *graphValidator) checkCycleGroups() {
	claimed := make(map[string]string) // node id -> group name
	for i, cg := range v.graph.Cycles {
		path := fmt.Sprintf("cycle_groups[%d]", i)

		if len(cg.Members) == 0 {
			v.result.AddError(path+".member_connections", schema.CodeCycleNoMembers,
				fmt.Sprintf("cycle group %q has no member connections", cg.Name))
		}

		hasMaxIter := cg.MaxIterations != 0
		hasConverge := cg.ConvergeWhen != ""
		if !hasMaxIter && !hasConverge {
			v.result.AddError(path, schema.CodeCycleNoTermination,
				fmt.Sprintf("cycle group %q declares neither max_iterations nor converge_when", cg.Name))
		}
		if hasConverge {
			if err := expressions.CheckBool(cg.ConvergeWhen); err != nil {
				v.result.AddError(path+".converge_when", schema.CodeCycleDegenerateCondition,
					fmt.Sprintf("cycle group %q: %s", cg.Name, err.Error()))
			}
		}
		if hasMaxIter && cg.MaxIterations < 0 {
			v.result.AddError(path+".max_iterations", schema.CodeCycleBadBound,
				fmt.Sprintf("cycle group %q: max_iterations must be positive", cg.Name))
		}
		if d, err := cg.ParseTimeout(); err != nil {
			v.result.AddError(path+".timeout", schema.CodeCycleBadBound,
				fmt.Sprintf("cycle group %q: invalid timeout %q", cg.Name, cg.Timeout))
		} else if cg.Timeout != "" && d <= 0 {
			v.result.AddError(path+".timeout", schema.CodeCycleBadBound,
				fmt.Sprintf("cycle group %q: timeout must be positive", cg.Name))
		}

		for _, id := range cg.NodeIDs() {
			if !v.graph.HasNode(id) {
				v.result.AddError(path+".member_connections", schema.CodeCycleUnknownNode,
					fmt.Sprintf("cycle group %q references unknown node %q", cg.Name, id))
			}
			if owner, taken := claimed[id]; taken && owner != cg.Name {
				v.result.AddError(path+".member_connections", schema.CodeCycleNodeOverlap,
					fmt.Sprintf("node %q belongs to cycle groups %q and %q", id, owner, cg.Name))
			} else {
				claimed[id] = cg.Name
			}
		}

		if cg.MaxIterations > v.cfg.MaxIterationsWarn {
			v.result.AddWarning(path+".max_iterations", schema.CodeCycleHighIterations,
				fmt.Sprintf("cycle group %q: max_iterations %d exceeds %d; prefer converge_when",
					cg.Name, cg.MaxIterations, v.cfg.MaxIterationsWarn))
		}
	}
}

// jqChecker validates transform expressions at graph-check time. Shared:
// compiled code is cached for the executor path anyway.
var jqChecker = expressions.NewJQEngine()
