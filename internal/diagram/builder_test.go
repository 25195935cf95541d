package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func pipelineGraph() *schema.Graph {
	g := schema.NewGraph("report pipeline")
	g.AddNode("fetch", "http.get", nil)
	g.AddNode("draft", "llm.draft", nil)
	g.AddNode("critique", "llm.critique", nil)
	g.AddNode("publish", "publish", nil)
	g.Connect("fetch", "body", "draft", "source")
	g.Connect("critique", "text", "publish", "text")
	g.AddCycle(schema.NewCycle("refine").
		Connect("draft", "text", "critique", "text").
		Connect("critique", "feedback", "draft", "feedback").
		MaxIterations(5).
		ConvergeWhen("nodes.critique.score >= 0.9").
		Build())
	return g
}

func TestBuild_LevelsFollowWaves(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	require.Len(t, model.Levels, 3)
	assert.Equal(t, []string{"fetch"}, model.Levels[0])
	assert.Equal(t, []string{"cycle_refine"}, model.Levels[1])
	assert.Equal(t, []string{"publish"}, model.Levels[2])
}

func TestBuild_CycleBlock(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	var cycle *Node
	for _, n := range model.Nodes {
		if n.Kind == NodeKindCycle {
			cycle = n
		}
	}
	require.NotNil(t, cycle)
	assert.Equal(t, "cycle_refine", cycle.ID)
	assert.Equal(t, []string{"draft", "critique"}, cycle.Members)
	assert.Contains(t, cycle.Label, "5 passes or converged")
}

func TestBuild_EdgesCollapseIntoCycleBlock(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	require.Len(t, model.Edges, 2)
	assert.Equal(t, Edge{From: "fetch", To: "cycle_refine", Label: "source"}, model.Edges[0])
	assert.Equal(t, Edge{From: "cycle_refine", To: "publish", Label: "text"}, model.Edges[1])
}

func TestBuild_DeduplicatesEdges(t *testing.T) {
	g := schema.NewGraph("dup")
	g.AddNode("a", "t", nil)
	g.AddNode("b", "t", nil)
	g.Connect("a", "x", "b", "in")
	g.Connect("a", "y", "b", "in")
	g.Connect("a", "x", "b", "other")

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Len(t, model.Edges, 2, "same target input collapses, distinct inputs stay")
}

func TestBuild_StatusOverlay(t *testing.T) {
	statuses := map[string]StatusOverlay{
		"fetch":    {Status: "succeeded", DurationMs: 12},
		"draft":    {Status: "succeeded"},
		"critique": {Status: "failed", Error: "model unavailable"},
		"publish":  {Status: string(schema.NodeStatusSkipped)},
	}

	model, err := Build(pipelineGraph(), statuses)
	require.NoError(t, err)

	fetch := findNode(model.Nodes, "fetch")
	require.NotNil(t, fetch.Status)
	assert.Equal(t, int64(12), fetch.Status.DurationMs)

	// The cycle block takes the worst member status.
	cycle := findNode(model.Nodes, "cycle_refine")
	require.NotNil(t, cycle.Status)
	assert.Equal(t, "failed", cycle.Status.Status)
}

func TestBuild_InvalidGraph(t *testing.T) {
	g := schema.NewGraph("tangle")
	g.AddNode("a", "t", nil)
	g.AddNode("b", "t", nil)
	g.Connect("a", "out", "b", "in")
	g.Connect("b", "out", "a", "in")

	_, err := Build(g, nil)
	assert.Error(t, err)
}

func TestBuild_SanitizesCycleNames(t *testing.T) {
	g := schema.NewGraph("odd names")
	g.AddNode("a", "t", nil)
	g.AddNode("b", "t", nil)
	g.AddCycle(schema.NewCycle("refine loop #2").
		Connect("a", "x", "b", "x").
		Connect("b", "x", "a", "x").
		MaxIterations(2).
		Build())

	model, err := Build(g, nil)
	require.NoError(t, err)
	assert.Equal(t, "cycle_refine_loop__2", model.Nodes[0].ID)
}
