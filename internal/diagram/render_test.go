package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderASCII(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	out := RenderASCII(model)

	assert.Contains(t, out, "=== report pipeline ===")
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, "⟳ refine")
	assert.Contains(t, out, "draft → critique")
	assert.Contains(t, out, "▼")
	assert.Contains(t, out, "connections:")
	assert.Contains(t, out, "fetch ─→ cycle_refine (source)")
}

func TestRenderASCII_StatusTags(t *testing.T) {
	statuses := map[string]StatusOverlay{
		"fetch":    {Status: "succeeded", DurationMs: 40},
		"draft":    {Status: "failed"},
		"critique": {Status: "failed"},
		"publish":  {Status: "skipped_due_to_dependency_failure"},
	}
	model, err := Build(pipelineGraph(), statuses)
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "[FAIL]")
	assert.Contains(t, out, "[SKIP]")
	assert.Contains(t, out, "40ms")
}

func TestRenderMermaid(t *testing.T) {
	model, err := Build(pipelineGraph(), nil)
	require.NoError(t, err)

	out := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `subgraph cycle_refine`)
	assert.Contains(t, out, "-.->|loop|")
	assert.Contains(t, out, "fetch -->|source| cycle_refine")
	assert.Contains(t, out, "cycle_refine -->|text| publish")
	assert.Contains(t, out, "classDef failed")
	assert.NotContains(t, out, "class fetch", "no status overlay, no class assignments")
}

func TestRenderMermaid_StatusClasses(t *testing.T) {
	statuses := map[string]StatusOverlay{
		"fetch":   {Status: "succeeded"},
		"publish": {Status: "skipped_due_to_dependency_failure"},
	}
	model, err := Build(pipelineGraph(), statuses)
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.Contains(t, out, "class fetch succeeded")
	assert.Contains(t, out, "class publish skipped")
}
