package weft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/schema"
)

func noopNode(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("http.fetch", []string{"url"}, noopNode))

	assert.True(t, r.Has("http.fetch"))
	assert.False(t, r.Has("http.push"))

	fn, err := r.ResolveRun("http.fetch")
	require.NoError(t, err)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestRegistry_RejectsBadDescriptors(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Descriptor{Type: "", Run: noopNode})
	require.Error(t, err)

	err = r.Register(Descriptor{Type: "no.run"})
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, werr.Code)
}

func TestRegistry_ReRegistrationOverwrites(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("t", nil, noopNode))
	require.NoError(t, r.RegisterFunc("t", []string{"p"}, noopNode))
	assert.Equal(t, []string{"p"}, r.RequiredParameters("t"))
}

func TestRegistry_RegisterStrict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterStrict(Descriptor{Type: "t", Run: noopNode}))

	err := r.RegisterStrict(Descriptor{Type: "t", Run: noopNode})
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, werr.Code)
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("zeta", nil, noopNode))
	require.NoError(t, r.RegisterFunc("alpha", nil, noopNode))
	require.NoError(t, r.RegisterFunc("mid", nil, noopNode))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Types())
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.ResolveRun("ghost")
	require.Error(t, err)
	werr, ok := err.(*schema.WeftError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeUnknownNodeType, werr.Code)

	assert.Nil(t, r.RequiredParameters("ghost"))
	assert.Nil(t, r.ConfigSchema("ghost"))
}

func TestRegistry_ConfigSchema(t *testing.T) {
	raw := []byte(`{"type":"object","required":["url"]}`)
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Type: "t", Run: noopNode, ConfigSchema: raw}))
	assert.Equal(t, raw, r.ConfigSchema("t"))
}
