// Package weft is a workflow graph execution engine. Callers register node
// types, assemble graphs of nodes and connections (with optional declared
// cycle groups), validate them, and execute them with wave-based
// parallelism, failure isolation, and a persisted run history.
package weft

import (
	"sort"
	"sync"

	"github.com/weftflow/weft/internal/engine"
	"github.com/weftflow/weft/pkg/schema"
)

// NodeFunc is the executable behavior of a node type. It receives the
// resolved input map (initial run parameters, then node config, then values
// delivered by inbound connections, rightmost wins) and returns the node's
// output bag.
type NodeFunc = engine.NodeFunc

// Descriptor declares a node type: its name, parameter contract, and
// behavior.
type Descriptor struct {
	// Type is the unique type name nodes reference.
	Type string
	// Required lists input names that must be satisfiable at validation
	// time, by graph parameters, node config, or an inbound connection.
	Required []string
	// Optional lists accepted but non-mandatory inputs. Informational.
	Optional []string
	// ConfigSchema optionally holds a JSON Schema document validated
	// against each node's static config.
	ConfigSchema []byte
	// Run executes the node.
	Run NodeFunc
}

// Registry maps node type names to descriptors. Safe for concurrent use.
// Registering an existing type overwrites it; use RegisterStrict to forbid
// redefinition.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Descriptor)}
}

// Register adds or replaces a node type.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type name must not be empty")
	}
	if d.Run == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %q has no run function", d.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[d.Type] = d
	return nil
}

// RegisterStrict adds a node type, refusing to replace an existing one.
func (r *Registry) RegisterStrict(d Descriptor) error {
	r.mu.Lock()
	if _, exists := r.types[d.Type]; exists {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q is already registered", d.Type)
	}
	r.mu.Unlock()
	return r.Register(d)
}

// RegisterFunc is shorthand for registering a type with only a run function.
func (r *Registry) RegisterFunc(typeName string, required []string, fn NodeFunc) error {
	return r.Register(Descriptor{Type: typeName, Required: required, Run: fn})
}

// Has reports whether a type is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RequiredParameters returns the required input names for a type. Unknown
// types return nil; the validator reports those separately.
func (r *Registry) RequiredParameters(typeName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeName].Required
}

// ConfigSchema returns the JSON Schema for a type's config, or nil.
func (r *Registry) ConfigSchema(typeName string) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[typeName].ConfigSchema
}

// ResolveRun returns the run function for a type.
func (r *Registry) ResolveRun(typeName string) (engine.NodeFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[typeName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
			"node type %q is not registered", typeName)
	}
	return d.Run, nil
}

var _ engine.NodeResolver = (*Registry)(nil)

// defaultRegistry backs the package-level Register helpers.
var defaultRegistry = NewRegistry()

// Register adds a node type to the default registry.
func Register(d Descriptor) error { return defaultRegistry.Register(d) }

// RegisterFunc adds a bare run function to the default registry.
func RegisterFunc(typeName string, required []string, fn NodeFunc) error {
	return defaultRegistry.RegisterFunc(typeName, required, fn)
}
