package bt

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh, unconfigured node.
type Factory func() Node

// NodeType is a registered node type.
type NodeType struct {
	Name string
	Kind Kind
	New  Factory
}

// Registry maps stable type names to factories. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]NodeType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]NodeType)}
}

// Register adds a node type. Names are case-sensitive and may be registered once.
func (r *Registry) Register(name string, kind Kind, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateNodeType)
	}
	r.types[name] = NodeType{Name: name, Kind: kind, New: factory}
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(name string, kind Kind, factory Factory) {
	if err := r.Register(name, kind, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (NodeType, bool) {
	r.mu.RLock()
	t, ok := r.types[name]
	r.mu.RUnlock()
	return t, ok
}

// Types returns the registered types sorted by name.
func (r *Registry) Types() []NodeType {
	r.mu.RLock()
	out := make([]NodeType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterBuiltins registers the composites and decorators of this package.
func RegisterBuiltins(r *Registry) error {
	builtins := []NodeType{
		{Name: "Sequence", Kind: KindComposite, New: func() Node { return &Sequence{} }},
		{Name: "Selector", Kind: KindComposite, New: func() Node { return &Selector{} }},
		{Name: "Parallel", Kind: KindComposite, New: func() Node { return &Parallel{} }},
		{Name: "Inverter", Kind: KindDecorator, New: func() Node { return &Inverter{} }},
		{Name: "Succeeder", Kind: KindDecorator, New: func() Node { return &Succeeder{} }},
		{Name: "Repeat", Kind: KindDecorator, New: func() Node { return &Repeat{} }},
	}
	for _, b := range builtins {
		if err := r.Register(b.Name, b.Kind, b.New); err != nil {
			return err
		}
	}
	return nil
}
