// Package nodes holds the example leaf and decorator nodes and their registration.
package nodes

import "github.com/zeusync/behave/internal/core/bt"

// Type names as they appear in tree descriptions.
const (
	TypeExampleLog          = "ExampleLog"
	TypeExampleSendEvent    = "ExampleSendEvent"
	TypeExampleReceiveEvent = "ExampleReceiveEvent"
	TypeWaitForEvent        = "WaitForEvent"
)

type options struct {
	profileNodes bool
}

type Option func(*options)

// WithProfileNodes toggles registration of the profiling-only nodes
// (ExampleReceiveEvent). They are registered by default.
func WithProfileNodes(enabled bool) Option {
	return func(o *options) { o.profileNodes = enabled }
}

// Register adds the example node types to reg.
func Register(reg *bt.Registry, opts ...Option) error {
	o := options{profileNodes: true}
	for _, opt := range opts {
		opt(&o)
	}

	types := []bt.NodeType{
		{Name: TypeExampleLog, Kind: bt.KindLeaf, New: func() bt.Node { return &ExampleLog{} }},
		{Name: TypeExampleSendEvent, Kind: bt.KindLeaf, New: func() bt.Node { return &ExampleSendEvent{} }},
		{Name: TypeWaitForEvent, Kind: bt.KindLeaf, New: func() bt.Node { return &WaitForEvent{} }},
	}
	if o.profileNodes {
		types = append(types, bt.NodeType{
			Name: TypeExampleReceiveEvent, Kind: bt.KindDecorator, New: func() bt.Node { return &ExampleReceiveEvent{} },
		})
	}
	for _, t := range types {
		if err := reg.Register(t.Name, t.Kind, t.New); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the builtin composites and decorators
// plus the example nodes.
func NewRegistry(opts ...Option) (*bt.Registry, error) {
	reg := bt.NewRegistry()
	if err := bt.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if err := Register(reg, opts...); err != nil {
		return nil, err
	}
	return reg, nil
}
