package bt

// Node is one unit of behavior. A Node value holds only its configuration;
// everything that changes while the tree runs lives in the Instance and is
// reached through the context passed to each hook.
type Node interface {
	// LoadConfiguration parses the declarative attributes of the node.
	// It runs once, when the tree is built; an error aborts the build.
	LoadConfiguration(attrs Attributes) error
	// SaveConfiguration writes back what LoadConfiguration read.
	SaveConfiguration(attrs Attributes)

	// OnInitialize runs once per activation, right before the first Update.
	OnInitialize(ctx *UpdateContext)
	// Update runs once per tick while the node is active and returns
	// StatusRunning, StatusSuccess or StatusFailure.
	Update(ctx *UpdateContext) Status
	// OnTerminate runs once per activation, after the last Update or on abort.
	OnTerminate(ctx *UpdateContext)

	// HandleEvent is called by the runtime while the node is active.
	HandleEvent(ctx *EventContext, ev Event)
}

// RuntimeDataProvider is implemented by nodes that keep per-activation state.
// NewRuntimeData is called each time the node enters Running; the value is
// dropped when the activation ends.
type RuntimeDataProvider interface {
	NewRuntimeData() any
}

// Data returns the runtime data of the current activation as *T,
// or nil when the node keeps none or keeps a different type.
func Data[T any](ctx interface{ RuntimeData() any }) *T {
	d, _ := ctx.RuntimeData().(*T)
	return d
}

// BaseNode provides no-op hooks. Embed it and implement Update.
type BaseNode struct{}

func (BaseNode) LoadConfiguration(Attributes) error { return nil }

func (BaseNode) SaveConfiguration(Attributes) {}

func (BaseNode) OnInitialize(*UpdateContext) {}

func (BaseNode) OnTerminate(*UpdateContext) {}

func (BaseNode) HandleEvent(*EventContext, Event) {}

// Decorator is the base of single-child nodes: it ticks the child and
// forwards events to it while it runs.
type Decorator struct{ BaseNode }

func (Decorator) Update(ctx *UpdateContext) Status { return ctx.TickChild(0) }

func (Decorator) HandleEvent(ctx *EventContext, _ Event) { ctx.Forward() }

// Composite is the base of multi-child nodes; it forwards events to every
// running child.
type Composite struct{ BaseNode }

func (Composite) HandleEvent(ctx *EventContext, _ Event) { ctx.Forward() }
