package bt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/behave/internal/core/observability/log"
)

// ActorID identifies the actor a tree instance runs for.
type ActorID string

// Dispatcher routes events to the instance bound to an actor.
type Dispatcher interface {
	HandleEvent(target ActorID, ev Event) error
}

// Observer receives lifecycle notifications. Calls happen on the goroutine
// that ticks or delivers, while the instance is locked; they must be quick.
type Observer interface {
	NodeStarted(actor ActorID, tree string, node NodeInfo)
	NodeFinished(actor ActorID, tree string, node NodeInfo, status Status, aborted bool)
	TreeTicked(actor ActorID, tree string, status Status, elapsed time.Duration)
	EventDelivered(actor ActorID, tree string, ev Event, receivers int)
	EventDropped(actor ActorID, tree string, ev Event)
}

// DefaultMaxEventCascade bounds how many queued events one drain delivers.
const DefaultMaxEventCascade = 256

type slot struct {
	status   Status
	last     Status
	data     any
	delivery uint64
}

// Instance is the runtime state of one Tree for one actor. Tick and event
// delivery are serialized: while one runs, incoming events are queued and
// delivered in order as soon as it returns.
type Instance struct {
	id         string
	tree       *Tree
	actor      ActorID
	bb         Blackboard
	world      Blackboard
	dispatcher Dispatcher
	observer   Observer
	logger     log.Log
	clock      func() time.Time
	maxCascade int

	mu         sync.Mutex
	slots      []slot
	ticks      uint64
	deliveries uint64
	receivers  int
	goCtx      context.Context
	dt         time.Duration

	qmu     sync.Mutex
	pending []Event

	// closing is set by Close; closed once the active nodes were aborted.
	closing atomic.Bool
	closed  atomic.Bool
}

type InstanceOption func(*Instance)

func WithBlackboard(bb Blackboard) InstanceOption { return func(i *Instance) { i.bb = bb } }

// WithWorld shares a blackboard between instances, exposed as ctx.World().
func WithWorld(world Blackboard) InstanceOption { return func(i *Instance) { i.world = world } }

func WithDispatcher(d Dispatcher) InstanceOption { return func(i *Instance) { i.dispatcher = d } }

func WithObserver(o Observer) InstanceOption { return func(i *Instance) { i.observer = o } }

func WithLogger(l log.Log) InstanceOption { return func(i *Instance) { i.logger = l } }

func WithClock(clock func() time.Time) InstanceOption { return func(i *Instance) { i.clock = clock } }

func WithMaxEventCascade(n int) InstanceOption {
	return func(i *Instance) {
		if n > 0 {
			i.maxCascade = n
		}
	}
}

// NewInstance binds tree to actor. Nothing runs until the first Tick.
func NewInstance(tree *Tree, actor ActorID, opts ...InstanceOption) *Instance {
	i := &Instance{
		id:         uuid.NewString(),
		tree:       tree,
		actor:      actor,
		clock:      time.Now,
		maxCascade: DefaultMaxEventCascade,
		slots:      make([]slot, tree.Len()),
		goCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.bb == nil {
		i.bb = NewBlackboard()
	}
	if i.observer == nil {
		i.observer = nopObserver{}
	}
	if i.logger == nil {
		i.logger = log.NewNop()
	}
	i.logger = i.logger.With(log.String("actor", string(actor)), log.String("tree", tree.name))
	return i
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) Actor() ActorID { return i.actor }

func (i *Instance) Tree() *Tree { return i.tree }

func (i *Instance) Blackboard() Blackboard { return i.bb }

// Tick updates the active path once. A root that finished on the previous
// tick is started again. Hooks must not call Tick on their own instance.
func (i *Instance) Tick(ctx context.Context, dt time.Duration) Status {
	i.mu.Lock()
	if i.closing.Load() {
		i.shutdownLocked()
		i.mu.Unlock()
		return StatusUninitialized
	}
	i.goCtx, i.dt = ctx, dt
	start := i.clock()
	st := i.tickNode(i.tree.Root())
	i.ticks++
	i.observer.TreeTicked(i.actor, i.tree.name, st, i.clock().Sub(start))
	i.flushLocked()
	if i.closing.Load() {
		i.shutdownLocked()
		st = StatusUninitialized
	}
	i.goCtx, i.dt = context.Background(), 0
	i.mu.Unlock()
	i.drain()
	return st
}

// HandleEvent delivers ev to the running nodes, root first. It never blocks
// on a busy instance: the event is queued and delivered by the current holder.
func (i *Instance) HandleEvent(ev Event) {
	if i.closing.Load() {
		return
	}
	i.qmu.Lock()
	i.pending = append(i.pending, ev)
	i.qmu.Unlock()
	i.drain()
}

// Abort terminates every active node, deepest first.
func (i *Instance) Abort() {
	i.mu.Lock()
	i.abort(i.tree.Root())
	i.mu.Unlock()
	i.drain()
}

// Close aborts the active nodes and retires the instance: later Tick and
// HandleEvent calls do nothing. If another call holds the instance, including
// a hook of this instance, the holder runs the abort before releasing it.
func (i *Instance) Close() {
	if !i.closing.CompareAndSwap(false, true) {
		return
	}
	i.qmu.Lock()
	i.pending = nil
	i.qmu.Unlock()
	i.drain()
}

// Closed reports whether Close was called.
func (i *Instance) Closed() bool { return i.closing.Load() }

// Status is StatusRunning while the root is active, otherwise the outcome
// of the last finished root activation (StatusUninitialized if none).
func (i *Instance) Status() Status {
	return i.NodeStatus(i.tree.Root())
}

// NodeStatus reports like Status, for any node.
func (i *Instance) NodeStatus(id NodeID) Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := i.slots[id]
	if s.status == StatusRunning {
		return StatusRunning
	}
	return s.last
}

// ActiveNodes lists the running nodes in pre-order.
func (i *Instance) ActiveNodes() []NodeID {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []NodeID
	for id := range i.slots {
		if i.slots[id].status == StatusRunning {
			out = append(out, NodeID(id))
		}
	}
	return out
}

// Ticks is the number of completed ticks.
func (i *Instance) Ticks() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ticks
}

func (i *Instance) tickNode(id NodeID) Status {
	if i.slots[id].status != StatusRunning {
		i.initialize(id)
	}
	ctx := &UpdateContext{scope{inst: i, id: id}}
	st := i.update(id, ctx)
	switch st {
	case StatusRunning:
		return StatusRunning
	case StatusSuccess, StatusFailure:
	default:
		i.logger.Warn("invalid status from update, treating as failure",
			log.String("node", i.tree.nodes[id].info.Name), log.String("status", st.String()))
		st = StatusFailure
	}
	i.terminate(id, st, false)
	return st
}

func (i *Instance) initialize(id NodeID) {
	tn := &i.tree.nodes[id]
	s := &i.slots[id]
	s.status = StatusRunning
	s.data = nil
	if tn.newData != nil {
		s.data = tn.newData()
	}
	i.observer.NodeStarted(i.actor, i.tree.name, tn.info)
	i.logger.Debug("node initialized", log.String("node", tn.info.Name))
	i.guard(id, "OnInitialize", func() { tn.node.OnInitialize(&UpdateContext{scope{inst: i, id: id}}) })
}

func (i *Instance) update(id NodeID, ctx *UpdateContext) (st Status) {
	st = StatusFailure
	i.guard(id, "Update", func() { st = i.tree.nodes[id].node.Update(ctx) })
	return st
}

// terminate aborts running children first, so cleanup runs child-before-parent.
func (i *Instance) terminate(id NodeID, st Status, aborted bool) {
	tn := &i.tree.nodes[id]
	for _, ch := range tn.children {
		i.abort(ch)
	}
	i.guard(id, "OnTerminate", func() { tn.node.OnTerminate(&UpdateContext{scope{inst: i, id: id}}) })
	s := &i.slots[id]
	s.status = StatusUninitialized
	s.data = nil
	if aborted {
		s.last = StatusUninitialized
	} else {
		s.last = st
	}
	i.observer.NodeFinished(i.actor, i.tree.name, tn.info, st, aborted)
	i.logger.Debug("node terminated",
		log.String("node", tn.info.Name), log.String("status", st.String()), log.Bool("aborted", aborted))
}

func (i *Instance) abort(id NodeID) {
	if i.slots[id].status != StatusRunning {
		return
	}
	i.terminate(id, StatusUninitialized, true)
}

// drain delivers queued events unless another goroutine holds the instance;
// the holder re-checks the queue after unlocking, so no event is stranded.
func (i *Instance) drain() {
	for {
		if !i.mu.TryLock() {
			return
		}
		if i.closing.Load() {
			i.shutdownLocked()
		} else {
			i.flushLocked()
		}
		i.mu.Unlock()

		if i.closing.Load() {
			if i.closed.Load() {
				return
			}
			continue
		}
		i.qmu.Lock()
		empty := len(i.pending) == 0
		i.qmu.Unlock()
		if empty {
			return
		}
	}
}

func (i *Instance) shutdownLocked() {
	if i.closed.Load() {
		return
	}
	i.abort(i.tree.Root())
	i.qmu.Lock()
	i.pending = nil
	i.qmu.Unlock()
	i.closed.Store(true)
	i.logger.Debug("instance closed")
}

func (i *Instance) flushLocked() {
	delivered := 0
	for {
		i.qmu.Lock()
		if len(i.pending) == 0 {
			i.qmu.Unlock()
			return
		}
		if delivered >= i.maxCascade {
			dropped := i.pending
			i.pending = nil
			i.qmu.Unlock()
			for _, ev := range dropped {
				i.observer.EventDropped(i.actor, i.tree.name, ev)
			}
			i.logger.Warn("event cascade limit reached, dropping events",
				log.Int("limit", i.maxCascade), log.Int("dropped", len(dropped)))
			return
		}
		ev := i.pending[0]
		i.pending[0] = Event{}
		i.pending = i.pending[1:]
		i.qmu.Unlock()

		i.deliverLocked(ev)
		delivered++
	}
}

func (i *Instance) deliverLocked(ev Event) {
	root := i.tree.Root()
	if i.closing.Load() || i.slots[root].status != StatusRunning {
		return
	}
	i.deliveries++
	i.receivers = 0
	i.deliverTo(root, ev, i.deliveries)
	i.observer.EventDelivered(i.actor, i.tree.name, ev, i.receivers)
}

func (i *Instance) deliverTo(id NodeID, ev Event, delivery uint64) {
	s := &i.slots[id]
	if s.status != StatusRunning || s.delivery == delivery {
		return
	}
	s.delivery = delivery
	i.receivers++
	ctx := &EventContext{scope: scope{inst: i, id: id}, ev: ev, delivery: delivery}
	i.guard(id, "HandleEvent", func() { i.tree.nodes[id].node.HandleEvent(ctx, ev) })
}

// guard keeps a panicking hook from unwinding through the runtime.
func (i *Instance) guard(id NodeID, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("node hook panicked",
				log.String("node", i.tree.nodes[id].info.Name),
				log.String("hook", hook),
				log.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

type nopObserver struct{}

func (nopObserver) NodeStarted(ActorID, string, NodeInfo)                {}
func (nopObserver) NodeFinished(ActorID, string, NodeInfo, Status, bool) {}
func (nopObserver) TreeTicked(ActorID, string, Status, time.Duration)    {}
func (nopObserver) EventDelivered(ActorID, string, Event, int)           {}
func (nopObserver) EventDropped(ActorID, string, Event)                  {}
