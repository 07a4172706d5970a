package bt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/behave/internal/core/observability/log"
)

type recorder struct {
	mu        sync.Mutex
	started   map[string]int
	finished  map[string]int
	aborted   map[string]int
	ticked    []Status
	delivered map[string]int
	dropped   []Event
}

func newRecorder() *recorder {
	return &recorder{
		started:   map[string]int{},
		finished:  map[string]int{},
		aborted:   map[string]int{},
		delivered: map[string]int{},
	}
}

func (r *recorder) NodeStarted(_ ActorID, _ string, n NodeInfo) {
	r.mu.Lock()
	r.started[n.Name]++
	r.mu.Unlock()
}

func (r *recorder) NodeFinished(_ ActorID, _ string, n NodeInfo, _ Status, aborted bool) {
	r.mu.Lock()
	r.finished[n.Name]++
	if aborted {
		r.aborted[n.Name]++
	}
	r.mu.Unlock()
}

func (r *recorder) TreeTicked(_ ActorID, _ string, st Status, _ time.Duration) {
	r.mu.Lock()
	r.ticked = append(r.ticked, st)
	r.mu.Unlock()
}

func (r *recorder) EventDelivered(_ ActorID, _ string, ev Event, receivers int) {
	r.mu.Lock()
	r.delivered[ev.Name()] += receivers
	r.mu.Unlock()
}

func (r *recorder) EventDropped(_ ActorID, _ string, ev Event) {
	r.mu.Lock()
	r.dropped = append(r.dropped, ev)
	r.mu.Unlock()
}

func build(t *testing.T, reg *Registry, root *NodeDescription) *Tree {
	t.Helper()
	tree, err := Build(&Description{Name: "test", Root: root}, reg)
	require.NoError(t, err)
	return tree
}

func tick(inst *Instance) Status { return inst.Tick(context.Background(), 16*time.Millisecond) }

func TestTickLifecycle(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, map[string][]Status{
		"a": {StatusRunning, StatusSuccess},
		"b": {StatusSuccess},
	})
	tree := build(t, reg, node("Sequence", leaf("a"), leaf("b")))
	rec := newRecorder()
	inst := NewInstance(tree, "npc-1", WithObserver(rec))

	assert.Equal(t, StatusUninitialized, inst.Status())

	assert.Equal(t, StatusRunning, tick(inst))
	assert.Equal(t, StatusRunning, inst.Status())
	assert.Equal(t, []string{"init a", "update a"}, j.all())

	assert.Equal(t, StatusSuccess, tick(inst))
	assert.Equal(t, StatusSuccess, inst.Status())
	assert.Equal(t, []string{
		"init a", "update a",
		"update a", "term a",
		"init b", "update b", "term b",
	}, j.all())
	assert.Empty(t, inst.ActiveNodes())
	assert.EqualValues(t, 2, inst.Ticks())

	for name, n := range rec.started {
		assert.Equal(t, n, rec.finished[name], "node %s", name)
	}
	assert.Equal(t, []Status{StatusRunning, StatusSuccess}, rec.ticked)
}

func TestFinishedRootRestartsWithFreshData(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, map[string][]Status{"a": {StatusRunning, StatusSuccess}})
	inst := NewInstance(build(t, reg, leaf("a")), "npc-1")

	assert.Equal(t, StatusRunning, tick(inst))
	assert.Equal(t, StatusSuccess, tick(inst))
	// A new activation starts over from the first scripted status.
	assert.Equal(t, StatusRunning, tick(inst))
	assert.Equal(t, 2, j.count("init a"))
	assert.Equal(t, 1, j.count("term a"))
}

func TestAbortTerminatesChildBeforeParent(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	tree := build(t, reg, node("Sequence",
		named("r", withAttrs(node("Relay", leaf("a", "until", "never")), Attributes{"label": "r"})),
	))
	rec := newRecorder()
	inst := NewInstance(tree, "npc-1", WithObserver(rec))

	require.Equal(t, StatusRunning, tick(inst))
	assert.Len(t, inst.ActiveNodes(), 3)
	j.reset()

	inst.Abort()
	assert.Equal(t, []string{"term a", "term r"}, j.all())
	assert.Empty(t, inst.ActiveNodes())
	assert.Equal(t, StatusUninitialized, inst.Status())
	assert.Equal(t, 1, rec.aborted["a"])
	assert.Equal(t, 1, rec.aborted["r"])
	assert.Equal(t, 1, rec.aborted["Sequence"])

	// Aborting an idle tree is a no-op.
	inst.Abort()
	assert.Equal(t, 1, j.count("term a"))
}

func TestParallelAbortsRunningChildrenWhenResolved(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, map[string][]Status{
		"slow": {StatusRunning},
		"fail": {StatusFailure},
	})
	inst := NewInstance(build(t, reg, node("Parallel", leaf("slow"), leaf("fail"))), "npc-1")

	assert.Equal(t, StatusFailure, tick(inst))
	assert.Equal(t, 1, j.count("init slow"))
	assert.Equal(t, 1, j.count("term slow"))
	assert.Empty(t, inst.ActiveNodes())
}

func TestEventBeforeFirstTickIsIgnored(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	rec := newRecorder()
	inst := NewInstance(build(t, reg, leaf("a", "until", "go")), "npc-1", WithObserver(rec))

	inst.HandleEvent(NewEvent("go"))
	assert.Empty(t, j.all())
	assert.Empty(t, rec.delivered)
}

func TestEventReachesOnlyRunningNodes(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	tree := build(t, reg, node("Sequence",
		leaf("a", "until", "go"),
		leaf("b", "until", "go"),
	))
	inst := NewInstance(tree, "npc-1")

	require.Equal(t, StatusRunning, tick(inst))
	inst.HandleEvent(NewEvent("go"))
	assert.Equal(t, 1, j.count("event a go"))
	assert.Zero(t, j.count("event b go"))

	// a saw the event synchronously and finishes; b has not heard it.
	require.Equal(t, StatusRunning, tick(inst))
	b, ok := tree.Find("b")
	require.True(t, ok)
	assert.Equal(t, []NodeID{0, b}, inst.ActiveNodes())

	inst.HandleEvent(NewEvent("go"))
	assert.Equal(t, StatusSuccess, tick(inst))
}

func TestEventIsDeliveredOncePerNode(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	tree := build(t, reg, withAttrs(node("Relay", leaf("a", "until", "go")), Attributes{"label": "r"}))
	rec := newRecorder()
	inst := NewInstance(tree, "npc-1", WithObserver(rec))

	require.Equal(t, StatusRunning, tick(inst))
	inst.HandleEvent(NewEvent("go"))

	assert.Equal(t, 1, j.count("event r go"))
	assert.Equal(t, 1, j.count("event a go"))
	assert.Equal(t, 2, rec.delivered["go"])
}

func TestEventCascadeIsBounded(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	core, logs := observer.New(zap.DebugLevel)
	rec := newRecorder()
	inst := NewInstance(build(t, reg, node("Echo")), "npc-1",
		WithObserver(rec),
		WithMaxEventCascade(5),
		WithLogger(log.FromZap(zap.New(core), log.LevelWarn)),
	)

	require.Equal(t, StatusRunning, tick(inst))
	inst.HandleEvent(NewEvent("ping"))

	assert.Equal(t, 5, j.count("event echo ping"))
	assert.Equal(t, []Event{NewEvent("ping")}, rec.dropped)
	assert.Equal(t, 1, logs.FilterMessage("event cascade limit reached, dropping events").Len())

	// The instance is usable afterwards.
	assert.Equal(t, StatusRunning, tick(inst))
}

func TestHookPanicIsRecovered(t *testing.T) {
	for _, tc := range []struct {
		hook string
		want Status
	}{
		{hook: "init", want: StatusRunning},
		{hook: "update", want: StatusFailure},
		{hook: "term", want: StatusSuccess},
	} {
		t.Run(tc.hook, func(t *testing.T) {
			j := &journal{}
			reg := testRegistry(j, nil)
			core, logs := observer.New(zap.DebugLevel)
			desc := withAttrs(node("Faulty"), Attributes{"panic_in": tc.hook})
			inst := NewInstance(build(t, reg, desc), "npc-1", WithLogger(log.FromZap(zap.New(core), log.LevelDebug)))

			var st Status
			require.NotPanics(t, func() { st = tick(inst) })
			assert.Equal(t, tc.want, st)
			assert.GreaterOrEqual(t, logs.FilterMessage("node hook panicked").Len(), 1)
		})
	}
}

func TestPanicInEventHandlerKeepsTreeRunning(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	inst := NewInstance(build(t, reg, withAttrs(node("Faulty"), Attributes{"panic_in": "event"})), "npc-1")

	require.Equal(t, StatusRunning, tick(inst))
	require.NotPanics(t, func() { inst.HandleEvent(NewEvent("x")) })
	assert.Equal(t, StatusRunning, inst.Status())
}

func TestInvalidStatusIsFailure(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	core, logs := observer.New(zap.DebugLevel)
	inst := NewInstance(build(t, reg, withAttrs(node("Faulty"), Attributes{"panic_in": "status"})), "npc-1",
		WithLogger(log.FromZap(zap.New(core), log.LevelDebug)))

	assert.Equal(t, StatusFailure, tick(inst))
	assert.Equal(t, 1, j.count("term faulty"))
	assert.Equal(t, 1, logs.FilterMessage("invalid status from update, treating as failure").Len())
}

func TestInstancesOfOneTreeAreIndependent(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	tree := build(t, reg, leaf("a", "until", "go"))
	one := NewInstance(tree, "npc-1")
	two := NewInstance(tree, "npc-2")

	tick(one)
	tick(two)
	one.HandleEvent(NewEvent("go"))

	assert.Equal(t, StatusSuccess, tick(one))
	assert.Equal(t, StatusRunning, tick(two))
	assert.NotEqual(t, one.ID(), two.ID())
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent map[ActorID][]Event
	err  error
}

func (d *fakeDispatcher) HandleEvent(target ActorID, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.sent == nil {
		d.sent = map[ActorID][]Event{}
	}
	d.sent[target] = append(d.sent[target], ev)
	return nil
}

// sender posts "ping" to the actor named in its "to" attribute on every update.
type sender struct {
	BaseNode
	to ActorID
}

func (s *sender) LoadConfiguration(attrs Attributes) error {
	to, _ := attrs.StringOr("to", "")
	s.to = ActorID(to)
	return nil
}

func (s *sender) Update(ctx *UpdateContext) Status {
	ctx.SendEventTo(s.to, NewEvent("ping"))
	return StatusRunning
}

func TestSendEventToRoutesThroughDispatcher(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("Sender", KindLeaf, func() Node { return &sender{} })
	tree := build(t, reg, withAttrs(node("Sender"), Attributes{"to": "npc-2"}))

	d := &fakeDispatcher{}
	inst := NewInstance(tree, "npc-1", WithDispatcher(d))
	tick(inst)
	assert.Equal(t, []Event{NewEvent("ping")}, d.sent["npc-2"])

	core, logs := observer.New(zap.DebugLevel)
	failing := NewInstance(tree, "npc-1",
		WithDispatcher(&fakeDispatcher{err: errors.New("unknown actor")}),
		WithLogger(log.FromZap(zap.New(core), log.LevelDebug)))
	require.NotPanics(t, func() { tick(failing) })
	assert.Equal(t, 1, logs.FilterMessage("event not routed").Len())

	core, logs = observer.New(zap.DebugLevel)
	orphan := NewInstance(tree, "npc-1", WithLogger(log.FromZap(zap.New(core), log.LevelDebug)))
	tick(orphan)
	assert.Equal(t, 1, logs.FilterMessage("event dropped: no dispatcher").Len())
}

func TestSelfSendDuringTickIsDeliveredAfterTick(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	reg.MustRegister("Sender", KindLeaf, func() Node { return &sender{} })
	tree := build(t, reg, node("Parallel",
		withAttrs(node("Sender"), Attributes{}),
		leaf("a", "until", "ping"),
	))
	inst := NewInstance(tree, "npc-1")

	require.Equal(t, StatusRunning, tick(inst))
	assert.Equal(t, 1, j.count("event a ping"))
}

func TestContextExposesTickInputs(t *testing.T) {
	var gotDelta time.Duration
	var gotActor ActorID
	var gotPath string
	reg := NewRegistry()
	reg.MustRegister("Spy", KindLeaf, func() Node {
		return &spy{fn: func(ctx *UpdateContext) {
			gotDelta = ctx.Delta()
			gotActor = ctx.Actor()
			gotPath = ctx.Node().Path
			ctx.Blackboard().Set("seen", true)
		}}
	})
	tree := build(t, reg, named("watcher", node("Spy")))
	inst := NewInstance(tree, "npc-7")

	inst.Tick(context.Background(), 40*time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, gotDelta)
	assert.Equal(t, ActorID("npc-7"), gotActor)
	assert.Equal(t, "watcher", gotPath)
	seen, ok := Lookup[bool](inst.Blackboard(), "seen")
	assert.True(t, ok)
	assert.True(t, seen)
}

type spy struct {
	BaseNode
	fn func(*UpdateContext)
}

func (s *spy) Update(ctx *UpdateContext) Status {
	s.fn(ctx)
	return StatusSuccess
}

func TestCloseRetiresInstance(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	inst := NewInstance(build(t, reg, node("Sequence", leaf("a", "until", "go"))), "npc-1")

	require.Equal(t, StatusRunning, tick(inst))
	j.reset()

	inst.Close()
	assert.True(t, inst.Closed())
	assert.Equal(t, []string{"term a"}, j.all())
	assert.Empty(t, inst.ActiveNodes())

	assert.Equal(t, StatusUninitialized, tick(inst))
	inst.HandleEvent(NewEvent("go"))
	inst.Close()
	assert.Equal(t, []string{"term a"}, j.all(), "a closed instance runs no hooks")
	assert.Equal(t, uint64(1), inst.Ticks())
}

type closer struct {
	BaseNode
	close func()
}

func (c *closer) Update(*UpdateContext) Status {
	c.close()
	return StatusRunning
}

func TestCloseFromOwnHook(t *testing.T) {
	j := &journal{}
	reg := testRegistry(j, nil)
	var inst *Instance
	reg.MustRegister("Closer", KindLeaf, func() Node { return &closer{close: func() { inst.Close() }} })
	rec := newRecorder()
	inst = NewInstance(build(t, reg, node("Parallel",
		leaf("a", "until", "never"),
		&NodeDescription{Type: "Closer", Name: "c"},
	)), "npc-1", WithObserver(rec))

	assert.Equal(t, StatusUninitialized, tick(inst))
	assert.Equal(t, 1, j.count("init a"))
	assert.Equal(t, 1, j.count("term a"))
	assert.Empty(t, inst.ActiveNodes())
	assert.Equal(t, rec.started, rec.finished)

	tick(inst)
	assert.Equal(t, 1, j.count("init a"))
}
