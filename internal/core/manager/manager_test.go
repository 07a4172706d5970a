package manager

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/bt/nodes"
	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/observability/log"
)

const (
	waiterYAML = `
name: waiter
root:
  type: WaitForEvent
  attributes: {event: go}
`
	pingerYAML = `
name: pinger
root:
  type: ExampleSendEvent
  attributes: {event: go, target: b}
`
)

func newManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	reg, err := nodes.NewRegistry()
	require.NoError(t, err)
	m := New(reg, cfg, opts...)
	for _, src := range []string{waiterYAML, pingerYAML} {
		desc, err := bt.LoadYAML(strings.NewReader(src))
		require.NoError(t, err)
		_, err = m.LoadTree(desc)
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func tickAll(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.TickAll(context.Background(), 10*time.Millisecond))
}

func status(t *testing.T, m *Manager, actor bt.ActorID) bt.Status {
	t.Helper()
	inst, ok := m.Instance(actor)
	require.True(t, ok, "actor %s", actor)
	return inst.Status()
}

type spawns struct {
	mu   sync.Mutex
	live map[string]int
}

func (s *spawns) NodeStarted(bt.ActorID, string, bt.NodeInfo)                   {}
func (s *spawns) NodeFinished(bt.ActorID, string, bt.NodeInfo, bt.Status, bool) {}
func (s *spawns) TreeTicked(bt.ActorID, string, bt.Status, time.Duration)       {}
func (s *spawns) EventDelivered(bt.ActorID, string, bt.Event, int)              {}
func (s *spawns) EventDropped(bt.ActorID, string, bt.Event)                     {}

func (s *spawns) InstanceSpawned(_ bt.ActorID, tree string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		s.live = map[string]int{}
	}
	s.live[tree]++
}

func (s *spawns) InstanceDespawned(_ bt.ActorID, tree string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[tree]--
}

func (s *spawns) get(tree string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[tree]
}

func TestTrees(t *testing.T) {
	m := newManager(t, Config{})
	assert.Equal(t, []string{"pinger", "waiter"}, m.Trees())

	tree, ok := m.Tree("waiter")
	require.True(t, ok)
	assert.ErrorIs(t, m.AddTree(tree), ErrDuplicateTree)

	_, err := m.LoadFile("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestSpawnDespawn(t *testing.T) {
	obs := &spawns{}
	core, logs := observer.New(zap.DebugLevel)
	m := newManager(t, Config{}, WithObserver(obs), WithLogger(log.FromZap(zap.New(core), log.LevelInfo)))

	inst, err := m.Spawn("a", "waiter")
	require.NoError(t, err)
	assert.Equal(t, bt.ActorID("a"), inst.Actor())
	assert.Equal(t, 1, obs.get("waiter"))
	assert.Equal(t, 1, logs.FilterMessage("actor spawned").Len())

	_, err = m.Spawn("a", "waiter")
	assert.ErrorIs(t, err, ErrActorExists)
	_, err = m.Spawn("b", "nope")
	assert.ErrorIs(t, err, ErrUnknownTree)

	tickAll(t, m)
	assert.Equal(t, []bt.NodeID{0}, inst.ActiveNodes())

	require.NoError(t, m.Despawn("a"))
	assert.Empty(t, inst.ActiveNodes())
	assert.Equal(t, 0, obs.get("waiter"))
	assert.ErrorIs(t, m.Despawn("a"), ErrUnknownActor)

	_, ok := m.Instance("a")
	assert.False(t, ok)
}

type lifecycles struct {
	mu       sync.Mutex
	started  map[bt.ActorID]int
	finished map[bt.ActorID]int
}

func newLifecycles() *lifecycles {
	return &lifecycles{started: map[bt.ActorID]int{}, finished: map[bt.ActorID]int{}}
}

func (l *lifecycles) NodeStarted(actor bt.ActorID, _ string, _ bt.NodeInfo) {
	l.mu.Lock()
	l.started[actor]++
	l.mu.Unlock()
}

func (l *lifecycles) NodeFinished(actor bt.ActorID, _ string, _ bt.NodeInfo, _ bt.Status, _ bool) {
	l.mu.Lock()
	l.finished[actor]++
	l.mu.Unlock()
}

func (l *lifecycles) TreeTicked(bt.ActorID, string, bt.Status, time.Duration) {}
func (l *lifecycles) EventDelivered(bt.ActorID, string, bt.Event, int)        {}
func (l *lifecycles) EventDropped(bt.ActorID, string, bt.Event)               {}

// culler despawns a fixed set of actors the first time it is updated.
type culler struct {
	bt.BaseNode
	cull func()
}

func (c *culler) Update(*bt.UpdateContext) bt.Status {
	c.cull()
	return bt.StatusRunning
}

func TestDespawnDuringTickRound(t *testing.T) {
	reg, err := nodes.NewRegistry()
	require.NoError(t, err)

	var (
		m       *Manager
		once    sync.Once
		victims []bt.ActorID
	)
	for _, id := range []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8", "v9"} {
		victims = append(victims, bt.ActorID(id))
	}
	require.NoError(t, reg.Register("Culler", bt.KindLeaf, func() bt.Node {
		return &culler{cull: func() {
			once.Do(func() {
				for _, v := range victims {
					assert.NoError(t, m.Despawn(v))
				}
			})
		}}
	}))

	obs := newLifecycles()
	m = New(reg, Config{Workers: 1, Shards: 4}, WithObserver(obs))
	t.Cleanup(func() { _ = m.Close() })
	for _, src := range []string{waiterYAML, "name: culler\nroot: {type: Culler}\n"} {
		desc, err := bt.LoadYAML(strings.NewReader(src))
		require.NoError(t, err)
		_, err = m.LoadTree(desc)
		require.NoError(t, err)
	}

	var insts []*bt.Instance
	for _, v := range victims {
		inst, err := m.Spawn(v, "waiter")
		require.NoError(t, err)
		insts = append(insts, inst)
	}
	tickAll(t, m)

	// The round that culls still holds every victim; the ones after the
	// culler must not start again.
	_, err = m.Spawn("culler", "culler")
	require.NoError(t, err)
	tickAll(t, m)
	tickAll(t, m)

	assert.Equal(t, 1, m.Len())
	for i, v := range victims {
		assert.True(t, insts[i].Closed(), "actor %s", v)
		assert.Empty(t, insts[i].ActiveNodes(), "actor %s", v)
		assert.Equal(t, 1, obs.started[v], "actor %s", v)
		assert.Equal(t, 1, obs.finished[v], "actor %s", v)
	}
}

func TestShardedTable(t *testing.T) {
	m := newManager(t, Config{Shards: 4})
	want := make([]bt.ActorID, 0, 50)
	for _, id := range []string{"n", "a", "z", "m", "b"} {
		for i := 0; i < 10; i++ {
			actor := bt.ActorID(id + string(rune('0'+i)))
			_, err := m.Spawn(actor, "waiter")
			require.NoError(t, err)
			want = append(want, actor)
		}
	}
	assert.Equal(t, 50, m.Len())
	assert.ElementsMatch(t, want, m.Actors())
	actors := m.Actors()
	assert.True(t, sort.SliceIsSorted(actors, func(i, j int) bool { return actors[i] < actors[j] }))
}

func TestRoutingAndBroadcast(t *testing.T) {
	m := newManager(t, Config{Workers: 2})
	for _, actor := range []bt.ActorID{"a", "b", "c"} {
		_, err := m.Spawn(actor, "waiter")
		require.NoError(t, err)
	}
	tickAll(t, m)

	require.NoError(t, m.HandleEvent("a", bt.NewEvent("go")))
	assert.ErrorIs(t, m.HandleEvent("ghost", bt.NewEvent("go")), ErrUnknownActor)
	tickAll(t, m)
	assert.Equal(t, bt.StatusSuccess, status(t, m, "a"))
	assert.Equal(t, bt.StatusRunning, status(t, m, "b"))

	assert.Equal(t, 3, m.Broadcast(bt.NewEvent("go")))
	tickAll(t, m)
	assert.Equal(t, bt.StatusRunning, status(t, m, "a"), "a restarted after its success and saw no event")
	assert.Equal(t, bt.StatusSuccess, status(t, m, "b"))
	assert.Equal(t, bt.StatusSuccess, status(t, m, "c"))
	assert.Equal(t, uint64(3), m.Ticks())
}

func TestSendEventToOtherActor(t *testing.T) {
	m := newManager(t, Config{})
	_, err := m.Spawn("b", "waiter")
	require.NoError(t, err)
	tickAll(t, m)

	pinger, err := m.Spawn("a", "pinger")
	require.NoError(t, err)
	assert.Equal(t, bt.StatusRunning, pinger.Tick(context.Background(), time.Millisecond))
	tickAll(t, m)
	assert.Equal(t, bt.StatusSuccess, status(t, m, "b"))
	assert.Equal(t, bt.StatusRunning, status(t, m, "a"))
}

func TestAttachRoutesBusEvents(t *testing.T) {
	b := bus.New()
	m := newManager(t, Config{Topic: "in", StatusTopic: "out"})
	require.NoError(t, m.Attach(b))
	assert.ErrorIs(t, m.Attach(b), ErrAttached)

	var (
		mu      sync.Mutex
		reports []StatusReport
	)
	_, err := b.SubscribeTopic("out", StatusEventType, func(e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, e.Data().(StatusReport))
		return nil
	})
	require.NoError(t, err)

	for _, actor := range []bt.ActorID{"a", "b"} {
		_, err = m.Spawn(actor, "waiter")
		require.NoError(t, err)
	}
	tickAll(t, m)

	require.NoError(t, b.PublishToTopic("in", bus.NewEvent("go", "test", "a", nil, nil)))
	assert.ErrorIs(t, b.PublishToTopic("in", bus.NewEvent("go", "test", "ghost", nil, nil)), ErrUnknownActor)
	tickAll(t, m)

	mu.Lock()
	require.Len(t, reports, 1)
	assert.Equal(t, StatusReport{Actor: "a", Tree: "waiter", Status: "Success", Tick: 2}, reports[0])
	mu.Unlock()

	require.NoError(t, m.Publish("", bt.NewEvent("go")))
	tickAll(t, m)
	assert.Equal(t, bt.StatusSuccess, status(t, m, "b"))

	names := map[string]bool{}
	for _, topic := range b.GetTopics() {
		names[topic.Name] = true
	}
	assert.True(t, names["in"] && names["out"])

	m.Detach()
	require.NoError(t, b.PublishToTopic("in", bus.NewEvent("go", "test", "ghost", nil, nil)))
	assert.ErrorIs(t, m.Publish("a", bt.NewEvent("go")), ErrNotAttached)
}

func TestTickAllCancelled(t *testing.T) {
	m := newManager(t, Config{})
	_, err := m.Spawn("a", "waiter")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.TickAll(ctx, time.Millisecond), context.Canceled)
	assert.Equal(t, uint64(0), m.Ticks())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	m := newManager(t, Config{TickRate: 5 * time.Millisecond})
	inst, err := m.Spawn("a", "waiter")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Ticks() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, inst.Ticks(), uint64(3))
}

func TestClose(t *testing.T) {
	b := bus.New()
	m := newManager(t, Config{})
	require.NoError(t, m.Attach(b))
	_, err := m.Spawn("a", "waiter")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())

	_, err = m.Spawn("a", "waiter")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Attach(b), ErrClosed)
	assert.NoError(t, b.PublishToTopic(DefaultTopic, bus.NewEvent("go", "test", "a", nil, nil)))
}

func TestConfigDefaults(t *testing.T) {
	cfg := New(bt.NewRegistry(), Config{}).Config()
	assert.Equal(t, DefaultTickRate, cfg.TickRate)
	assert.Equal(t, DefaultShards, cfg.Shards)
	assert.Equal(t, bt.DefaultMaxEventCascade, cfg.MaxEventCascade)
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, DefaultStatusTopic, cfg.StatusTopic)
}

func TestGuardAlertsCourier(t *testing.T) {
	reg, err := nodes.NewRegistry()
	require.NoError(t, err)
	m := New(reg, Config{})
	t.Cleanup(func() { _ = m.Close() })
	for _, name := range []string{"guard", "courier"} {
		_, err = m.LoadFile("../../../examples/trees/" + name + ".yaml")
		require.NoError(t, err)
	}
	guard, err := m.Spawn("guard-1", "guard")
	require.NoError(t, err)
	courier, err := m.Spawn("courier-1", "courier")
	require.NoError(t, err)

	ctx := context.Background()
	tickAll(t, m)
	assert.Equal(t, bt.StatusRunning, guard.Status())
	assert.Equal(t, bt.StatusRunning, courier.Status())

	require.NoError(t, m.HandleEvent("guard-1", bt.NewEvent("intruder")))
	assert.Equal(t, bt.StatusRunning, guard.Tick(ctx, time.Millisecond))
	assert.Equal(t, bt.StatusFailure, courier.Tick(ctx, time.Millisecond), "alarm fails the delivery round")

	require.NoError(t, m.HandleEvent("guard-1", bt.NewEvent("all-clear")))
	assert.Equal(t, bt.StatusSuccess, guard.Tick(ctx, time.Millisecond))
}

func TestStateRoundTrip(t *testing.T) {
	world := bt.NewBlackboard()
	m := newManager(t, Config{}, WithWorld(world))
	for _, actor := range []bt.ActorID{"a", "b"} {
		_, err := m.Spawn(actor, "waiter")
		require.NoError(t, err)
	}
	world.Set("alarm", "raised")
	a, _ := m.Instance("a")
	a.Blackboard().Set("hp", 7)
	b, _ := m.Instance("b")
	b.Blackboard().Namespace("memory").Set("seen", "guard-1")

	var buf bytes.Buffer
	require.NoError(t, m.SaveState(&buf))

	restoredWorld := bt.NewBlackboard()
	fresh := newManager(t, Config{}, WithWorld(restoredWorld))
	live, err := fresh.Spawn("a", "waiter")
	require.NoError(t, err)
	require.NoError(t, fresh.LoadState(bytes.NewReader(buf.Bytes())))

	alarm, _ := bt.Lookup[string](restoredWorld, "alarm")
	assert.Equal(t, "raised", alarm)
	hp, ok := bt.Lookup[int](live.Blackboard(), "hp")
	assert.True(t, ok, "spawned actors are restored in place")
	assert.Equal(t, 7, hp)

	later, err := fresh.Spawn("b", "waiter")
	require.NoError(t, err)
	seen, _ := bt.Lookup[string](later.Blackboard().Namespace("memory"), "seen")
	assert.Equal(t, "guard-1", seen, "actors spawned after loading get their saved blackboard")

	// A saved blackboard is handed out once.
	require.NoError(t, fresh.Despawn("b"))
	again, err := fresh.Spawn("b", "waiter")
	require.NoError(t, err)
	assert.Empty(t, again.Blackboard().Keys())

	assert.Error(t, fresh.LoadState(strings.NewReader("not gob")))
}
