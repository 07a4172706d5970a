// Package manager hosts tree instances for many actors: it spawns them from
// named trees, ticks them at a fixed cadence and routes events by actor id.
package manager

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/observability/log"
	"github.com/zeusync/behave/pkg/concurrent"
	"github.com/zeusync/behave/pkg/generic"
)

// Config controls ticking and routing. Zero values pick defaults.
type Config struct {
	TickRate        time.Duration
	Workers         int
	MaxEventCascade int
	Shards          int
	// Topic is the bus topic events are consumed from.
	Topic string
	// StatusTopic is the bus topic tree outcomes are published to.
	StatusTopic string
}

const (
	DefaultTickRate    = 100 * time.Millisecond
	DefaultShards      = 16
	DefaultTopic       = "actors"
	DefaultStatusTopic = "status"
)

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxEventCascade <= 0 {
		c.MaxEventCascade = bt.DefaultMaxEventCascade
	}
	if c.Shards <= 0 {
		c.Shards = DefaultShards
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.StatusTopic == "" {
		c.StatusTopic = DefaultStatusTopic
	}
	return c
}

// SpawnObserver is implemented by observers that also track instance counts.
type SpawnObserver interface {
	InstanceSpawned(actor bt.ActorID, tree string)
	InstanceDespawned(actor bt.ActorID, tree string)
}

type Option func(*Manager)

func WithLogger(l log.Log) Option { return func(m *Manager) { m.logger = l } }

// WithObserver is passed to every spawned instance. If it implements
// SpawnObserver it is told about spawns and despawns as well.
func WithObserver(o bt.Observer) Option { return func(m *Manager) { m.observer = o } }

// WithWorld shares one blackboard between all instances.
func WithWorld(world bt.Blackboard) Option { return func(m *Manager) { m.world = world } }

type shard struct {
	mu        sync.RWMutex
	instances map[bt.ActorID]*bt.Instance
}

// Manager owns the tree instances of all actors. It implements bt.Dispatcher,
// so nodes can send events to other actors through it.
type Manager struct {
	cfg      Config
	registry *bt.Registry
	logger   log.Log
	observer bt.Observer
	world    bt.Blackboard

	treesMu sync.RWMutex
	trees   map[string]*bt.Tree

	shards  []*shard
	buffers *generic.SlicePool[*bt.Instance]

	busMu sync.Mutex
	bus   bus.EventBus
	subs  []bus.Subscription

	// restored holds loaded blackboards of actors not spawned yet.
	stateMu  sync.Mutex
	restored map[bt.ActorID]bt.Blackboard

	ticks  atomic.Uint64
	closed atomic.Bool
}

var _ bt.Dispatcher = (*Manager)(nil)

// New creates a manager that builds trees with registry.
func New(registry *bt.Registry, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		registry: registry,
		trees:    make(map[string]*bt.Tree),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.NewNop()
	}
	m.logger = m.logger.With(log.String("component", "manager"))
	m.buffers = generic.NewSlicePool[*bt.Instance](64)
	m.shards = make([]*shard, m.cfg.Shards)
	for i := range m.shards {
		m.shards[i] = &shard{instances: make(map[bt.ActorID]*bt.Instance)}
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) shardFor(actor bt.ActorID) *shard {
	return m.shards[xxhash.Sum64String(string(actor))%uint64(len(m.shards))]
}

// AddTree makes tree available to Spawn under its name.
func (m *Manager) AddTree(tree *bt.Tree) error {
	m.treesMu.Lock()
	defer m.treesMu.Unlock()
	if _, exists := m.trees[tree.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTree, tree.Name())
	}
	m.trees[tree.Name()] = tree
	m.logger.Info("tree added", log.String("tree", tree.Name()), log.Int("nodes", tree.Len()))
	return nil
}

// LoadTree builds desc with the manager's registry and adds it.
func (m *Manager) LoadTree(desc *bt.Description) (*bt.Tree, error) {
	tree, err := bt.Build(desc, m.registry)
	if err != nil {
		return nil, err
	}
	if err = m.AddTree(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// LoadFile loads a YAML or JSON description from path.
func (m *Manager) LoadFile(path string) (*bt.Tree, error) {
	desc, err := bt.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return m.LoadTree(desc)
}

func (m *Manager) Tree(name string) (*bt.Tree, bool) {
	m.treesMu.RLock()
	defer m.treesMu.RUnlock()
	t, ok := m.trees[name]
	return t, ok
}

// Trees lists the tree names in sorted order.
func (m *Manager) Trees() []string {
	m.treesMu.RLock()
	names := make([]string, 0, len(m.trees))
	for name := range m.trees {
		names = append(names, name)
	}
	m.treesMu.RUnlock()
	sort.Strings(names)
	return names
}

// Spawn binds a new instance of the named tree to actor. Extra options are
// applied after the manager's own.
func (m *Manager) Spawn(actor bt.ActorID, treeName string, opts ...bt.InstanceOption) (*bt.Instance, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	tree, ok := m.Tree(treeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTree, treeName)
	}

	base := []bt.InstanceOption{
		bt.WithDispatcher(m),
		bt.WithLogger(m.logger),
		bt.WithMaxEventCascade(m.cfg.MaxEventCascade),
	}
	if m.world != nil {
		base = append(base, bt.WithWorld(m.world))
	}
	if m.observer != nil {
		base = append(base, bt.WithObserver(m.observer))
	}
	if bb, ok := m.takeRestored(actor); ok {
		base = append(base, bt.WithBlackboard(bb))
	}
	inst := bt.NewInstance(tree, actor, append(base, opts...)...)

	s := m.shardFor(actor)
	s.mu.Lock()
	if _, exists := s.instances[actor]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActorExists, actor)
	}
	s.instances[actor] = inst
	s.mu.Unlock()

	if so, ok := m.observer.(SpawnObserver); ok {
		so.InstanceSpawned(actor, treeName)
	}
	m.logger.Info("actor spawned", log.String("actor", string(actor)), log.String("tree", treeName))
	return inst, nil
}

// Despawn closes the actor's instance, so every active node is terminated
// and a tick round already holding it does nothing, then removes it.
func (m *Manager) Despawn(actor bt.ActorID) error {
	inst, ok := m.Instance(actor)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	inst.Close()

	s := m.shardFor(actor)
	s.mu.Lock()
	ok = s.instances[actor] == inst
	if ok {
		delete(s.instances, actor)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	if so, ok := m.observer.(SpawnObserver); ok {
		so.InstanceDespawned(actor, inst.Tree().Name())
	}
	m.logger.Info("actor despawned", log.String("actor", string(actor)))
	return nil
}

func (m *Manager) Instance(actor bt.ActorID) (*bt.Instance, bool) {
	s := m.shardFor(actor)
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[actor]
	return inst, ok
}

// Actors lists the spawned actors in sorted order.
func (m *Manager) Actors() []bt.ActorID {
	var out []bt.ActorID
	for _, inst := range m.snapshot() {
		out = append(out, inst.Actor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.instances)
		s.mu.RUnlock()
	}
	return n
}

func (m *Manager) snapshot() []*bt.Instance { return m.appendInstances(nil) }

func (m *Manager) appendInstances(out []*bt.Instance) []*bt.Instance {
	for _, s := range m.shards {
		s.mu.RLock()
		for _, inst := range s.instances {
			out = append(out, inst)
		}
		s.mu.RUnlock()
	}
	return out
}

// HandleEvent delivers ev to the instance bound to target.
func (m *Manager) HandleEvent(target bt.ActorID, ev bt.Event) error {
	inst, ok := m.Instance(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, target)
	}
	inst.HandleEvent(ev)
	return nil
}

// Broadcast delivers ev to every instance and returns how many there were.
func (m *Manager) Broadcast(ev bt.Event) int {
	all := m.snapshot()
	for _, inst := range all {
		inst.HandleEvent(ev)
	}
	return len(all)
}

// Ticks is the number of completed TickAll rounds.
func (m *Manager) Ticks() uint64 { return m.ticks.Load() }

// TickAll ticks every instance once, in parallel on at most Workers goroutines.
// It stops early, returning the context error, when ctx is done.
func (m *Manager) TickAll(ctx context.Context, dt time.Duration) error {
	buf := m.buffers.Get()
	defer m.buffers.Put(buf)
	*buf = m.appendInstances(*buf)

	err := concurrent.Bounded(ctx, *buf, m.cfg.Workers, func(ctx context.Context, inst *bt.Instance) error {
		if st := inst.Tick(ctx, dt); st.Terminal() {
			m.publishStatus(inst, st)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.ticks.Add(1)
	return nil
}

// Run calls TickAll at the configured rate until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickRate)
	defer ticker.Stop()

	m.logger.Info("tick loop started", log.Duration("tick_rate", m.cfg.TickRate), log.Int("workers", m.cfg.Workers))
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("tick loop stopped", log.Uint64("ticks", m.Ticks()))
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := m.TickAll(ctx, dt); err != nil && ctx.Err() == nil {
				m.logger.Warn("tick failed", log.Error(err))
			}
		}
	}
}

// Close detaches from the bus and despawns every actor.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.Detach()
	concurrent.Each(m.snapshot(), func(inst *bt.Instance) { _ = m.Despawn(inst.Actor()) })
	return nil
}
