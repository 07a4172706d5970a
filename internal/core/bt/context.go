package bt

import (
	"context"
	"time"

	"github.com/zeusync/behave/internal/core/observability/log"
)

// scope is what every hook context exposes about the node being called.
// Contexts are built by the Instance for a single call and must not be kept.
type scope struct {
	inst *Instance
	id   NodeID
}

// Actor is the identity of the actor the instance belongs to.
func (c *scope) Actor() ActorID { return c.inst.actor }

// Node describes the node the hook is running for.
func (c *scope) Node() NodeInfo { return c.inst.tree.nodes[c.id].info }

// Blackboard is the instance-local blackboard.
func (c *scope) Blackboard() Blackboard { return c.inst.bb }

// World is the shared world blackboard given at spawn, or nil.
func (c *scope) World() Blackboard { return c.inst.world }

func (c *scope) Logger() log.Log {
	info := c.Node()
	return c.inst.logger.With(log.String("node", info.Name), log.String("type", info.Type))
}

func (c *scope) Now() time.Time { return c.inst.clock() }

// RuntimeData is the value created by NewRuntimeData for this activation.
func (c *scope) RuntimeData() any { return c.inst.slots[c.id].data }

// SendEvent posts ev to the node's own tree. If the tree is busy the event
// is delivered as soon as the current tick or delivery returns.
func (c *scope) SendEvent(ev Event) {
	c.inst.HandleEvent(ev)
}

// SendEventTo posts ev to the tree bound to target. The sender never
// observes the outcome; routing failures are logged.
func (c *scope) SendEventTo(target ActorID, ev Event) {
	if target == "" || target == c.inst.actor {
		c.inst.HandleEvent(ev)
		return
	}
	if c.inst.dispatcher == nil {
		c.inst.logger.Warn("event dropped: no dispatcher",
			log.String("target", string(target)), log.String("event", ev.Name()))
		return
	}
	if err := c.inst.dispatcher.HandleEvent(target, ev); err != nil {
		c.inst.logger.Warn("event not routed",
			log.String("target", string(target)), log.String("event", ev.Name()), log.Error(err))
	}
}

// UpdateContext is passed to OnInitialize, Update and OnTerminate.
type UpdateContext struct {
	scope
}

// Context is the context given to Instance.Tick.
func (c *UpdateContext) Context() context.Context { return c.inst.goCtx }

// Delta is the duration given to Instance.Tick.
func (c *UpdateContext) Delta() time.Duration { return c.inst.dt }

func (c *UpdateContext) ChildCount() int { return len(c.inst.tree.nodes[c.id].children) }

// TickChild activates child n if needed, updates it and returns its status.
// A child that finishes is terminated before TickChild returns.
func (c *UpdateContext) TickChild(n int) Status {
	ch, ok := c.child(n)
	if !ok {
		return StatusFailure
	}
	return c.inst.tickNode(ch)
}

// AbortChild terminates child n and its running descendants.
func (c *UpdateContext) AbortChild(n int) {
	if ch, ok := c.child(n); ok {
		c.inst.abort(ch)
	}
}

// ChildStatus is StatusRunning for an active child and StatusUninitialized otherwise.
func (c *UpdateContext) ChildStatus(n int) Status {
	ch, ok := c.child(n)
	if !ok {
		return StatusUninitialized
	}
	return c.inst.slots[ch].status
}

func (c *UpdateContext) child(n int) (NodeID, bool) {
	children := c.inst.tree.nodes[c.id].children
	if n < 0 || n >= len(children) {
		c.inst.logger.Warn("child index out of range",
			log.String("node", c.Node().Name), log.Int("index", n), log.Int("children", len(children)))
		return NoNode, false
	}
	return children[n], true
}

// EventContext is passed to HandleEvent.
type EventContext struct {
	scope
	ev       Event
	delivery uint64
}

// Event is the event being delivered.
func (c *EventContext) Event() Event { return c.ev }

// Forward delivers the current event to the running children of this node.
// Each node receives a delivery at most once, however often Forward is called.
func (c *EventContext) Forward() {
	for _, ch := range c.inst.tree.nodes[c.id].children {
		c.inst.deliverTo(ch, c.ev, c.delivery)
	}
}
