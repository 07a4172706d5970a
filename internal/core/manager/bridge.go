package manager

import (
	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/events/bus"
	"github.com/zeusync/behave/internal/core/observability/log"
)

const (
	// StatusEventType is the bus event type of a tree outcome report.
	StatusEventType = "tree.status"
	busSource       = "manager"
)

// StatusReport is the payload of a StatusEventType event. It is published
// each time an actor's root finishes with Success or Failure.
type StatusReport struct {
	Actor  string `json:"actor"`
	Tree   string `json:"tree"`
	Status string `json:"status"`
	Tick   uint64 `json:"tick"`
}

// Attach consumes every event type published on the configured topic and
// publishes tree outcomes on the status topic. An event with a target goes to
// that actor only; one without is broadcast.
func (m *Manager) Attach(b bus.EventBus) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.busMu.Lock()
	defer m.busMu.Unlock()
	if m.bus != nil {
		return ErrAttached
	}

	if err := b.CreateTopic(m.cfg.Topic, bus.TopicConfig{Description: "events routed to actors"}); err != nil {
		return err
	}
	if err := b.CreateTopic(m.cfg.StatusTopic, bus.TopicConfig{Description: "tree outcomes"}); err != nil {
		return err
	}
	sub, err := b.SubscribeTopic(m.cfg.Topic, bus.AnyType, m.route)
	if err != nil {
		return err
	}
	m.bus = b
	m.subs = append(m.subs, sub)
	m.logger.Info("attached to bus", log.String("topic", m.cfg.Topic), log.String("status_topic", m.cfg.StatusTopic))
	return nil
}

// Detach cancels the bus subscriptions. It is a no-op when not attached.
func (m *Manager) Detach() {
	m.busMu.Lock()
	subs := m.subs
	m.subs = nil
	m.bus = nil
	m.busMu.Unlock()
	for _, sub := range subs {
		_ = sub.Cancel()
	}
}

func (m *Manager) route(e bus.Event) error {
	ev := bt.NewEvent(e.Type())
	if e.Target() == "" {
		m.Broadcast(ev)
		return nil
	}
	return m.HandleEvent(bt.ActorID(e.Target()), ev)
}

func (m *Manager) attached() bus.EventBus {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	return m.bus
}

func (m *Manager) publishStatus(inst *bt.Instance, st bt.Status) {
	b := m.attached()
	if b == nil {
		return
	}
	report := StatusReport{
		Actor:  string(inst.Actor()),
		Tree:   inst.Tree().Name(),
		Status: st.String(),
		Tick:   inst.Ticks(),
	}
	ev := bus.NewEvent(StatusEventType, busSource, report.Actor, report, nil)
	if err := b.PublishToTopic(m.cfg.StatusTopic, ev); err != nil {
		m.logger.Warn("status handler failed", log.String("actor", report.Actor), log.Error(err))
	}
}

// Publish sends a behavior event through the attached bus, so it reaches
// actors the same way as events from other publishers.
func (m *Manager) Publish(target bt.ActorID, ev bt.Event) error {
	b := m.attached()
	if b == nil {
		return ErrNotAttached
	}
	return b.PublishToTopic(m.cfg.Topic, bus.NewEvent(ev.Name(), busSource, string(target), nil, nil))
}
