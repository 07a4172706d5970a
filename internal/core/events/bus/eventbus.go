package bus

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNilHandler = errors.New("bus: nil handler")
	ErrNoType     = errors.New("bus: event type is required")
)

// simpleEvent is a basic implementation of Event.
type simpleEvent struct {
	typeStr string
	source  string
	target  string
	ts      time.Time
	data    any
	meta    map[string]any
}

func (e simpleEvent) Type() string             { return e.typeStr }
func (e simpleEvent) Source() string           { return e.source }
func (e simpleEvent) Target() string           { return e.target }
func (e simpleEvent) Timestamp() time.Time     { return e.ts }
func (e simpleEvent) Data() any                { return e.data }
func (e simpleEvent) Metadata() map[string]any { return e.meta }

// NewEvent creates a simple Event implementation.
func NewEvent(typ, src, target string, data any, metadata map[string]any) Event {
	return simpleEvent{typeStr: typ, source: src, target: target, ts: time.Now(), data: data, meta: metadata}
}

// subscription implements Subscription interface.
type subscription struct {
	id        string
	topic     string
	eventType string
	handler   EventHandler
	mu        sync.Mutex
	active    bool
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) Topic() string     { return s.topic }

func (s *subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *subscription) Cancel() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// inMemoryBus is a thread-safe implementation of EventBus with topics and observers.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: topic -> eventType -> subID -> subscription
	handlers  map[string]map[string]map[string]*subscription
	topics    map[string]TopicConfig
	metrics   EventBusMetrics
	observers map[EventBusObserver]struct{}
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{
		handlers:  make(map[string]map[string]map[string]*subscription),
		topics:    make(map[string]TopicConfig),
		observers: make(map[EventBusObserver]struct{}),
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	return b.deliver("", event)
}

func (b *inMemoryBus) PublishToTopic(topic string, event Event) error {
	return b.deliver(topic, event)
}

func (b *inMemoryBus) Subscribe(eventType string, handler EventHandler) (Subscription, error) {
	return b.SubscribeTopic("", eventType, handler)
}

func (b *inMemoryBus) SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if eventType == "" {
		return nil, ErrNoType
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureTopicLocked(topic)
	if b.handlers[topic][eventType] == nil {
		b.handlers[topic][eventType] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, topic: topic, eventType: eventType, handler: handler, active: true}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if mm, ok := b.handlers[topic][eventType]; ok {
			delete(mm, id)
		}
	}
	b.handlers[topic][eventType][id] = s
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) PublishBatch(topic string, events ...Event) error {
	var all error
	for _, e := range events {
		if err := b.deliver(topic, e); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *inMemoryBus) CreateTopic(name string, config TopicConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.topics[name]; exists {
		return nil
	}
	b.topics[name] = config
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[string]map[string]*subscription)
	}
	return nil
}

func (b *inMemoryBus) AddObserver(obs EventBusObserver) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus) RemoveObserver(obs EventBusObserver) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus) GetTopics() []TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]TopicInfo, 0, len(b.topics))
	for name, cfg := range b.topics {
		info := TopicInfo{Name: name, Description: cfg.Description}
		if hm := b.handlers[name]; hm != nil {
			for _, m := range hm {
				if len(m) > 0 {
					info.EventTypes++
				}
				info.Subs += len(m)
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ensureTopicLocked ensures maps exist for a topic
func (b *inMemoryBus) ensureTopicLocked(topic string) {
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = TopicConfig{}
	}
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]map[string]*subscription)
	}
}

func (b *inMemoryBus) deliver(topic string, event Event) error {
	if event == nil || event.Type() == "" {
		return ErrNoType
	}
	start := time.Now()
	etype := event.Type()

	b.mu.RLock()
	var subs []*subscription
	if inner := b.handlers[topic]; inner != nil {
		for _, key := range [...]string{etype, AnyType} {
			for _, s := range inner[key] {
				subs = append(subs, s)
			}
			if etype == AnyType {
				break
			}
		}
	}
	var observers []EventBusObserver
	if len(b.observers) > 0 {
		observers = make([]EventBusObserver, 0, len(b.observers))
		for obs := range b.observers {
			observers = append(observers, obs)
		}
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(topic, etype, event)
	}

	var all error
	delivered := 0
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		delivered++
		if err := s.handler(event); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		dur := time.Since(start)
		for _, obs := range observers {
			obs.OnDelivered(topic, etype, delivered, all, dur)
		}
		// update metrics only when observing
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.DeliveredHandlers += uint64(delivered)
		if all != nil {
			b.metrics.Errors++
		}
		b.metrics.Topics = uint64(len(b.topics))
		var subsCount uint64
		for _, et := range b.handlers {
			for _, m := range et {
				subsCount += uint64(len(m))
			}
		}
		b.metrics.SubscribersActive = subsCount
		b.mu.Unlock()
	}
	return all
}
