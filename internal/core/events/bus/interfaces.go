package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus that carries behavior
// events between hosts: the websocket gateway publishes what clients send,
// the tree manager routes it to actors and publishes tree outcomes back.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type(), or to every type with AnyType.
// - Topics: handlers subscribe within a topic; the default topic is "".
// - Synchronous delivery: Publish calls handlers in the caller goroutine.
// - Error aggregation: handler errors are joined and returned from Publish/PublishBatch.
// - Optional observability: metrics are produced only when observers are registered.
type EventBus interface {
	// Publish delivers the event synchronously to the subscribers of event.Type()
	// in the default topic.
	Publish(event Event) error
	// Subscribe registers a handler for an event type in the default topic.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// CreateTopic declares a logical topic. Repeat declarations are idempotent.
	CreateTopic(name string, config TopicConfig) error
	// SubscribeTopic registers a handler for eventType within a topic.
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// PublishToTopic publishes to a specific topic.
	PublishToTopic(topic string, event Event) error
	// PublishBatch publishes events to a topic in order and aggregates errors across them.
	PublishBatch(topic string, events ...Event) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot of accumulated metrics. Metrics are only
	// collected when at least one observer is registered.
	GetMetrics() EventBusMetrics
	// GetTopics returns a snapshot list of known topics, sorted by name.
	GetTopics() []TopicInfo
}

// AnyType subscribes a handler to every event type of a topic.
const AnyType = "*"

// Event is an immutable message transported by the EventBus.
//
// Fields:
// - Type: routing key used to select handlers; for behavior events it is the event name.
// - Source: identifier of the publisher (free-form).
// - Target: actor the event is addressed to; empty means every actor.
// - Timestamp: creation time of the event.
// - Data: opaque payload for consumers.
// - Metadata: small key/value annotations for additional context.
type Event interface {
	Type() string
	Source() string
	Target() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is invoked per delivered event. Returned errors are aggregated by Publish.
	EventHandler func(event Event) error
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	Topic() string
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel() error
}

// TopicConfig describes topic-level settings.
type TopicConfig struct {
	// Description is shown by GetTopics.
	Description string
}

// EventBusObserver is notified about deliveries and errors. Observers should return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, duration time.Duration)
}

// EventBusMetrics is updated only when at least one observer is registered.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Topics            uint64
}

// TopicInfo provides a minimal snapshot about a topic.
type TopicInfo struct {
	Name        string
	Description string
	EventTypes  int
	Subs        int
}
