package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe by Event.Type() within a topic; the default topic is "".
// Publish calls handlers synchronously in the publisher's goroutine, in subscription
// order, and joins their errors. Handlers must be quick: the frame loop publishes
// through this bus.
type EventBus interface {
	// Publish delivers the event to the subscribers of event.Type() in the default topic.
	Publish(event Event) error
	// Subscribe registers a handler for eventType in the default topic.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. It is safe to call with nil.
	Unsubscribe(sub Subscription) error

	// CreateTopic declares a topic. Repeat declarations are no-ops.
	CreateTopic(name string) error
	// SubscribeTopic registers a handler for eventType within topic.
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// PublishToTopic delivers the event within topic.
	PublishToTopic(topic string, event Event) error
	// PublishBatch publishes events to topic in order and joins their errors.
	PublishBatch(topic string, events ...Event) error

	// AddObserver registers an observer notified of every delivery.
	AddObserver(obs EventBusObserver)
	// RemoveObserver unregisters obs.
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns counters collected while at least one observer is registered.
	GetMetrics() EventBusMetrics
	// GetTopics returns a snapshot of known topics.
	GetTopics() []TopicInfo
}

// Event is an immutable message. Source is the origin-of-change tag consumers use to
// tell user edits from physics-derived updates.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked once per delivered event.
	EventHandler func(event Event) error
	// EventFilter reports whether an event should reach a handler.
	EventFilter func(event Event) bool
)

// Subscription is a registered handler.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers should return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, durationMicros int64)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Topics            uint64
}

type TopicInfo struct {
	Name       string
	EventTypes int
	Subs       int
}
