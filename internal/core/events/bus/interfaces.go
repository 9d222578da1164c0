// Package bus is an in-process publish/subscribe bus for lifecycle
// notifications. Registries publish entity events on it; servers and SDK
// clients subscribe to react to them.
package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub event bus.
//
// Handlers subscribe by Event.Type() within a topic. The default topic is "";
// registries publish under their environment id. Delivery is synchronous, in
// the publisher goroutine, and in subscription order. Handler errors are
// joined and returned from Publish.
type EventBus interface {
	// Publish delivers the event to the subscribers of event.Type() in the
	// default topic.
	Publish(event Event) error
	// Subscribe registers a handler in the default topic.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// SubscribeTopic registers a handler for eventType within a topic. The
	// wildcard event type "*" receives every event of the topic.
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// PublishToTopic publishes to a specific topic.
	PublishToTopic(topic string, event Event) error
	// RemoveTopic drops a topic and cancels all of its subscriptions.
	RemoveTopic(topic string)

	// PublishAsync publishes in a separate goroutine. The returned channel
	// receives the joined handler error (or nil) and is then closed.
	PublishAsync(topic string, event Event) <-chan error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot of the counters. They are only updated
	// while at least one observer is registered.
	GetMetrics() EventBusMetrics
	GetTopics() []TopicInfo
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
	// EventFilter decides whether an event is delivered to a handler.
	EventFilter func(event Event) bool
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries. Observers must return quickly.
type EventBusObserver interface {
	OnPublish(topic, eventType string, event Event)
	OnDelivered(topic, eventType string, handlers int, err error, took time.Duration)
}

type EventBusMetrics struct {
	Published         uint64 `json:"published"`
	DeliveredHandlers uint64 `json:"delivered_handlers"`
	Errors            uint64 `json:"errors"`
	SubscribersActive uint64 `json:"subscribers_active"`
	Topics            uint64 `json:"topics"`
}

type TopicInfo struct {
	Name       string `json:"name"`
	EventTypes int    `json:"event_types"`
	Subs       int    `json:"subscribers"`
}
