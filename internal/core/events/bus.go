// Package events provides the typed publish/subscribe bus connecting the
// classifier, recovery layers and telemetry without direct references.
package events

import "sync"

// Topic names an event stream. Each topic carries a structurally stable
// payload type (see payloads.go).
type Topic string

const (
	TopicErrorDetected        Topic = "errorDetected"
	TopicErrorHandling        Topic = "errorHandling"
	TopicErrorHandled         Topic = "errorHandled"
	TopicCircuitBreaker       Topic = "circuitBreakerTriggered"
	TopicFallback             Topic = "fallbackTriggered"
	TopicRecoveryStarted      Topic = "recoveryStarted"
	TopicRecoveryCompleted    Topic = "recoveryCompleted"
	TopicRetroStarted         Topic = "retroactiveRecoveryStarted"
	TopicRetroCompleted       Topic = "retroactiveRecoveryCompleted"
	TopicRetroFailed          Topic = "retroactiveRecoveryFailed"
	TopicSilentFailures       Topic = "silentFailuresDetected"
	TopicBatchStarted         Topic = "batchProcessingStarted"
	TopicBatchCompleted       Topic = "batchProcessingCompleted"
	TopicAlertTriggered       Topic = "alertTriggered"
	TopicAlertResolved        Topic = "alertResolved"
	TopicDashboardUpdated     Topic = "dashboardUpdated"
	TopicPatternsDetected     Topic = "patternsDetected"
)

// Handler receives a published payload. Handlers run synchronously on the
// publisher's goroutine, in registration order.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus is a minimal in-process pub/sub hub. The zero value is not usable;
// construct with NewBus. A nil *Bus is a valid null object: Publish and
// Subscribe become no-ops.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers a handler for a topic and returns an unsubscribe func.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the payload to every subscriber of the topic. The
// subscriber list is snapshotted under the read lock so handlers may
// subscribe or unsubscribe without deadlocking.
func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	list := make([]subscription, len(b.subs[topic]))
	copy(list, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range list {
		s.fn(payload)
	}
}
