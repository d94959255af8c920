package bus

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies every event the core can publish. The set is closed:
// consumers switch over these constants rather than matching ad-hoc strings.
type EventType string

const (
	DeviceRegistered    EventType = "device.registered"
	DeviceStateChanged  EventType = "device.state_changed"
	DeviceUpdated       EventType = "device.updated"
	DeviceDeleted       EventType = "device.deleted"
	DeviceOnline        EventType = "device.online"
	DeviceOffline       EventType = "device.offline"
	DeviceControl       EventType = "device.control"
	AutomationCreated   EventType = "automation.created"
	AutomationUpdated   EventType = "automation.updated"
	AutomationDeleted   EventType = "automation.deleted"
	AutomationTriggered EventType = "automation.triggered"
	AutomationCompleted EventType = "automation.completed"
	Notification        EventType = "notification"
)

// Event is a single bus message. Payload holds the typed payload struct for
// the event's type (StateChangePayload, ControlPayload, ...).
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateChangePayload accompanies DeviceStateChanged events
type StateChangePayload struct {
	DeviceID string                 `json:"device_id"`
	OldState map[string]interface{} `json:"old_state"`
	NewState map[string]interface{} `json:"new_state"`
	Actor    string                 `json:"actor,omitempty"`
}

// ControlPayload accompanies DeviceControl events. Protocol adapters consume
// it and effect the command on the physical network.
type ControlPayload struct {
	DeviceID   string                 `json:"device_id"`
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
}

// DevicePayload accompanies device lifecycle events
type DevicePayload struct {
	DeviceID string      `json:"device_id"`
	Device   interface{} `json:"device,omitempty"`
}

// AutomationPayload accompanies automation lifecycle and run events
type AutomationPayload struct {
	AutomationID string      `json:"automation_id"`
	Name         string      `json:"name,omitempty"`
	Outcome      string      `json:"outcome,omitempty"`
	Detail       interface{} `json:"detail,omitempty"`
}

// NotificationPayload accompanies fire-and-forget notification actions
type NotificationPayload struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

// Subscription is a registered consumer. Events arrive on C in publish order;
// the subscriber drains it with a single goroutine to preserve that order.
type Subscription struct {
	C      chan Event
	name   string
	types  map[EventType]bool
	closed bool
	mu     sync.Mutex
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	return s.types[t]
}

// Bus is an in-process publish/subscribe channel connecting the registry,
// the engine and the external collaborators.
type Bus struct {
	subscribers []*Subscription
	logger      *logrus.Logger
	mu          sync.RWMutex
	dropped     int64
}

// New creates a new event bus
func New(logger *logrus.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a consumer for the given event types. No types means
// all events. The buffer must be drained promptly: events beyond a full
// buffer are dropped for that subscriber, never queued.
func (b *Bus) Subscribe(name string, buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &Subscription{
		C:     make(chan Event, buffer),
		name:  name,
		types: make(map[EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"subscriber": name,
		"types":      types,
	}).Debug("Bus subscriber registered")

	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.C)
	}
	sub.mu.Unlock()
}

// Publish delivers an event to every interested subscriber in registration
// order. Delivery to a single subscriber preserves publish order; a slow
// subscriber loses events instead of blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload interface{}) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.wants(eventType) {
			continue
		}

		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		select {
		case sub.C <- event:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.logger.WithFields(logrus.Fields{
				"subscriber": sub.name,
				"event_type": eventType,
			}).Warn("Subscriber buffer full, event dropped")
		}
		sub.mu.Unlock()
	}
}

// Dropped returns the total number of events dropped across subscribers
func (b *Bus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
