package websocket

import (
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/bus"
)

var messageTypes = map[bus.EventType]string{
	bus.DeviceRegistered:    MessageTypeDeviceRegistered,
	bus.DeviceStateChanged:  MessageTypeDeviceStateChanged,
	bus.DeviceUpdated:       MessageTypeDeviceUpdated,
	bus.DeviceDeleted:       MessageTypeDeviceDeleted,
	bus.DeviceOnline:        MessageTypeDeviceOnline,
	bus.DeviceOffline:       MessageTypeDeviceOffline,
	bus.AutomationTriggered: MessageTypeAutomationTriggered,
	bus.AutomationCompleted: MessageTypeAutomationCompleted,
	bus.Notification:        MessageTypeNotification,
}

// Forwarder relays internal bus events to WebSocket clients so UIs see
// device and automation activity live.
type Forwarder struct {
	hub    *Hub
	events *bus.Bus
	logger *logrus.Logger
	sub    *bus.Subscription
}

// NewForwarder creates a bus-to-WebSocket forwarder
func NewForwarder(hub *Hub, events *bus.Bus, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		hub:    hub,
		events: events,
		logger: logger,
	}
}

// Start subscribes to the bus and begins forwarding
func (f *Forwarder) Start() {
	types := make([]bus.EventType, 0, len(messageTypes))
	for eventType := range messageTypes {
		types = append(types, eventType)
	}

	f.sub = f.events.Subscribe("websocket-forwarder", 256, types...)
	go f.run()

	f.logger.Info("WebSocket event forwarder started")
}

// Stop detaches the forwarder from the bus
func (f *Forwarder) Stop() {
	if f.sub != nil {
		f.events.Unsubscribe(f.sub)
	}
}

func (f *Forwarder) run() {
	for event := range f.sub.C {
		messageType, ok := messageTypes[event.Type]
		if !ok {
			continue
		}

		f.hub.BroadcastToAll(Message{
			Type:      messageType,
			Data:      payloadData(event),
			Timestamp: event.Timestamp,
		})
	}
}

func payloadData(event bus.Event) map[string]interface{} {
	switch payload := event.Payload.(type) {
	case bus.StateChangePayload:
		return map[string]interface{}{
			"device_id": payload.DeviceID,
			"old_state": payload.OldState,
			"new_state": payload.NewState,
			"actor":     payload.Actor,
		}
	case bus.DevicePayload:
		return map[string]interface{}{
			"device_id": payload.DeviceID,
			"device":    payload.Device,
		}
	case bus.AutomationPayload:
		return map[string]interface{}{
			"automation_id": payload.AutomationID,
			"name":          payload.Name,
			"outcome":       payload.Outcome,
			"detail":        payload.Detail,
		}
	case bus.NotificationPayload:
		return map[string]interface{}{
			"title":   payload.Title,
			"message": payload.Message,
			"source":  payload.Source,
		}
	default:
		return map[string]interface{}{"payload": event.Payload}
	}
}
