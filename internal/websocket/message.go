package websocket

import (
	"encoding/json"
	"time"
)

// Message types pushed to WebSocket clients
const (
	MessageTypeDeviceRegistered    = "device_registered"
	MessageTypeDeviceStateChanged  = "device_state_changed"
	MessageTypeDeviceUpdated       = "device_updated"
	MessageTypeDeviceDeleted       = "device_deleted"
	MessageTypeDeviceOnline        = "device_online"
	MessageTypeDeviceOffline       = "device_offline"
	MessageTypeAutomationTriggered = "automation_triggered"
	MessageTypeAutomationCompleted = "automation_completed"
	MessageTypeNotification        = "notification"
	MessageTypeConnection          = "connection"
	MessageTypeHeartbeat           = "heartbeat"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}
