package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Device represents a registered smart-home device
type Device struct {
	ID           string          `json:"id" db:"id"`
	Address      sql.NullString  `json:"address" db:"address"`
	Name         string          `json:"name" db:"name"`
	Type         string          `json:"type" db:"type"`
	Protocol     string          `json:"protocol" db:"protocol"`
	Manufacturer string          `json:"manufacturer" db:"manufacturer"`
	Model        string          `json:"model" db:"model"`
	Firmware     string          `json:"firmware" db:"firmware"`
	Room         string          `json:"room" db:"room"`
	State        json.RawMessage `json:"state" db:"state"`
	Capabilities json.RawMessage `json:"capabilities" db:"capabilities"`
	Metadata     json.RawMessage `json:"metadata" db:"metadata"`
	Online       bool            `json:"online" db:"online"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	LastSeen     sql.NullTime    `json:"last_seen" db:"last_seen"`
}

// DeviceHistoryEntry is an immutable full-state snapshot after a change
type DeviceHistoryEntry struct {
	ID          int64           `json:"id" db:"id"`
	DeviceID    string          `json:"device_id" db:"device_id"`
	State       json.RawMessage `json:"state" db:"state"`
	TriggeredBy sql.NullString  `json:"triggered_by" db:"triggered_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Automation represents a stored automation definition
type Automation struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	Enabled       bool            `json:"enabled" db:"enabled"`
	TriggerType   string          `json:"trigger_type" db:"trigger_type"`
	TriggerConfig json.RawMessage `json:"trigger_config" db:"trigger_config"`
	Conditions    json.RawMessage `json:"conditions" db:"conditions"`
	Actions       json.RawMessage `json:"actions" db:"actions"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	AIGenerated   bool            `json:"ai_generated" db:"ai_generated"`
	AIPrompt      string          `json:"ai_prompt" db:"ai_prompt"`
	LastTriggered sql.NullTime    `json:"last_triggered" db:"last_triggered"`
	TriggerCount  int64           `json:"trigger_count" db:"trigger_count"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// AutomationLogEntry is an immutable record of a single automation run
type AutomationLogEntry struct {
	ID            int64           `json:"id" db:"id"`
	AutomationID  string          `json:"automation_id" db:"automation_id"`
	Outcome       string          `json:"outcome" db:"outcome"`
	Event         json.RawMessage `json:"event" db:"event"`
	ActionResults json.RawMessage `json:"action_results" db:"action_results"`
	Error         sql.NullString  `json:"error" db:"error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
