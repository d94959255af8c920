package registry

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/havenhub/haven-backend-go/internal/database/models"
)

// Device is the in-memory representation of a registered device. The registry
// owns the authoritative copy; callers receive deep copies.
type Device struct {
	ID           string                 `json:"id"`
	Address      string                 `json:"address,omitempty"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Protocol     string                 `json:"protocol"`
	Manufacturer string                 `json:"manufacturer,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Firmware     string                 `json:"firmware,omitempty"`
	Room         string                 `json:"room,omitempty"`
	State        map[string]interface{} `json:"state"`
	Capabilities []string               `json:"capabilities"`
	Metadata     map[string]interface{} `json:"metadata"`
	Online       bool                   `json:"online"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	LastSeen     *time.Time             `json:"last_seen,omitempty"`
}

// RegisterSpec describes a device to register
type RegisterSpec struct {
	Address      string                 `json:"address,omitempty"`
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Protocol     string                 `json:"protocol"`
	Manufacturer string                 `json:"manufacturer,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Firmware     string                 `json:"firmware,omitempty"`
	Room         string                 `json:"room,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// InfoUpdate carries the mutable descriptive fields for UpdateInfo
type InfoUpdate struct {
	Name         *string                `json:"name,omitempty"`
	Room         *string                `json:"room,omitempty"`
	Manufacturer *string                `json:"manufacturer,omitempty"`
	Model        *string                `json:"model,omitempty"`
	Firmware     *string                `json:"firmware,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Filter selects devices in List
type Filter struct {
	Protocol string
	Type     string
	Room     string
	Online   *bool
}

// Matches reports whether a device satisfies the filter
func (f Filter) Matches(d *Device) bool {
	if f.Protocol != "" && d.Protocol != f.Protocol {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.Room != "" && d.Room != f.Room {
		return false
	}
	if f.Online != nil && d.Online != *f.Online {
		return false
	}
	return true
}

// Statistics summarizes the device table
type Statistics struct {
	Total      int            `json:"total"`
	Online     int            `json:"online"`
	Offline    int            `json:"offline"`
	ByProtocol map[string]int `json:"by_protocol"`
	ByType     map[string]int `json:"by_type"`
}

// Clone returns a deep copy safe to hand to callers
func (d *Device) Clone() *Device {
	clone := *d
	clone.State = cloneMap(d.State)
	clone.Metadata = cloneMap(d.Metadata)
	clone.Capabilities = append([]string(nil), d.Capabilities...)
	if d.LastSeen != nil {
		ts := *d.LastSeen
		clone.LastSeen = &ts
	}
	return &clone
}

// mergeState merges partial into base key by key, last write wins. Neither
// input is mutated.
func mergeState(base, partial map[string]interface{}) map[string]interface{} {
	merged := cloneMap(base)
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

func (d *Device) toModel() *models.Device {
	stateJSON, _ := json.Marshal(d.State)
	capsJSON, _ := json.Marshal(d.Capabilities)
	metaJSON, _ := json.Marshal(d.Metadata)

	model := &models.Device{
		ID:           d.ID,
		Name:         d.Name,
		Type:         d.Type,
		Protocol:     d.Protocol,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Firmware:     d.Firmware,
		Room:         d.Room,
		State:        stateJSON,
		Capabilities: capsJSON,
		Metadata:     metaJSON,
		Online:       d.Online,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Address != "" {
		model.Address = sql.NullString{String: d.Address, Valid: true}
	}
	if d.LastSeen != nil {
		model.LastSeen = sql.NullTime{Time: *d.LastSeen, Valid: true}
	}
	return model
}

func deviceFromModel(m *models.Device) *Device {
	d := &Device{
		ID:           m.ID,
		Name:         m.Name,
		Type:         m.Type,
		Protocol:     m.Protocol,
		Manufacturer: m.Manufacturer,
		Model:        m.Model,
		Firmware:     m.Firmware,
		Room:         m.Room,
		State:        map[string]interface{}{},
		Capabilities: []string{},
		Metadata:     map[string]interface{}{},
		Online:       m.Online,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Address.Valid {
		d.Address = m.Address.String
	}
	if m.LastSeen.Valid {
		ts := m.LastSeen.Time
		d.LastSeen = &ts
	}
	json.Unmarshal(m.State, &d.State)
	json.Unmarshal(m.Capabilities, &d.Capabilities)
	json.Unmarshal(m.Metadata, &d.Metadata)
	return d
}
