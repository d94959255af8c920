package automation

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// Automation is the in-memory representation of an automation. Trigger,
// condition and action payloads are decoded into their typed variants when
// the automation is created or loaded, never re-interpreted at run time.
type Automation struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Enabled     bool            `json:"enabled"`
	Trigger     TriggerSpec     `json:"trigger"`
	Conditions  []ConditionSpec `json:"conditions"`
	Actions     []ActionSpec    `json:"actions"`

	CreatedBy   string `json:"created_by,omitempty"`
	AIGenerated bool   `json:"ai_generated,omitempty"`
	AIPrompt    string `json:"ai_prompt,omitempty"`

	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int64      `json:"trigger_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Definition is the input shape for creating an automation
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Trigger     TriggerSpec     `json:"trigger"`
	Conditions  []ConditionSpec `json:"conditions,omitempty"`
	Actions     []ActionSpec    `json:"actions"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

// Patch carries the updatable fields for Update. Nil fields are untouched.
type Patch struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Enabled     *bool            `json:"enabled,omitempty"`
	Trigger     *TriggerSpec     `json:"trigger,omitempty"`
	Conditions  *[]ConditionSpec `json:"conditions,omitempty"`
	Actions     *[]ActionSpec    `json:"actions,omitempty"`
}

// Validate checks a definition before it becomes an automation
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.NewValidation("automation name is required")
	}
	if err := d.Trigger.Validate(); err != nil {
		return err
	}
	if len(d.Actions) == 0 {
		return errors.NewValidation("automation requires at least one action")
	}
	for _, condition := range d.Conditions {
		if err := condition.Validate(); err != nil {
			return err
		}
	}
	for _, action := range d.Actions {
		if err := action.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a copy safe to hand to callers
func (a *Automation) Clone() *Automation {
	clone := *a
	clone.Conditions = append([]ConditionSpec(nil), a.Conditions...)
	clone.Actions = append([]ActionSpec(nil), a.Actions...)
	if a.LastTriggered != nil {
		ts := *a.LastTriggered
		clone.LastTriggered = &ts
	}
	return &clone
}

func (a *Automation) toModel() (*models.Automation, error) {
	var triggerConfig interface{}
	switch a.Trigger.Type {
	case TriggerTime:
		triggerConfig = a.Trigger.Time
	case TriggerState:
		triggerConfig = a.Trigger.State
	}

	triggerJSON, err := json.Marshal(triggerConfig)
	if err != nil {
		return nil, errors.NewValidation("unencodable trigger config")
	}
	conditionsJSON, _ := json.Marshal(a.Conditions)
	actionsJSON, _ := json.Marshal(a.Actions)

	model := &models.Automation{
		ID:            a.ID,
		Name:          a.Name,
		Description:   a.Description,
		Enabled:       a.Enabled,
		TriggerType:   string(a.Trigger.Type),
		TriggerConfig: triggerJSON,
		Conditions:    conditionsJSON,
		Actions:       actionsJSON,
		CreatedBy:     a.CreatedBy,
		AIGenerated:   a.AIGenerated,
		AIPrompt:      a.AIPrompt,
		TriggerCount:  a.TriggerCount,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
	if a.LastTriggered != nil {
		model.LastTriggered = sql.NullTime{Time: *a.LastTriggered, Valid: true}
	}
	return model, nil
}

func automationFromModel(m *models.Automation) (*Automation, error) {
	a := &Automation{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		Enabled:      m.Enabled,
		CreatedBy:    m.CreatedBy,
		AIGenerated:  m.AIGenerated,
		AIPrompt:     m.AIPrompt,
		TriggerCount: m.TriggerCount,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.LastTriggered.Valid {
		ts := m.LastTriggered.Time
		a.LastTriggered = &ts
	}

	a.Trigger.Type = TriggerType(m.TriggerType)
	switch a.Trigger.Type {
	case TriggerTime:
		var cfg TimeTrigger
		if err := json.Unmarshal(m.TriggerConfig, &cfg); err != nil {
			return nil, errors.NewValidation("corrupt time trigger config: " + m.ID)
		}
		a.Trigger.Time = &cfg
	case TriggerState:
		var cfg StateTrigger
		if err := json.Unmarshal(m.TriggerConfig, &cfg); err != nil {
			return nil, errors.NewValidation("corrupt state trigger config: " + m.ID)
		}
		a.Trigger.State = &cfg
	default:
		return nil, errors.NewValidation("unknown trigger type: " + m.TriggerType)
	}

	if err := json.Unmarshal(m.Conditions, &a.Conditions); err != nil {
		return nil, errors.NewValidation("corrupt conditions: " + m.ID)
	}
	if err := json.Unmarshal(m.Actions, &a.Actions); err != nil {
		return nil, errors.NewValidation("corrupt actions: " + m.ID)
	}
	return a, nil
}
