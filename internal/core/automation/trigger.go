package automation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// TriggerType discriminates the trigger variants
type TriggerType string

const (
	TriggerTime  TriggerType = "time"
	TriggerState TriggerType = "state"
)

// Event is the payload handed to Trigger. Type tells which origin produced
// it: the scheduler, a registry state change, or a manual call.
type Event struct {
	Type      string                 `json:"type"` // "time", "state", "manual"
	DeviceID  string                 `json:"device_id,omitempty"`
	OldState  map[string]interface{} `json:"old_state,omitempty"`
	NewState  map[string]interface{} `json:"new_state,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// TimeTrigger fires on a schedule: either a literal cron expression or an
// HH:MM[,days] shorthand converted to one.
type TimeTrigger struct {
	Cron string   `json:"cron,omitempty" yaml:"cron,omitempty"`
	At   string   `json:"at,omitempty" yaml:"at,omitempty"`
	Days []string `json:"days,omitempty" yaml:"days,omitempty"`
}

// StateTrigger fires when a watched property of a device transitions per the
// configured operator.
type StateTrigger struct {
	DeviceID string      `json:"device_id" yaml:"device_id"`
	Property string      `json:"property" yaml:"property"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// TriggerSpec is the tagged trigger variant. Exactly one of Time or State is
// set, matching Type; payloads are decoded and validated once at creation.
type TriggerSpec struct {
	Type  TriggerType   `json:"type" yaml:"type"`
	Time  *TimeTrigger  `json:"time,omitempty" yaml:"time,omitempty"`
	State *StateTrigger `json:"state,omitempty" yaml:"state,omitempty"`
}

// UnmarshalJSON accepts both the enveloped form and a flat form where the
// variant fields sit beside type.
func (t *TriggerSpec) UnmarshalJSON(data []byte) error {
	type envelope TriggerSpec
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*t = TriggerSpec(env)

	switch t.Type {
	case TriggerTime:
		if t.Time == nil {
			var flat TimeTrigger
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			t.Time = &flat
		}
	case TriggerState:
		if t.State == nil {
			var flat StateTrigger
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			t.State = &flat
		}
	}
	return nil
}

// Supported state trigger operators
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpChangesTo   = "changes_to"
	OpChangesFrom = "changes_from"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpChanges     = "changes"
)

var dayNames = map[string]string{
	"sun": "SUN", "mon": "MON", "tue": "TUE", "wed": "WED",
	"thu": "THU", "fri": "FRI", "sat": "SAT",
}

// Validate checks the trigger spec and rejects malformed configurations
func (t *TriggerSpec) Validate() error {
	switch t.Type {
	case TriggerTime:
		if t.Time == nil {
			return errors.NewValidation("time trigger requires a time configuration")
		}
		if _, err := t.Time.CronExpression(); err != nil {
			return err
		}
	case TriggerState:
		if t.State == nil {
			return errors.NewValidation("state trigger requires a state configuration")
		}
		if t.State.DeviceID == "" || t.State.Property == "" || t.State.Operator == "" {
			return errors.NewValidation("state trigger requires device_id, property and operator")
		}
	default:
		return errors.NewValidation(fmt.Sprintf("unknown trigger type: %s", t.Type))
	}
	return nil
}

// CronExpression derives the standard 5-field cron expression for the
// trigger, converting the HH:MM[,days] shorthand when no literal expression
// is given.
func (t *TimeTrigger) CronExpression() (string, error) {
	if t.Cron != "" {
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return "", errors.NewValidation(fmt.Sprintf("invalid cron expression: %s", t.Cron))
		}
		return t.Cron, nil
	}

	if t.At == "" {
		return "", errors.NewValidation("time trigger requires cron or at")
	}

	// The at field may embed days: "07:30,mon,fri"
	parts := strings.Split(t.At, ",")
	clock, err := time.Parse("15:04", strings.TrimSpace(parts[0]))
	if err != nil {
		return "", errors.NewValidation(fmt.Sprintf("invalid time: %s", parts[0]))
	}

	days := append([]string{}, t.Days...)
	days = append(days, parts[1:]...)

	dow := "*"
	if len(days) > 0 {
		names := make([]string, 0, len(days))
		for _, day := range days {
			normalized := strings.ToLower(strings.TrimSpace(day))
			if len(normalized) > 3 {
				normalized = normalized[:3]
			}
			name, ok := dayNames[normalized]
			if !ok {
				return "", errors.NewValidation(fmt.Sprintf("invalid day: %s", day))
			}
			names = append(names, name)
		}
		dow = strings.Join(names, ",")
	}

	return fmt.Sprintf("%d %d * * %s", clock.Minute(), clock.Hour(), dow), nil
}

// Matches evaluates the state trigger operator against an observed
// old/new state pair for the watched property.
func (t *StateTrigger) Matches(oldState, newState map[string]interface{}) bool {
	oldValue := oldState[t.Property]
	newValue := newState[t.Property]

	switch t.Operator {
	case OpEquals:
		return valuesEqual(newValue, t.Value)
	case OpChangesTo:
		return valuesEqual(newValue, t.Value) && !valuesEqual(oldValue, t.Value)
	case OpChangesFrom:
		return valuesEqual(oldValue, t.Value) && !valuesEqual(newValue, t.Value)
	case OpGreaterThan:
		newNum, okNew := toFloat(newValue)
		threshold, okVal := toFloat(t.Value)
		return okNew && okVal && newNum > threshold
	case OpLessThan:
		newNum, okNew := toFloat(newValue)
		threshold, okVal := toFloat(t.Value)
		return okNew && okVal && newNum < threshold
	case OpChanges:
		return !valuesEqual(oldValue, newValue)
	default:
		// Unknown operators never match
		return false
	}
}

// valuesEqual compares by value, not reference. JSON round-trips turn
// numbers into float64, so numeric values compare numerically.
func valuesEqual(a, b interface{}) bool {
	if aNum, okA := toFloat(a); okA {
		if bNum, okB := toFloat(b); okB {
			return aNum == bNum
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
