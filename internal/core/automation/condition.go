package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// ConditionType discriminates the condition variants
type ConditionType string

const (
	ConditionDeviceState ConditionType = "device_state"
	ConditionTimeOfDay   ConditionType = "time_of_day"
	ConditionDayOfWeek   ConditionType = "day_of_week"
)

// DeviceStateCondition compares a property of a device's current state
type DeviceStateCondition struct {
	DeviceID string      `json:"device_id" yaml:"device_id"`
	Property string      `json:"property" yaml:"property"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// TimeOfDayCondition holds between two clock times, inclusive on both ends,
// minute resolution. Ranges wrapping midnight are not supported.
type TimeOfDayCondition struct {
	After  string `json:"after" yaml:"after"`   // "HH:MM"
	Before string `json:"before" yaml:"before"` // "HH:MM"
}

// DayOfWeekCondition holds on the listed days
type DayOfWeekCondition struct {
	Days []string `json:"days" yaml:"days"`
}

// ConditionSpec is the tagged condition variant. Unknown types are kept as-is
// and evaluate vacuously true.
type ConditionSpec struct {
	Type        ConditionType         `json:"type" yaml:"type"`
	DeviceState *DeviceStateCondition `json:"device_state,omitempty" yaml:"device_state,omitempty"`
	TimeOfDay   *TimeOfDayCondition   `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	DayOfWeek   *DayOfWeekCondition   `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
}

// UnmarshalJSON accepts both the enveloped form ({"type":"time_of_day",
// "time_of_day":{...}}) and the flat form ({"type":"time_of_day",
// "after":"08:00",...}) produced by API clients and the AI collaborator.
func (c *ConditionSpec) UnmarshalJSON(data []byte) error {
	type envelope ConditionSpec
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*c = ConditionSpec(env)

	switch c.Type {
	case ConditionDeviceState:
		if c.DeviceState == nil {
			var flat DeviceStateCondition
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			c.DeviceState = &flat
		}
	case ConditionTimeOfDay:
		if c.TimeOfDay == nil {
			var flat TimeOfDayCondition
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			c.TimeOfDay = &flat
		}
	case ConditionDayOfWeek:
		if c.DayOfWeek == nil {
			var flat DayOfWeekCondition
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			c.DayOfWeek = &flat
		}
	}
	return nil
}

// Validate checks the condition payload shape for known types
func (c *ConditionSpec) Validate() error {
	switch c.Type {
	case ConditionDeviceState:
		if c.DeviceState == nil || c.DeviceState.DeviceID == "" || c.DeviceState.Property == "" || c.DeviceState.Operator == "" {
			return errors.NewValidation("device_state condition requires device_id, property and operator")
		}
		switch c.DeviceState.Operator {
		case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan:
		default:
			return errors.NewValidation(fmt.Sprintf("unsupported device_state operator: %s", c.DeviceState.Operator))
		}
	case ConditionTimeOfDay:
		if c.TimeOfDay == nil {
			return errors.NewValidation("time_of_day condition requires after and before")
		}
		after, err1 := parseClock(c.TimeOfDay.After)
		before, err2 := parseClock(c.TimeOfDay.Before)
		if err1 != nil || err2 != nil {
			return errors.NewValidation("time_of_day condition times must be HH:MM")
		}
		if after > before {
			return errors.NewValidation("time_of_day range must not wrap midnight")
		}
	case ConditionDayOfWeek:
		if c.DayOfWeek == nil || len(c.DayOfWeek.Days) == 0 {
			return errors.NewValidation("day_of_week condition requires at least one day")
		}
		for _, day := range c.DayOfWeek.Days {
			if len(day) < 3 {
				return errors.NewValidation(fmt.Sprintf("invalid day: %s", day))
			}
			if _, ok := dayNames[strings.ToLower(day)[:3]]; !ok {
				return errors.NewValidation(fmt.Sprintf("invalid day: %s", day))
			}
		}
	}
	// Unknown condition types are lenient: validated nowhere, vacuously true
	return nil
}

// DeviceStates provides read access to current device state for condition
// evaluation.
type DeviceStates interface {
	StateOf(deviceID string) (map[string]interface{}, error)
}

// Evaluate reports whether the condition holds at now. Unknown condition
// types hold vacuously; the caller logs the fact.
func (c *ConditionSpec) Evaluate(states DeviceStates, now time.Time) (bool, error) {
	switch c.Type {
	case ConditionDeviceState:
		state, err := states.StateOf(c.DeviceState.DeviceID)
		if err != nil {
			return false, err
		}
		current := state[c.DeviceState.Property]
		switch c.DeviceState.Operator {
		case OpEquals:
			return valuesEqual(current, c.DeviceState.Value), nil
		case OpNotEquals:
			return !valuesEqual(current, c.DeviceState.Value), nil
		case OpGreaterThan:
			num, okNum := toFloat(current)
			threshold, okVal := toFloat(c.DeviceState.Value)
			return okNum && okVal && num > threshold, nil
		case OpLessThan:
			num, okNum := toFloat(current)
			threshold, okVal := toFloat(c.DeviceState.Value)
			return okNum && okVal && num < threshold, nil
		default:
			return false, nil
		}

	case ConditionTimeOfDay:
		after, _ := parseClock(c.TimeOfDay.After)
		before, _ := parseClock(c.TimeOfDay.Before)
		minute := now.Hour()*60 + now.Minute()
		return minute >= after && minute <= before, nil

	case ConditionDayOfWeek:
		today := strings.ToLower(now.Weekday().String())[:3]
		for _, day := range c.DayOfWeek.Days {
			if strings.ToLower(day)[:3] == today {
				return true, nil
			}
		}
		return false, nil

	default:
		return true, nil
	}
}

// parseClock converts "HH:MM" to minutes since midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
