package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// ActionType discriminates the action variants
type ActionType string

const (
	ActionDeviceControl ActionType = "device_control"
	ActionDelay         ActionType = "delay"
	ActionNotification  ActionType = "notification"
)

// DeviceControlAction issues a command to a device through the registry
type DeviceControlAction struct {
	DeviceID   string                 `json:"device_id" yaml:"device_id"`
	Command    string                 `json:"command" yaml:"command"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// DelayAction suspends this automation's run for a literal duration. Other
// automations keep executing.
type DelayAction struct {
	Duration string `json:"duration" yaml:"duration"` // Go duration string, e.g. "5s"
}

// NotificationAction emits a fire-and-forget notification on the bus
type NotificationAction struct {
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// ActionSpec is the tagged action variant
type ActionSpec struct {
	Type          ActionType           `json:"type" yaml:"type"`
	DeviceControl *DeviceControlAction `json:"device_control,omitempty" yaml:"device_control,omitempty"`
	Delay         *DelayAction         `json:"delay,omitempty" yaml:"delay,omitempty"`
	Notification  *NotificationAction  `json:"notification,omitempty" yaml:"notification,omitempty"`
}

// UnmarshalJSON accepts both the enveloped and the flat form
func (a *ActionSpec) UnmarshalJSON(data []byte) error {
	type envelope ActionSpec
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*a = ActionSpec(env)

	switch a.Type {
	case ActionDeviceControl:
		if a.DeviceControl == nil {
			var flat DeviceControlAction
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			a.DeviceControl = &flat
		}
	case ActionDelay:
		if a.Delay == nil {
			var flat DelayAction
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			a.Delay = &flat
		}
	case ActionNotification:
		if a.Notification == nil {
			var flat NotificationAction
			if err := json.Unmarshal(data, &flat); err != nil {
				return err
			}
			a.Notification = &flat
		}
	}
	return nil
}

// Validate checks the action payload shape
func (a *ActionSpec) Validate() error {
	switch a.Type {
	case ActionDeviceControl:
		if a.DeviceControl == nil || a.DeviceControl.DeviceID == "" || a.DeviceControl.Command == "" {
			return errors.NewValidation("device_control action requires device_id and command")
		}
	case ActionDelay:
		if a.Delay == nil {
			return errors.NewValidation("delay action requires a duration")
		}
		if _, err := time.ParseDuration(a.Delay.Duration); err != nil {
			return errors.NewValidation(fmt.Sprintf("invalid delay duration: %s", a.Delay.Duration))
		}
	case ActionNotification:
		if a.Notification == nil || a.Notification.Message == "" {
			return errors.NewValidation("notification action requires a message")
		}
	default:
		return errors.NewValidation(fmt.Sprintf("unknown action type: %s", a.Type))
	}
	return nil
}

// ActionResult records the outcome of one action within a run
type ActionResult struct {
	Index    int    `json:"index"`
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// DeviceController issues device commands and state changes on behalf of
// automation runs. The registry satisfies this.
type DeviceController interface {
	ControlDevice(id, command string, parameters map[string]interface{}) error
	UpdateState(ctx context.Context, id string, partialState map[string]interface{}, actor string) (map[string]interface{}, error)
}

// execute runs one action. Errors are returned for recording; the caller
// continues with the remaining actions regardless.
func (a *ActionSpec) execute(ctx context.Context, controller DeviceController, events *bus.Bus, actor string) error {
	switch a.Type {
	case ActionDeviceControl:
		cfg := a.DeviceControl
		if err := controller.ControlDevice(cfg.DeviceID, cfg.Command, cfg.Parameters); err != nil {
			return err
		}
		// Optimistic state apply so dependent automations and clients see
		// the commanded state without waiting for the adapter round-trip.
		if len(cfg.Parameters) > 0 {
			if _, err := controller.UpdateState(ctx, cfg.DeviceID, cfg.Parameters, actor); err != nil {
				return err
			}
		}
		return nil

	case ActionDelay:
		duration, _ := time.ParseDuration(a.Delay.Duration)
		select {
		case <-time.After(duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case ActionNotification:
		events.Publish(bus.Notification, bus.NotificationPayload{
			Title:   a.Notification.Title,
			Message: a.Notification.Message,
			Source:  actor,
		})
		return nil

	default:
		return errors.NewValidation(fmt.Sprintf("unknown action type: %s", a.Type))
	}
}
