package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/havenhub/haven-backend-go/internal/core/automation"
)

func TestExportedAutomationYAMLShape(t *testing.T) {
	doc := exportedAutomation{
		Name:    "Evening Lights",
		Enabled: true,
		Trigger: automation.TriggerSpec{
			Type:  automation.TriggerState,
			State: &automation.StateTrigger{DeviceID: "dev-1", Property: "on", Operator: "changes_to", Value: true},
		},
		Conditions: []automation.ConditionSpec{{
			Type:      automation.ConditionTimeOfDay,
			TimeOfDay: &automation.TimeOfDayCondition{After: "18:00", Before: "23:00"},
		}},
		Actions: []automation.ActionSpec{{
			Type:          automation.ActionDeviceControl,
			DeviceControl: &automation.DeviceControlAction{DeviceID: "dev-1", Command: "turn_on"},
		}},
	}

	data, err := yaml.Marshal(doc)
	require.NoError(t, err)

	// Exported documents use the same snake_case field names as the JSON API
	text := string(data)
	assert.Contains(t, text, "device_id: dev-1")
	assert.Contains(t, text, "device_control:")
	assert.Contains(t, text, "time_of_day:")
	assert.NotContains(t, text, "deviceid")
	assert.NotContains(t, text, "devicecontrol")
	assert.NotContains(t, text, "timeofday")

	var decoded exportedAutomation
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Trigger.State)
	assert.Equal(t, "dev-1", decoded.Trigger.State.DeviceID)
	require.Len(t, decoded.Conditions, 1)
	require.NotNil(t, decoded.Conditions[0].TimeOfDay)
	require.Len(t, decoded.Actions, 1)
	require.NotNil(t, decoded.Actions[0].DeviceControl)
	assert.Equal(t, "turn_on", decoded.Actions[0].DeviceControl.Command)
}
