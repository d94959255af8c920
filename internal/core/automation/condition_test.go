package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhub/haven-backend-go/pkg/errors"
)

type stubStates map[string]map[string]interface{}

func (s stubStates) StateOf(deviceID string) (map[string]interface{}, error) {
	state, ok := s[deviceID]
	if !ok {
		return nil, errors.NewNotFound("device", deviceID)
	}
	return state, nil
}

// clockAt builds a time on a known date. 2026-03-02 is a Monday.
func clockAt(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestTimeOfDayCondition(t *testing.T) {
	condition := ConditionSpec{
		Type:      ConditionTimeOfDay,
		TimeOfDay: &TimeOfDayCondition{After: "08:00", Before: "22:00"},
	}
	require.NoError(t, condition.Validate())

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"inside range", clockAt(12, 30), true},
		{"lower bound inclusive", clockAt(8, 0), true},
		{"upper bound inclusive", clockAt(22, 0), true},
		{"before range", clockAt(7, 59), false},
		{"after range", clockAt(22, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := condition.Evaluate(stubStates{}, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDayValidation(t *testing.T) {
	t.Run("midnight wrap rejected", func(t *testing.T) {
		condition := ConditionSpec{
			Type:      ConditionTimeOfDay,
			TimeOfDay: &TimeOfDayCondition{After: "22:00", Before: "06:00"},
		}
		err := condition.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("malformed clock rejected", func(t *testing.T) {
		condition := ConditionSpec{
			Type:      ConditionTimeOfDay,
			TimeOfDay: &TimeOfDayCondition{After: "8am", Before: "22:00"},
		}
		assert.Error(t, condition.Validate())
	})
}

func TestDayOfWeekCondition(t *testing.T) {
	condition := ConditionSpec{
		Type:      ConditionDayOfWeek,
		DayOfWeek: &DayOfWeekCondition{Days: []string{"mon", "wednesday"}},
	}
	require.NoError(t, condition.Validate())

	monday := clockAt(12, 0)
	tuesday := monday.AddDate(0, 0, 1)
	wednesday := monday.AddDate(0, 0, 2)

	got, err := condition.Evaluate(stubStates{}, monday)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = condition.Evaluate(stubStates{}, tuesday)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = condition.Evaluate(stubStates{}, wednesday)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestDeviceStateCondition(t *testing.T) {
	states := stubStates{
		"sensor-1": {"temperature": 21.5, "mode": "home"},
	}

	tests := []struct {
		name      string
		condition DeviceStateCondition
		want      bool
		wantErr   bool
	}{
		{
			name:      "equals",
			condition: DeviceStateCondition{DeviceID: "sensor-1", Property: "mode", Operator: OpEquals, Value: "home"},
			want:      true,
		},
		{
			name:      "not_equals",
			condition: DeviceStateCondition{DeviceID: "sensor-1", Property: "mode", Operator: OpNotEquals, Value: "away"},
			want:      true,
		},
		{
			name:      "greater_than",
			condition: DeviceStateCondition{DeviceID: "sensor-1", Property: "temperature", Operator: OpGreaterThan, Value: 20},
			want:      true,
		},
		{
			name:      "less_than miss",
			condition: DeviceStateCondition{DeviceID: "sensor-1", Property: "temperature", Operator: OpLessThan, Value: 20},
			want:      false,
		},
		{
			name:      "missing property never greater",
			condition: DeviceStateCondition{DeviceID: "sensor-1", Property: "humidity", Operator: OpGreaterThan, Value: 0},
			want:      false,
		},
		{
			name:      "unknown device errors",
			condition: DeviceStateCondition{DeviceID: "ghost", Property: "on", Operator: OpEquals, Value: true},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := ConditionSpec{Type: ConditionDeviceState, DeviceState: &tt.condition}
			got, err := spec.Evaluate(states, clockAt(12, 0))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceStateConditionRejectsTransitionOperators(t *testing.T) {
	spec := ConditionSpec{
		Type:        ConditionDeviceState,
		DeviceState: &DeviceStateCondition{DeviceID: "d", Property: "on", Operator: OpChangesTo, Value: true},
	}
	err := spec.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestUnknownConditionTypeIsVacuouslyTrue(t *testing.T) {
	spec := ConditionSpec{Type: "lunar_phase"}
	require.NoError(t, spec.Validate())

	got, err := spec.Evaluate(stubStates{}, clockAt(12, 0))
	require.NoError(t, err)
	assert.True(t, got)
}
