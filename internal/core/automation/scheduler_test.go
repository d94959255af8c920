package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerArmDisarm(t *testing.T) {
	scheduler := NewScheduler("UTC", func(string, Event) {}, testLogger())
	scheduler.Start()
	defer scheduler.Stop()

	require.NoError(t, scheduler.Arm("a-1", &TimeTrigger{At: "07:00"}))
	assert.True(t, scheduler.Armed("a-1"))
	assert.False(t, scheduler.NextRun("a-1").IsZero())

	scheduler.Disarm("a-1")
	assert.False(t, scheduler.Armed("a-1"))
	assert.True(t, scheduler.NextRun("a-1").IsZero())

	// Disarming an unknown id is a no-op
	scheduler.Disarm("ghost")
}

func TestSchedulerRearmReplacesEntry(t *testing.T) {
	scheduler := NewScheduler("UTC", func(string, Event) {}, testLogger())
	scheduler.Start()
	defer scheduler.Stop()

	require.NoError(t, scheduler.Arm("a-1", &TimeTrigger{Cron: "0 7 * * *"}))
	first := scheduler.NextRun("a-1")

	// Re-arming with a new schedule leaves exactly one live entry
	require.NoError(t, scheduler.Arm("a-1", &TimeTrigger{Cron: "30 9 * * *"}))
	second := scheduler.NextRun("a-1")

	assert.NotEqual(t, first, second)

	scheduler.mu.Lock()
	entryCount := len(scheduler.entries)
	cronCount := len(scheduler.cron.Entries())
	scheduler.mu.Unlock()
	assert.Equal(t, 1, entryCount)
	assert.Equal(t, 1, cronCount)
}

func TestSchedulerRejectsInvalidTrigger(t *testing.T) {
	scheduler := NewScheduler("UTC", func(string, Event) {}, testLogger())

	assert.Error(t, scheduler.Arm("a-1", &TimeTrigger{Cron: "bogus"}))
	assert.False(t, scheduler.Armed("a-1"))
}

func TestSchedulerInvalidTimezoneFallsBackToUTC(t *testing.T) {
	scheduler := NewScheduler("Mars/Olympus", func(string, Event) {}, testLogger())
	assert.Equal(t, time.UTC, scheduler.timezone)
}
