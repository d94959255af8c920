package automation

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// FireFunc is invoked when a scheduled timer fires
type FireFunc func(automationID string, event Event)

// Scheduler maintains exactly one live cron entry per enabled time-based
// automation, keyed by automation id.
type Scheduler struct {
	cron     *cron.Cron
	entries  map[string]cron.EntryID
	timezone *time.Location
	fire     FireFunc
	logger   *logrus.Logger
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a scheduler in the given timezone
func NewScheduler(timezone string, fire FireFunc, logger *logrus.Logger) *Scheduler {
	location := time.UTC
	if timezone != "" {
		if tz, err := time.LoadLocation(timezone); err != nil {
			logger.WithError(err).Warnf("Invalid timezone %s, using UTC", timezone)
		} else {
			location = tz
		}
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(location)),
		entries:  make(map[string]cron.EntryID),
		timezone: location,
		fire:     fire,
		logger:   logger,
	}
}

// Start starts the underlying cron runner
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Trigger scheduler started")
}

// Stop stops the cron runner and waits briefly for in-flight jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("Timeout waiting for scheduled jobs to finish")
	}
	s.running = false
	s.logger.Info("Trigger scheduler stopped")
}

// Arm schedules the automation's time trigger, cancelling any prior entry
// first so duplicate timers for one id can never coexist. The timer recurs
// per schedule until Disarm.
func (s *Scheduler) Arm(automationID string, trigger *TimeTrigger) error {
	expr, err := trigger.CronExpression()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, exists := s.entries[automationID]; exists {
		s.cron.Remove(prior)
		delete(s.entries, automationID)
	}

	id := automationID
	entryID, err := s.cron.AddFunc(expr, func() {
		s.fire(id, Event{Type: "time", Timestamp: time.Now().In(s.timezone)})
	})
	if err != nil {
		return err
	}

	s.entries[automationID] = entryID
	s.logger.WithFields(logrus.Fields{
		"automation_id": automationID,
		"cron_expr":     expr,
	}).Info("Automation timer armed")

	return nil
}

// Disarm cancels the automation's timer if one exists
func (s *Scheduler) Disarm(automationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.entries[automationID]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, automationID)
		s.logger.WithField("automation_id", automationID).Debug("Automation timer disarmed")
	}
}

// Armed reports whether the automation currently has a live timer
func (s *Scheduler) Armed(automationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.entries[automationID]
	return exists
}

// NextRun returns the next scheduled firing time, or zero if unarmed
func (s *Scheduler) NextRun(automationID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, exists := s.entries[automationID]
	if !exists {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}
