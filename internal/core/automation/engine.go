package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/internal/database/repositories"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// Outcomes recorded per run
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var errConditionsNotMet = stderrors.New("conditions not met")

// DeviceService is what the engine needs from the device registry: state
// reads for conditions and command/state writes for actions.
type DeviceService interface {
	DeviceController
	DeviceStates
}

// Generator produces an automation definition from natural language. The AI
// collaborator satisfies this.
type Generator interface {
	GenerateAutomation(ctx context.Context, prompt string) (*Definition, error)
}

// Config contains engine configuration
type Config struct {
	Timezone         string
	ExecutionTimeout time.Duration
	EventBufferSize  int
}

// Statistics summarizes engine activity
type Statistics struct {
	TotalAutomations int   `json:"total_automations"`
	Enabled          int   `json:"enabled"`
	TotalRuns        int64 `json:"total_runs"`
	SuccessfulRuns   int64 `json:"successful_runs"`
	FailedRuns       int64 `json:"failed_runs"`
	SkippedRuns      int64 `json:"skipped_runs"`
	DroppedTriggers  int64 `json:"dropped_triggers"`
}

// Engine holds the automation set, matches events to triggers, evaluates
// conditions, executes actions and journals outcomes. Trigger is the sole
// entry point for firing an automation; the Running-Set guarantees at most
// one concurrent run per automation id.
type Engine struct {
	automations map[string]*Automation
	scheduler   *Scheduler

	repo      repositories.AutomationRepository
	events    *bus.Bus
	devices   DeviceService
	generator Generator
	logger    *logrus.Logger

	mu    sync.RWMutex
	runMu sync.Mutex
	running map[string]bool // the Running-Set

	location    *time.Location
	execTimeout time.Duration
	bufferSize  int
	sub         *bus.Subscription

	statsMu sync.Mutex
	stats   Statistics
}

// NewEngine creates a new automation engine
func NewEngine(cfg Config, repo repositories.AutomationRepository, events *bus.Bus, devices DeviceService, generator Generator, logger *logrus.Logger) *Engine {
	timeout := cfg.ExecutionTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	buffer := cfg.EventBufferSize
	if buffer <= 0 {
		buffer = 256
	}

	engine := &Engine{
		automations: make(map[string]*Automation),
		running:     make(map[string]bool),
		repo:        repo,
		events:      events,
		devices:     devices,
		generator:   generator,
		logger:      logger,
		execTimeout: timeout,
		bufferSize:  buffer,
	}
	engine.scheduler = NewScheduler(cfg.Timezone, engine.fireTimer, logger)
	engine.location = engine.scheduler.timezone

	return engine
}

// Start loads persisted automations, arms timers for enabled time triggers
// and begins consuming registry state-change events.
func (e *Engine) Start(ctx context.Context) error {
	rows, err := e.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, row := range rows {
		automation, err := automationFromModel(row)
		if err != nil {
			e.logger.WithError(err).WithField("automation_id", row.ID).Warn("Skipping unloadable automation")
			continue
		}
		e.automations[automation.ID] = automation
	}
	loaded := len(e.automations)
	e.mu.Unlock()

	e.mu.RLock()
	for _, automation := range e.automations {
		if automation.Enabled && automation.Trigger.Type == TriggerTime {
			if err := e.scheduler.Arm(automation.ID, automation.Trigger.Time); err != nil {
				e.logger.WithError(err).WithField("automation_id", automation.ID).Warn("Failed to arm timer")
			}
		}
	}
	e.mu.RUnlock()

	e.scheduler.Start()

	e.sub = e.events.Subscribe("automation-engine", e.bufferSize, bus.DeviceStateChanged)
	go e.consumeEvents()

	e.logger.WithField("automations", loaded).Info("Automation engine started")
	return nil
}

// Stop stops the scheduler and the event consumer
func (e *Engine) Stop() {
	e.scheduler.Stop()
	if e.sub != nil {
		e.events.Unsubscribe(e.sub)
	}
	e.logger.Info("Automation engine stopped")
}

// Create validates, persists and loads a new automation, arming its timer
// when the trigger is time-based.
func (e *Engine) Create(ctx context.Context, def Definition) (*Automation, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	automation := &Automation{
		ID:          uuid.New().String(),
		Name:        def.Name,
		Description: def.Description,
		Enabled:     enabled,
		Trigger:     def.Trigger,
		Conditions:  append([]ConditionSpec{}, def.Conditions...),
		Actions:     append([]ActionSpec{}, def.Actions...),
		CreatedBy:   def.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	model, err := automation.toModel()
	if err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, model); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.automations[automation.ID] = automation
	e.mu.Unlock()

	if automation.Enabled && automation.Trigger.Type == TriggerTime {
		if err := e.scheduler.Arm(automation.ID, automation.Trigger.Time); err != nil {
			e.mu.Lock()
			delete(e.automations, automation.ID)
			e.mu.Unlock()
			if delErr := e.repo.Delete(ctx, automation.ID); delErr != nil {
				e.logger.WithError(delErr).WithField("automation_id", automation.ID).Warn("Failed to roll back automation after arm failure")
			}
			return nil, err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"automation_id": automation.ID,
		"name":          automation.Name,
		"trigger_type":  automation.Trigger.Type,
	}).Info("Automation created")

	e.events.Publish(bus.AutomationCreated, bus.AutomationPayload{
		AutomationID: automation.ID,
		Name:         automation.Name,
	})

	return automation.Clone(), nil
}

// CreateFromNaturalLanguage asks the AI collaborator for a structured
// definition and creates it. Unusable AI output fails before anything is
// persisted: no partial automation is ever created.
func (e *Engine) CreateFromNaturalLanguage(ctx context.Context, prompt, userID string) (*Automation, error) {
	if e.generator == nil {
		return nil, errors.NewGeneration("no AI collaborator configured", nil)
	}

	def, err := e.generator.GenerateAutomation(ctx, prompt)
	if err != nil {
		return nil, err
	}
	def.CreatedBy = userID

	automation, err := e.Create(ctx, *def)
	if err != nil {
		return nil, err
	}

	// Record provenance on the loaded copy and persist it, so the AI origin
	// survives a restart.
	e.mu.Lock()
	live, exists := e.automations[automation.ID]
	if exists {
		live.AIGenerated = true
		live.AIPrompt = prompt
		automation = live.Clone()
	}
	e.mu.Unlock()

	if exists {
		model, err := automation.toModel()
		if err == nil {
			err = e.repo.Update(ctx, model)
		}
		if err != nil {
			e.logger.WithError(err).WithField("automation_id", automation.ID).Warn("Failed to persist AI provenance")
		}
	}

	return automation, nil
}

// Update merges the patch, persists the result and re-derives the timer
// when the trigger configuration changed.
func (e *Engine) Update(ctx context.Context, id string, patch Patch) (*Automation, error) {
	e.mu.RLock()
	existing, exists := e.automations[id]
	e.mu.RUnlock()
	if !exists {
		return nil, errors.NewNotFound("automation", id)
	}

	updated := existing.Clone()
	triggerChanged := false

	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Trigger != nil {
		updated.Trigger = *patch.Trigger
		triggerChanged = true
	}
	if patch.Conditions != nil {
		updated.Conditions = append([]ConditionSpec{}, (*patch.Conditions)...)
	}
	if patch.Actions != nil {
		updated.Actions = append([]ActionSpec{}, (*patch.Actions)...)
	}
	if patch.Enabled != nil && *patch.Enabled != updated.Enabled {
		updated.Enabled = *patch.Enabled
		triggerChanged = true
	}
	updated.UpdatedAt = time.Now().UTC()

	def := Definition{
		Name:       updated.Name,
		Trigger:    updated.Trigger,
		Conditions: updated.Conditions,
		Actions:    updated.Actions,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	model, err := updated.toModel()
	if err != nil {
		return nil, err
	}
	if err := e.repo.Update(ctx, model); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.automations[id] = updated
	e.mu.Unlock()

	if triggerChanged {
		// Always cancel the prior timer before arming a new one
		e.scheduler.Disarm(id)
		if updated.Enabled && updated.Trigger.Type == TriggerTime {
			if err := e.scheduler.Arm(id, updated.Trigger.Time); err != nil {
				return nil, err
			}
		}
	}

	e.events.Publish(bus.AutomationUpdated, bus.AutomationPayload{AutomationID: id, Name: updated.Name})

	return updated.Clone(), nil
}

// Delete cancels any timer and removes the automation from memory and
// storage. Its execution log cascades away with it.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.RLock()
	_, exists := e.automations[id]
	e.mu.RUnlock()
	if !exists {
		return errors.NewNotFound("automation", id)
	}

	e.scheduler.Disarm(id)

	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.automations, id)
	e.mu.Unlock()

	e.logger.WithField("automation_id", id).Info("Automation deleted")
	e.events.Publish(bus.AutomationDeleted, bus.AutomationPayload{AutomationID: id})

	return nil
}

// SetEnabled enables or disables an automation, arming or cancelling its
// timer accordingly.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) (*Automation, error) {
	return e.Update(ctx, id, Patch{Enabled: &enabled})
}

// Get retrieves an automation by id
func (e *Engine) Get(id string) (*Automation, error) {
	e.mu.RLock()
	automation, exists := e.automations[id]
	e.mu.RUnlock()
	if !exists {
		return nil, errors.NewNotFound("automation", id)
	}
	return automation.Clone(), nil
}

// List returns copies of all automations
func (e *Engine) List() []*Automation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	automations := make([]*Automation, 0, len(e.automations))
	for _, automation := range e.automations {
		automations = append(automations, automation.Clone())
	}
	return automations
}

// GetLogs returns the execution log for an automation, newest first. No
// rows means an empty slice, not an error.
func (e *Engine) GetLogs(ctx context.Context, id string, limit int) ([]*models.AutomationLogEntry, error) {
	return e.repo.GetLogs(ctx, id, limit)
}

// Statistics returns engine activity counters
func (e *Engine) Statistics() Statistics {
	e.statsMu.Lock()
	stats := e.stats
	e.statsMu.Unlock()

	e.mu.RLock()
	stats.TotalAutomations = len(e.automations)
	for _, automation := range e.automations {
		if automation.Enabled {
			stats.Enabled++
		}
	}
	e.mu.RUnlock()

	return stats
}

// Trigger fires an automation. It is the sole entry point for execution,
// reachable from the scheduler, the state-change subscription, or a manual
// call. Unknown or disabled ids are a silent no-op; a trigger arriving while
// the same automation is running is dropped, not queued. Errors never escape:
// they become logged "error" outcomes.
func (e *Engine) Trigger(id string, event Event) {
	e.mu.RLock()
	automation, exists := e.automations[id]
	var run *Automation
	if exists && automation.Enabled {
		run = automation.Clone()
	}
	e.mu.RUnlock()

	if run == nil {
		e.logger.WithField("automation_id", id).Debug("Trigger for unknown or disabled automation ignored")
		return
	}

	// Running-Set acquire: at most one concurrent run per automation
	e.runMu.Lock()
	if e.running[id] {
		e.runMu.Unlock()
		e.statsMu.Lock()
		e.stats.DroppedTriggers++
		e.statsMu.Unlock()
		e.logger.WithField("automation_id", id).Info("Automation already running, trigger dropped")
		return
	}
	e.running[id] = true
	e.runMu.Unlock()

	defer func() {
		e.runMu.Lock()
		delete(e.running, id)
		e.runMu.Unlock()
	}()

	e.execute(run, event)
}

// fireTimer adapts scheduler callbacks to Trigger
func (e *Engine) fireTimer(automationID string, event Event) {
	e.Trigger(automationID, event)
}

// consumeEvents drains registry state changes and dispatches matching
// state-trigger automations. Events arrive in registry publish order;
// each matched automation runs in its own goroutine.
func (e *Engine) consumeEvents() {
	for event := range e.sub.C {
		payload, ok := event.Payload.(bus.StateChangePayload)
		if !ok {
			continue
		}
		e.dispatchStateChange(payload)
	}
}

func (e *Engine) dispatchStateChange(payload bus.StateChangePayload) {
	e.mu.RLock()
	var matched []string
	for id, automation := range e.automations {
		if !automation.Enabled || automation.Trigger.Type != TriggerState {
			continue
		}
		trigger := automation.Trigger.State
		if trigger.DeviceID != payload.DeviceID {
			continue
		}
		if trigger.Matches(payload.OldState, payload.NewState) {
			matched = append(matched, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range matched {
		go e.Trigger(id, Event{
			Type:      "state",
			DeviceID:  payload.DeviceID,
			OldState:  payload.OldState,
			NewState:  payload.NewState,
			Timestamp: time.Now().UTC(),
		})
	}
}

// execute runs one automation to completion and journals the outcome. Action
// failures are partial-failure data; only failures outside action execution
// (condition evaluation, storage) mark the run as an error.
func (e *Engine) execute(automation *Automation, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.execTimeout)
	defer cancel()

	e.statsMu.Lock()
	e.stats.TotalRuns++
	e.statsMu.Unlock()

	e.events.Publish(bus.AutomationTriggered, bus.AutomationPayload{
		AutomationID: automation.ID,
		Name:         automation.Name,
	})

	results, runErr := e.runBody(ctx, automation, event)

	if stderrors.Is(runErr, errConditionsNotMet) {
		e.statsMu.Lock()
		e.stats.SkippedRuns++
		e.statsMu.Unlock()
		e.logger.WithField("automation_id", automation.ID).Debug("Automation conditions not met")
		return
	}

	outcome := OutcomeSuccess
	errText := ""
	if runErr != nil {
		outcome = OutcomeError
		errText = runErr.Error()
		e.statsMu.Lock()
		e.stats.FailedRuns++
		e.statsMu.Unlock()
		e.logger.WithError(runErr).WithField("automation_id", automation.ID).Error("Automation run failed")
	} else {
		e.statsMu.Lock()
		e.stats.SuccessfulRuns++
		e.statsMu.Unlock()
	}

	now := time.Now().UTC()
	if outcome == OutcomeSuccess {
		// The counter is the user-visible statistic: persist it before the
		// log entry so the two stay consistent across a crash in between.
		e.mu.Lock()
		if live, exists := e.automations[automation.ID]; exists {
			live.TriggerCount++
			live.LastTriggered = &now
			automation.TriggerCount = live.TriggerCount
		} else {
			automation.TriggerCount++
		}
		e.mu.Unlock()

		if err := e.repo.UpdateRunStats(ctx, automation.ID, now, automation.TriggerCount); err != nil {
			e.logger.WithError(err).WithField("automation_id", automation.ID).Warn("Failed to persist run stats")
		}
	}

	e.appendLog(ctx, automation.ID, outcome, event, results, errText, now)

	e.events.Publish(bus.AutomationCompleted, bus.AutomationPayload{
		AutomationID: automation.ID,
		Name:         automation.Name,
		Outcome:      outcome,
		Detail:       results,
	})
}

// runBody evaluates conditions and executes actions. A panic anywhere inside
// is converted to an error so nothing escapes the trigger boundary.
func (e *Engine) runBody(ctx context.Context, automation *Automation, event Event) (results []ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("automation panicked: %v", r)
		}
	}()

	now := time.Now().In(e.location)

	// All conditions must hold; evaluation short-circuits on the first miss
	for i := range automation.Conditions {
		condition := &automation.Conditions[i]
		switch condition.Type {
		case ConditionDeviceState, ConditionTimeOfDay, ConditionDayOfWeek:
		default:
			e.logger.WithFields(logrus.Fields{
				"automation_id":  automation.ID,
				"condition_type": condition.Type,
			}).Warn("Unknown condition type treated as true")
		}

		ok, evalErr := condition.Evaluate(e.devices, now)
		if evalErr != nil {
			return nil, fmt.Errorf("condition %d: %w", i, evalErr)
		}
		if !ok {
			return nil, errConditionsNotMet
		}
	}

	// Actions run sequentially; one failing does not abort the rest
	actor := "automation:" + automation.ID
	results = make([]ActionResult, 0, len(automation.Actions))
	for i := range automation.Actions {
		action := &automation.Actions[i]
		start := time.Now()

		execErr := e.executeAction(ctx, action, actor)

		result := ActionResult{
			Index:    i,
			Type:     string(action.Type),
			Success:  execErr == nil,
			Duration: time.Since(start).Milliseconds(),
		}
		if execErr != nil {
			result.Error = execErr.Error()
			e.logger.WithError(execErr).WithFields(logrus.Fields{
				"automation_id": automation.ID,
				"action_index":  i,
				"action_type":   action.Type,
			}).Warn("Automation action failed")
		}
		results = append(results, result)
	}

	return results, nil
}

// executeAction shields the run from a panicking action implementation
func (e *Engine) executeAction(ctx context.Context, action *ActionSpec, actor string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action.execute(ctx, e.devices, e.events, actor)
}

func (e *Engine) appendLog(ctx context.Context, automationID, outcome string, event Event, results []ActionResult, errText string, now time.Time) {
	eventJSON, _ := json.Marshal(event)
	resultsJSON, _ := json.Marshal(results)
	if results == nil {
		resultsJSON = []byte("[]")
	}

	entry := &models.AutomationLogEntry{
		AutomationID:  automationID,
		Outcome:       outcome,
		Event:         eventJSON,
		ActionResults: resultsJSON,
		CreatedAt:     now,
	}
	if errText != "" {
		entry.Error = sql.NullString{String: errText, Valid: true}
	}

	if err := e.repo.AppendLog(ctx, entry); err != nil {
		e.logger.WithError(err).WithField("automation_id", automationID).Warn("Failed to append execution log")
	}
}
