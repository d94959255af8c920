package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/internal/database/repositories"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// AutomationRepository implements repositories.AutomationRepository
type AutomationRepository struct {
	db *sqlx.DB
}

// NewAutomationRepository creates a new AutomationRepository
func NewAutomationRepository(db *sqlx.DB) repositories.AutomationRepository {
	return &AutomationRepository{db: db}
}

// Create inserts a new automation row
func (r *AutomationRepository) Create(ctx context.Context, automation *models.Automation) error {
	query := `
		INSERT INTO automations (id, name, description, enabled, trigger_type, trigger_config,
			conditions, actions, created_by, ai_generated, ai_prompt, last_triggered,
			trigger_count, created_at, updated_at)
		VALUES (:id, :name, :description, :enabled, :trigger_type, :trigger_config,
			:conditions, :actions, :created_by, :ai_generated, :ai_prompt, :last_triggered,
			:trigger_count, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, automation); err != nil {
		return errors.NewStorage("create automation", err)
	}
	return nil
}

// GetByID retrieves an automation by id
func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	automation := &models.Automation{}
	err := r.db.GetContext(ctx, automation, `SELECT * FROM automations WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("automation", id)
	}
	if err != nil {
		return nil, errors.NewStorage("get automation", err)
	}
	return automation, nil
}

// GetAll retrieves all automation rows
func (r *AutomationRepository) GetAll(ctx context.Context) ([]*models.Automation, error) {
	automations := []*models.Automation{}
	if err := r.db.SelectContext(ctx, &automations, `SELECT * FROM automations ORDER BY created_at`); err != nil {
		return nil, errors.NewStorage("list automations", err)
	}
	return automations, nil
}

// Update rewrites an automation row
func (r *AutomationRepository) Update(ctx context.Context, automation *models.Automation) error {
	query := `
		UPDATE automations SET name = :name, description = :description, enabled = :enabled,
			trigger_type = :trigger_type, trigger_config = :trigger_config,
			conditions = :conditions, actions = :actions, ai_generated = :ai_generated,
			ai_prompt = :ai_prompt, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, automation)
	if err != nil {
		return errors.NewStorage("update automation", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NewNotFound("automation", automation.ID)
	}
	return nil
}

// Delete removes an automation row. Log rows cascade via foreign key.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return errors.NewStorage("delete automation", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NewNotFound("automation", id)
	}
	return nil
}

// UpdateRunStats persists the user-visible run counters. This write lands
// before the matching log entry so the counter stays consistent with history
// if the process dies between the two.
func (r *AutomationRepository) UpdateRunStats(ctx context.Context, id string, lastTriggered time.Time, triggerCount int64) error {
	query := `UPDATE automations SET last_triggered = ?, trigger_count = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, lastTriggered, triggerCount, id); err != nil {
		return errors.NewStorage("update automation run stats", err)
	}
	return nil
}

// AppendLog appends an immutable execution log entry
func (r *AutomationRepository) AppendLog(ctx context.Context, entry *models.AutomationLogEntry) error {
	query := `
		INSERT INTO automation_logs (automation_id, outcome, event, action_results, error, created_at)
		VALUES (:automation_id, :outcome, :event, :action_results, :error, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return errors.NewStorage("append automation log", err)
	}
	return nil
}

// GetLogs returns execution log entries, newest first. No rows yields an
// empty slice, not an error.
func (r *AutomationRepository) GetLogs(ctx context.Context, automationID string, limit int) ([]*models.AutomationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := []*models.AutomationLogEntry{}
	query := `SELECT * FROM automation_logs WHERE automation_id = ? ORDER BY id DESC LIMIT ?`
	if err := r.db.SelectContext(ctx, &entries, query, automationID, limit); err != nil {
		return nil, errors.NewStorage("get automation logs", err)
	}
	return entries, nil
}

// DeleteLogsBefore removes log entries older than cutoff
func (r *AutomationRepository) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automation_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.NewStorage("cleanup automation logs", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
