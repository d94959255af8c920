package repositories

import (
	"context"
	"time"

	"github.com/havenhub/haven-backend-go/internal/database/models"
)

// DeviceRepository defines device data access methods
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id string) (*models.Device, error)
	GetAll(ctx context.Context) ([]*models.Device, error)
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, id string) error

	AppendHistory(ctx context.Context, entry *models.DeviceHistoryEntry) error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]*models.DeviceHistoryEntry, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AutomationRepository defines automation data access methods
type AutomationRepository interface {
	Create(ctx context.Context, automation *models.Automation) error
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	GetAll(ctx context.Context) ([]*models.Automation, error)
	Update(ctx context.Context, automation *models.Automation) error
	Delete(ctx context.Context, id string) error
	UpdateRunStats(ctx context.Context, id string, lastTriggered time.Time, triggerCount int64) error

	AppendLog(ctx context.Context, entry *models.AutomationLogEntry) error
	GetLogs(ctx context.Context, automationID string, limit int) ([]*models.AutomationLogEntry, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
