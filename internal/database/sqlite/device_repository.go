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

// DeviceRepository implements repositories.DeviceRepository
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sqlx.DB) repositories.DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create inserts a new device row
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, address, name, type, protocol, manufacturer, model, firmware,
			room, state, capabilities, metadata, online, created_at, updated_at, last_seen)
		VALUES (:id, :address, :name, :type, :protocol, :manufacturer, :model, :firmware,
			:room, :state, :capabilities, :metadata, :online, :created_at, :updated_at, :last_seen)
	`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return errors.NewStorage("create device", err)
	}
	return nil
}

// GetByID retrieves a device by id
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	device := &models.Device{}
	err := r.db.GetContext(ctx, device, `SELECT * FROM devices WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("device", id)
	}
	if err != nil {
		return nil, errors.NewStorage("get device", err)
	}
	return device, nil
}

// GetAll retrieves all device rows
func (r *DeviceRepository) GetAll(ctx context.Context) ([]*models.Device, error) {
	devices := []*models.Device{}
	if err := r.db.SelectContext(ctx, &devices, `SELECT * FROM devices ORDER BY created_at`); err != nil {
		return nil, errors.NewStorage("list devices", err)
	}
	return devices, nil
}

// Update rewrites a device row
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	query := `
		UPDATE devices SET address = :address, name = :name, type = :type, protocol = :protocol,
			manufacturer = :manufacturer, model = :model, firmware = :firmware, room = :room,
			state = :state, capabilities = :capabilities, metadata = :metadata, online = :online,
			updated_at = :updated_at, last_seen = :last_seen
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, device)
	if err != nil {
		return errors.NewStorage("update device", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NewNotFound("device", device.ID)
	}
	return nil
}

// Delete removes a device row. History rows cascade via foreign key.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return errors.NewStorage("delete device", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NewNotFound("device", id)
	}
	return nil
}

// AppendHistory appends an immutable history snapshot
func (r *DeviceRepository) AppendHistory(ctx context.Context, entry *models.DeviceHistoryEntry) error {
	query := `
		INSERT INTO device_history (device_id, state, triggered_by, created_at)
		VALUES (:device_id, :state, :triggered_by, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return errors.NewStorage("append device history", err)
	}
	return nil
}

// GetHistory returns history entries for a device, oldest first. A device with
// no history yields an empty slice, not an error.
func (r *DeviceRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]*models.DeviceHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	entries := []*models.DeviceHistoryEntry{}
	query := `
		SELECT * FROM (
			SELECT * FROM device_history WHERE device_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`
	if err := r.db.SelectContext(ctx, &entries, query, deviceID, limit); err != nil {
		return nil, errors.NewStorage("get device history", err)
	}
	return entries, nil
}

// DeleteHistoryBefore removes history entries older than cutoff
func (r *DeviceRepository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.NewStorage("cleanup device history", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
