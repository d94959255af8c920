package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive for the test
	db.SetMaxOpenConns(1)

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "000001_init_schema.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func makeDevice(id, address string) *models.Device {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Device{
		ID:           id,
		Address:      sql.NullString{String: address, Valid: address != ""},
		Name:         "Living Room Lamp",
		Type:         "light",
		Protocol:     "mqtt",
		Room:         "living room",
		State:        json.RawMessage(`{"on":true,"brightness":80}`),
		Capabilities: json.RawMessage(`["on_off","dimming"]`),
		Metadata:     json.RawMessage(`{}`),
		Online:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDeviceCreateAndGet(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	device := makeDevice("dev-1", "lamp-01")
	require.NoError(t, repo.Create(ctx, device))

	got, err := repo.GetByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Living Room Lamp", got.Name)
	assert.Equal(t, "mqtt", got.Protocol)
	assert.JSONEq(t, `{"on":true,"brightness":80}`, string(got.State))
	assert.True(t, got.Online)
	assert.False(t, got.LastSeen.Valid)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeviceCreateDuplicateAddress(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeDevice("dev-1", "lamp-01")))

	err := repo.Create(ctx, makeDevice("dev-2", "lamp-01"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStorage))
}

func TestDeviceUpdate(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	device := makeDevice("dev-1", "lamp-01")
	require.NoError(t, repo.Create(ctx, device))

	device.Name = "Bedroom Lamp"
	device.Room = "bedroom"
	device.State = json.RawMessage(`{"on":false}`)
	device.Online = false
	seen := time.Now().UTC().Truncate(time.Second)
	device.LastSeen = sql.NullTime{Time: seen, Valid: true}
	require.NoError(t, repo.Update(ctx, device))

	got, err := repo.GetByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "Bedroom Lamp", got.Name)
	assert.Equal(t, "bedroom", got.Room)
	assert.JSONEq(t, `{"on":false}`, string(got.State))
	assert.False(t, got.Online)
	require.True(t, got.LastSeen.Valid)
	assert.WithinDuration(t, seen, got.LastSeen.Time, time.Second)

	missing := makeDevice("ghost", "")
	assert.True(t, errors.IsNotFound(repo.Update(ctx, missing)))
}

func TestDeviceGetAll(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	first := makeDevice("dev-1", "lamp-01")
	second := makeDevice("dev-2", "lamp-02")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "dev-1", all[0].ID)
	assert.Equal(t, "dev-2", all[1].ID)
}

func TestDeviceHistoryWindow(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeDevice("dev-1", "lamp-01")))

	for i := 1; i <= 5; i++ {
		entry := &models.DeviceHistoryEntry{
			DeviceID:    "dev-1",
			State:       json.RawMessage(fmt.Sprintf(`{"brightness":%d}`, i*10)),
			TriggeredBy: sql.NullString{String: "user:test", Valid: true},
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, repo.AppendHistory(ctx, entry))
	}

	// The last N snapshots, returned oldest first
	entries, err := repo.GetHistory(ctx, "dev-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.JSONEq(t, `{"brightness":30}`, string(entries[0].State))
	assert.JSONEq(t, `{"brightness":50}`, string(entries[2].State))

	entries, err = repo.GetHistory(ctx, "no-history", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeviceDeleteCascadesHistory(t *testing.T) {
	db := testDB(t)
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeDevice("dev-1", "lamp-01")))
	require.NoError(t, repo.AppendHistory(ctx, &models.DeviceHistoryEntry{
		DeviceID:  "dev-1",
		State:     json.RawMessage(`{"on":true}`),
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, repo.Delete(ctx, "dev-1"))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM device_history WHERE device_id = ?`, "dev-1"))
	assert.Zero(t, count)

	assert.True(t, errors.IsNotFound(repo.Delete(ctx, "dev-1")))
}

func TestDeleteHistoryBefore(t *testing.T) {
	repo := NewDeviceRepository(testDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, makeDevice("dev-1", "lamp-01")))

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	for _, ts := range []time.Time{old, old.Add(time.Hour), recent} {
		require.NoError(t, repo.AppendHistory(ctx, &models.DeviceHistoryEntry{
			DeviceID:  "dev-1",
			State:     json.RawMessage(`{}`),
			CreatedAt: ts,
		}))
	}

	removed, err := repo.DeleteHistoryBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	entries, err := repo.GetHistory(ctx, "dev-1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
