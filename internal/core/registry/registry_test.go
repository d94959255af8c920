package registry

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// fakeDeviceRepo is an in-memory DeviceRepository
type fakeDeviceRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Device
	history []*models.DeviceHistoryEntry
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{rows: make(map[string]*models.Device)}
}

func (r *fakeDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[device.ID] = device
	return nil
}

func (r *fakeDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, errors.NewNotFound("device", id)
	}
	return row, nil
}

func (r *fakeDeviceRepo) GetAll(ctx context.Context) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*models.Device, 0, len(r.rows))
	for _, row := range r.rows {
		all = append(all, row)
	}
	return all, nil
}

func (r *fakeDeviceRepo) Update(ctx context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[device.ID]; !ok {
		return errors.NewNotFound("device", device.ID)
	}
	r.rows[device.ID] = device
	return nil
}

func (r *fakeDeviceRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return errors.NewNotFound("device", id)
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeDeviceRepo) AppendHistory(ctx context.Context, entry *models.DeviceHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, entry)
	return nil
}

func (r *fakeDeviceRepo) GetHistory(ctx context.Context, deviceID string, limit int) ([]*models.DeviceHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []*models.DeviceHistoryEntry
	for _, entry := range r.history {
		if entry.DeviceID == deviceID {
			entries = append(entries, entry)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (r *fakeDeviceRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeDeviceRepo) historyCount(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, entry := range r.history {
		if entry.DeviceID == deviceID {
			count++
		}
	}
	return count
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testService(t *testing.T) (*Service, *fakeDeviceRepo, *bus.Bus) {
	t.Helper()
	logger := testLogger()
	events := bus.New(logger)
	repo := newFakeDeviceRepo()
	service := NewService(repo, events, logger)
	require.NoError(t, service.Start(context.Background()))
	return service, repo, events
}

func lampSpec() RegisterSpec {
	return RegisterSpec{
		Name:     "Living Room Lamp",
		Type:     "light",
		Protocol: "mqtt",
		Address:  "lamp-01",
		Room:     "living room",
	}
}

func TestRegisterValidation(t *testing.T) {
	service, _, _ := testService(t)

	tests := []struct {
		name string
		spec RegisterSpec
	}{
		{"missing name", RegisterSpec{Type: "light", Protocol: "mqtt"}},
		{"missing type", RegisterSpec{Name: "x", Protocol: "mqtt"}},
		{"missing protocol", RegisterSpec{Name: "x", Type: "light"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), tt.spec)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestRegisterAndGet(t *testing.T) {
	service, repo, _ := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)
	assert.NotEmpty(t, device.ID)
	assert.True(t, device.Online)
	assert.NotNil(t, device.State)
	assert.Empty(t, device.State)

	got, err := service.GetByID(device.ID)
	require.NoError(t, err)
	assert.Equal(t, "Living Room Lamp", got.Name)

	byAddr, err := service.GetByAddress("lamp-01")
	require.NoError(t, err)
	assert.Equal(t, device.ID, byAddr.ID)

	_, err = repo.GetByID(context.Background(), device.ID)
	assert.NoError(t, err)

	_, err = service.GetByID("missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestRegisterRejectsDuplicateAddress(t *testing.T) {
	service, _, _ := testService(t)

	_, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	spec := lampSpec()
	spec.Name = "Another Lamp"
	_, err = service.Register(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRegisterConcurrentDuplicateAddress(t *testing.T) {
	service, _, _ := testService(t)

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = service.Register(context.Background(), lampSpec())
		}(i)
	}
	wg.Wait()

	// Exactly one registration wins; the rest fail validation, never storage
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.IsValidation(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestUpdateStateMergesPartial(t *testing.T) {
	service, repo, events := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	sub := events.Subscribe("test", 8, bus.DeviceStateChanged)
	defer events.Unsubscribe(sub)

	_, err = service.UpdateState(context.Background(), device.ID, map[string]interface{}{"on": true, "brightness": 80}, "user:test")
	require.NoError(t, err)

	state, err := service.UpdateState(context.Background(), device.ID, map[string]interface{}{"brightness": 40}, "user:test")
	require.NoError(t, err)

	// Unmentioned keys survive the merge
	assert.Equal(t, true, state["on"])
	assert.Equal(t, 40, state["brightness"])

	first := <-sub.C
	second := <-sub.C

	payload := second.Payload.(bus.StateChangePayload)
	assert.Equal(t, 80, payload.OldState["brightness"])
	assert.Equal(t, 40, payload.NewState["brightness"])
	assert.Equal(t, "user:test", payload.Actor)

	firstPayload := first.Payload.(bus.StateChangePayload)
	assert.Empty(t, firstPayload.OldState)

	// One history snapshot per update
	assert.Equal(t, 2, repo.historyCount(device.ID))
}

func TestUpdateStateUnknownDevice(t *testing.T) {
	service, _, _ := testService(t)

	_, err := service.UpdateState(context.Background(), "ghost", map[string]interface{}{"on": true}, "")
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateStateSerializedPerDevice(t *testing.T) {
	service, _, events := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	const updates = 40
	sub := events.Subscribe("chain", updates+8, bus.DeviceStateChanged)
	defer events.Unsubscribe(sub)

	var wg sync.WaitGroup
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := service.UpdateState(context.Background(), device.ID, map[string]interface{}{"n": n}, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Each update observed exactly the previous update's result: the
	// old_state of every event equals the new_state of the one before it.
	var previous map[string]interface{}
	for i := 0; i < updates; i++ {
		select {
		case event := <-sub.C:
			payload := event.Payload.(bus.StateChangePayload)
			if previous != nil {
				assert.Equal(t, previous["n"], payload.OldState["n"])
			}
			previous = payload.NewState
		case <-time.After(time.Second):
			t.Fatalf("missing state change event %d", i)
		}
	}
}

func TestMarkOnlineOfflineUnknownIsNoop(t *testing.T) {
	service, _, events := testService(t)

	sub := events.Subscribe("liveness", 8, bus.DeviceOnline, bus.DeviceOffline)
	defer events.Unsubscribe(sub)

	service.MarkOnline(context.Background(), "ghost")
	service.MarkOffline(context.Background(), "ghost")

	select {
	case event := <-sub.C:
		t.Fatalf("unexpected event %s for unknown device", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkOfflineAndOnline(t *testing.T) {
	service, _, _ := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	service.MarkOffline(context.Background(), device.ID)
	got, err := service.GetByID(device.ID)
	require.NoError(t, err)
	assert.False(t, got.Online)

	service.MarkOnline(context.Background(), device.ID)
	got, err = service.GetByID(device.ID)
	require.NoError(t, err)
	assert.True(t, got.Online)
	assert.NotNil(t, got.LastSeen)
}

func TestDeleteFreesAddress(t *testing.T) {
	service, _, _ := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), device.ID))

	_, err = service.GetByID(device.ID)
	assert.True(t, errors.IsNotFound(err))

	// Address is reusable after deletion
	_, err = service.Register(context.Background(), lampSpec())
	assert.NoError(t, err)

	assert.True(t, errors.IsNotFound(service.Delete(context.Background(), device.ID)))
}

func TestControlDevicePublishes(t *testing.T) {
	service, _, events := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	sub := events.Subscribe("control", 8, bus.DeviceControl)
	defer events.Unsubscribe(sub)

	require.NoError(t, service.ControlDevice(device.ID, "turn_on", map[string]interface{}{"brightness": 100}))

	event := <-sub.C
	payload := event.Payload.(bus.ControlPayload)
	assert.Equal(t, device.ID, payload.DeviceID)
	assert.Equal(t, "turn_on", payload.Command)
	assert.Equal(t, 100, payload.Parameters["brightness"])

	assert.True(t, errors.IsNotFound(service.ControlDevice("ghost", "turn_on", nil)))
}

func TestListFilters(t *testing.T) {
	service, _, _ := testService(t)

	_, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	sensor := RegisterSpec{Name: "Hall Sensor", Type: "sensor", Protocol: "zigbee", Room: "hall"}
	registered, err := service.Register(context.Background(), sensor)
	require.NoError(t, err)
	service.MarkOffline(context.Background(), registered.ID)

	assert.Len(t, service.List(Filter{}), 2)
	assert.Len(t, service.List(Filter{Type: "light"}), 1)
	assert.Len(t, service.List(Filter{Protocol: "zigbee"}), 1)
	assert.Len(t, service.List(Filter{Room: "hall"}), 1)

	online := true
	assert.Len(t, service.List(Filter{Online: &online}), 1)
}

func TestStatistics(t *testing.T) {
	service, _, _ := testService(t)

	_, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)
	sensor, err := service.Register(context.Background(), RegisterSpec{Name: "s", Type: "sensor", Protocol: "zigbee"})
	require.NoError(t, err)
	service.MarkOffline(context.Background(), sensor.ID)

	stats := service.Statistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Online)
	assert.Equal(t, 1, stats.Offline)
	assert.Equal(t, 1, stats.ByProtocol["mqtt"])
	assert.Equal(t, 1, stats.ByType["sensor"])
}

func TestStateOfReturnsCopy(t *testing.T) {
	service, _, _ := testService(t)

	device, err := service.Register(context.Background(), lampSpec())
	require.NoError(t, err)

	_, err = service.UpdateState(context.Background(), device.ID, map[string]interface{}{"on": true}, "")
	require.NoError(t, err)

	state, err := service.StateOf(device.ID)
	require.NoError(t, err)
	state["on"] = false

	fresh, err := service.StateOf(device.ID)
	require.NoError(t, err)
	assert.Equal(t, true, fresh["on"])

	_, err = service.StateOf("ghost")
	assert.True(t, errors.IsNotFound(err))
}
