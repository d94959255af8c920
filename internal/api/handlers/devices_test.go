package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// memoryDeviceRepo is a minimal in-memory DeviceRepository for handler tests
type memoryDeviceRepo struct {
	rows map[string]*models.Device
}

func (r *memoryDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	r.rows[device.ID] = device
	return nil
}

func (r *memoryDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, errors.NewNotFound("device", id)
	}
	return row, nil
}

func (r *memoryDeviceRepo) GetAll(ctx context.Context) ([]*models.Device, error) {
	all := make([]*models.Device, 0, len(r.rows))
	for _, row := range r.rows {
		all = append(all, row)
	}
	return all, nil
}

func (r *memoryDeviceRepo) Update(ctx context.Context, device *models.Device) error {
	if _, ok := r.rows[device.ID]; !ok {
		return errors.NewNotFound("device", device.ID)
	}
	r.rows[device.ID] = device
	return nil
}

func (r *memoryDeviceRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.rows[id]; !ok {
		return errors.NewNotFound("device", id)
	}
	delete(r.rows, id)
	return nil
}

func (r *memoryDeviceRepo) AppendHistory(ctx context.Context, entry *models.DeviceHistoryEntry) error {
	return nil
}

func (r *memoryDeviceRepo) GetHistory(ctx context.Context, deviceID string, limit int) ([]*models.DeviceHistoryEntry, error) {
	return []*models.DeviceHistoryEntry{}, nil
}

func (r *memoryDeviceRepo) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func testRouter(t *testing.T) (*gin.Engine, *registry.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	devices := registry.NewService(&memoryDeviceRepo{rows: make(map[string]*models.Device)}, bus.New(logger), logger)
	require.NoError(t, devices.Start(context.Background()))

	h := NewHandlers(&config.Config{}, devices, nil, nil, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/devices", h.GetDevices)
	v1.POST("/devices", h.RegisterDevice)
	v1.GET("/devices/:id", h.GetDevice)
	v1.PUT("/devices/:id/state", h.UpdateDeviceState)
	v1.POST("/devices/:id/control", h.ControlDevice)
	v1.GET("/devices/stats", h.GetDeviceStats)
	return router, devices
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestRegisterDeviceEndpoint(t *testing.T) {
	router, _ := testRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/devices", gin.H{
		"name":     "Living Room Lamp",
		"type":     "light",
		"protocol": "mqtt",
		"address":  "lamp-01",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	response := decodeResponse(t, w)
	assert.Equal(t, true, response["success"])
	data := response["data"].(map[string]interface{})
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "Living Room Lamp", data["name"])
	assert.Equal(t, true, data["online"])
}

func TestRegisterDeviceValidation(t *testing.T) {
	router, _ := testRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/devices", gin.H{"name": "No Protocol"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decodeResponse(t, w)["success"])
}

func TestGetDevicesWithFilter(t *testing.T) {
	router, devices := testRouter(t)
	ctx := context.Background()

	_, err := devices.Register(ctx, registry.RegisterSpec{Name: "Lamp", Type: "light", Protocol: "mqtt"})
	require.NoError(t, err)
	_, err = devices.Register(ctx, registry.RegisterSpec{Name: "Sensor", Type: "sensor", Protocol: "zigbee"})
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/devices?type=light", nil)
	require.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.Len(t, response["data"], 1)
	meta := response["meta"].(map[string]interface{})
	assert.Equal(t, float64(1), meta["count"])

	w = doRequest(router, http.MethodGet, "/api/v1/devices?online=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDeviceNotFound(t *testing.T) {
	router, _ := testRouter(t)

	w := doRequest(router, http.MethodGet, "/api/v1/devices/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateDeviceStateEndpoint(t *testing.T) {
	router, devices := testRouter(t)

	device, err := devices.Register(context.Background(), registry.RegisterSpec{Name: "Lamp", Type: "light", Protocol: "mqtt"})
	require.NoError(t, err)

	w := doRequest(router, http.MethodPut, "/api/v1/devices/"+device.ID+"/state", gin.H{"on": true})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeResponse(t, w)["data"].(map[string]interface{})
	state := data["state"].(map[string]interface{})
	assert.Equal(t, true, state["on"])

	w = doRequest(router, http.MethodPut, "/api/v1/devices/ghost/state", gin.H{"on": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestControlDeviceEndpoint(t *testing.T) {
	router, devices := testRouter(t)

	device, err := devices.Register(context.Background(), registry.RegisterSpec{Name: "Lamp", Type: "light", Protocol: "mqtt"})
	require.NoError(t, err)

	w := doRequest(router, http.MethodPost, "/api/v1/devices/"+device.ID+"/control", gin.H{"command": "turn_on"})
	assert.Equal(t, http.StatusOK, w.Code)

	// command is required
	w = doRequest(router, http.MethodPost, "/api/v1/devices/"+device.ID+"/control", gin.H{"parameters": gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeviceStatsEndpoint(t *testing.T) {
	router, devices := testRouter(t)

	_, err := devices.Register(context.Background(), registry.RegisterSpec{Name: "Lamp", Type: "light", Protocol: "mqtt"})
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/v1/devices/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeResponse(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["online"])
}
