package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/database/models"
	"github.com/havenhub/haven-backend-go/internal/database/repositories"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// Service owns the authoritative in-memory device table, mirrors every
// mutation to storage and publishes change events on the bus.
type Service struct {
	devices   map[string]*Device
	byAddress map[string]string // physical address -> device id

	repo   repositories.DeviceRepository
	events *bus.Bus
	logger *logrus.Logger

	mu    sync.RWMutex
	lanes map[string]*sync.Mutex
}

// NewService creates a new device registry
func NewService(repo repositories.DeviceRepository, events *bus.Bus, logger *logrus.Logger) *Service {
	return &Service{
		devices:   make(map[string]*Device),
		byAddress: make(map[string]string),
		repo:      repo,
		events:    events,
		logger:    logger,
		lanes:     make(map[string]*sync.Mutex),
	}
}

// Start loads the persisted device table into memory
func (s *Service) Start(ctx context.Context) error {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, row := range rows {
		device := deviceFromModel(row)
		s.devices[device.ID] = device
		if device.Address != "" {
			s.byAddress[device.Address] = device.ID
		}
	}
	s.mu.Unlock()

	s.logger.WithField("devices", len(rows)).Info("Device registry started")
	return nil
}

// Register creates a new device with empty state and publishes
// device.registered. The device starts online: registration implies the
// device just announced itself.
func (s *Service) Register(ctx context.Context, spec RegisterSpec) (*Device, error) {
	if spec.Name == "" || spec.Type == "" || spec.Protocol == "" {
		return nil, errors.NewValidation("device name, type and protocol are required")
	}

	now := time.Now().UTC()
	device := &Device{
		ID:           uuid.New().String(),
		Address:      spec.Address,
		Name:         spec.Name,
		Type:         spec.Type,
		Protocol:     spec.Protocol,
		Manufacturer: spec.Manufacturer,
		Model:        spec.Model,
		Firmware:     spec.Firmware,
		Room:         spec.Room,
		State:        map[string]interface{}{},
		Capabilities: append([]string{}, spec.Capabilities...),
		Metadata:     cloneMap(spec.Metadata),
		Online:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSeen:     &now,
	}

	// Reserve the address before persisting so two concurrent registrations
	// of the same address cannot both pass the uniqueness check.
	if device.Address != "" {
		s.mu.Lock()
		if _, taken := s.byAddress[device.Address]; taken {
			s.mu.Unlock()
			return nil, errors.NewValidation("device address already registered: " + device.Address)
		}
		s.byAddress[device.Address] = device.ID
		s.mu.Unlock()
	}

	if err := s.repo.Create(ctx, device.toModel()); err != nil {
		if device.Address != "" {
			s.mu.Lock()
			delete(s.byAddress, device.Address)
			s.mu.Unlock()
		}
		return nil, err
	}

	s.mu.Lock()
	s.devices[device.ID] = device
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device_id": device.ID,
		"name":      device.Name,
		"protocol":  device.Protocol,
	}).Info("Device registered")

	s.events.Publish(bus.DeviceRegistered, bus.DevicePayload{DeviceID: device.ID, Device: device.Clone()})

	return device.Clone(), nil
}

// GetByID retrieves a device by id
func (s *Service) GetByID(id string) (*Device, error) {
	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()

	if !exists {
		return nil, errors.NewNotFound("device", id)
	}
	return device.Clone(), nil
}

// StateOf returns a copy of a device's current state. Condition evaluation
// in the automation engine reads through this.
func (s *Service) StateOf(id string) (map[string]interface{}, error) {
	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()

	if !exists {
		return nil, errors.NewNotFound("device", id)
	}
	return cloneMap(device.State), nil
}

// GetByAddress retrieves a device by its physical address
func (s *Service) GetByAddress(address string) (*Device, error) {
	s.mu.RLock()
	id, exists := s.byAddress[address]
	device := s.devices[id]
	s.mu.RUnlock()

	if !exists || device == nil {
		return nil, errors.NewNotFound("device", address)
	}
	return device.Clone(), nil
}

// List returns copies of all devices matching the filter
func (s *Service) List(filter Filter) []*Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.devices))
	for _, device := range s.devices {
		if filter.Matches(device) {
			devices = append(devices, device.Clone())
		}
	}
	return devices
}

// UpdateState merges partialState into the device state key by key, marks the
// device online, persists, appends a history snapshot and publishes
// device.state_changed. Updates to a single device are serialized on its
// lane: the oldState seen by each call is exactly the newState produced by
// the previous call for that device.
func (s *Service) UpdateState(ctx context.Context, id string, partialState map[string]interface{}, actor string) (map[string]interface{}, error) {
	lane, err := s.lane(id)
	if err != nil {
		return nil, err
	}
	lane.Lock()
	defer lane.Unlock()

	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()
	if !exists {
		// Deleted between lane acquisition and here
		return nil, errors.NewNotFound("device", id)
	}

	oldState := cloneMap(device.State)
	newState := mergeState(oldState, partialState)

	now := time.Now().UTC()
	updated := device.Clone()
	updated.State = newState
	updated.Online = true
	updated.UpdatedAt = now
	updated.LastSeen = &now

	if err := s.repo.Update(ctx, updated.toModel()); err != nil {
		return nil, err
	}

	stateJSON, _ := json.Marshal(newState)
	entry := &models.DeviceHistoryEntry{
		DeviceID:  id,
		State:     stateJSON,
		CreatedAt: now,
	}
	if actor != "" {
		entry.TriggeredBy = sql.NullString{String: actor, Valid: true}
	}
	if err := s.repo.AppendHistory(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("device_id", id).Warn("Failed to append device history")
	}

	s.mu.Lock()
	s.devices[id] = updated
	s.mu.Unlock()

	s.events.Publish(bus.DeviceStateChanged, bus.StateChangePayload{
		DeviceID: id,
		OldState: oldState,
		NewState: cloneMap(newState),
		Actor:    actor,
	})

	return cloneMap(newState), nil
}

// UpdateInfo updates descriptive fields and publishes device.updated
func (s *Service) UpdateInfo(ctx context.Context, id string, info InfoUpdate) (*Device, error) {
	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()
	if !exists {
		return nil, errors.NewNotFound("device", id)
	}

	updated := device.Clone()
	if info.Name != nil {
		updated.Name = *info.Name
	}
	if info.Room != nil {
		updated.Room = *info.Room
	}
	if info.Manufacturer != nil {
		updated.Manufacturer = *info.Manufacturer
	}
	if info.Model != nil {
		updated.Model = *info.Model
	}
	if info.Firmware != nil {
		updated.Firmware = *info.Firmware
	}
	if info.Capabilities != nil {
		updated.Capabilities = append([]string{}, info.Capabilities...)
	}
	if info.Metadata != nil {
		updated.Metadata = cloneMap(info.Metadata)
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, updated.toModel()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.devices[id] = updated
	s.mu.Unlock()

	s.events.Publish(bus.DeviceUpdated, bus.DevicePayload{DeviceID: id, Device: updated.Clone()})

	return updated.Clone(), nil
}

// Delete removes a device. Its history cascades away in storage and the id
// is never reused.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()
	if !exists {
		return errors.NewNotFound("device", id)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.devices, id)
	if device.Address != "" {
		delete(s.byAddress, device.Address)
	}
	delete(s.lanes, id)
	s.mu.Unlock()

	s.logger.WithField("device_id", id).Info("Device deleted")
	s.events.Publish(bus.DeviceDeleted, bus.DevicePayload{DeviceID: id})

	return nil
}

// MarkOnline marks a device online. Unknown ids are a silent no-op: protocol
// adapters forward stale notifications and must not crash the registry.
func (s *Service) MarkOnline(ctx context.Context, id string) {
	s.setOnline(ctx, id, true)
}

// MarkOffline marks a device offline. Unknown ids are a silent no-op.
func (s *Service) MarkOffline(ctx context.Context, id string) {
	s.setOnline(ctx, id, false)
}

func (s *Service) setOnline(ctx context.Context, id string, online bool) {
	s.mu.RLock()
	device, exists := s.devices[id]
	s.mu.RUnlock()
	if !exists {
		s.logger.WithField("device_id", id).Debug("Online marker for unknown device ignored")
		return
	}

	now := time.Now().UTC()
	updated := device.Clone()
	updated.Online = online
	updated.UpdatedAt = now
	if online {
		updated.LastSeen = &now
	}

	if err := s.repo.Update(ctx, updated.toModel()); err != nil {
		s.logger.WithError(err).WithField("device_id", id).Warn("Failed to persist online transition")
		return
	}

	s.mu.Lock()
	s.devices[id] = updated
	s.mu.Unlock()

	eventType := bus.DeviceOnline
	if !online {
		eventType = bus.DeviceOffline
	}
	s.events.Publish(eventType, bus.DevicePayload{DeviceID: id})
}

// ControlDevice emits a device.control event for the protocol adapter that
// owns the device. The registry only routes the command; effecting it on the
// network is the adapter's job.
func (s *Service) ControlDevice(id, command string, parameters map[string]interface{}) error {
	s.mu.RLock()
	_, exists := s.devices[id]
	s.mu.RUnlock()
	if !exists {
		return errors.NewNotFound("device", id)
	}

	s.events.Publish(bus.DeviceControl, bus.ControlPayload{
		DeviceID:   id,
		Command:    command,
		Parameters: cloneMap(parameters),
	})

	s.logger.WithFields(logrus.Fields{
		"device_id": id,
		"command":   command,
	}).Debug("Device control dispatched")

	return nil
}

// GetHistory returns the persisted state snapshots for a device, oldest first
func (s *Service) GetHistory(ctx context.Context, id string, limit int) ([]*models.DeviceHistoryEntry, error) {
	return s.repo.GetHistory(ctx, id, limit)
}

// Statistics computes registry statistics by full scan. Device counts stay
// in the hundreds, so a scan is fine.
func (s *Service) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		ByProtocol: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for _, device := range s.devices {
		stats.Total++
		if device.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.ByProtocol[device.Protocol]++
		stats.ByType[device.Type]++
	}
	return stats
}

// lane returns the per-device mutex serializing state updates for one id
func (s *Service) lane(id string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[id]; !exists {
		return nil, errors.NewNotFound("device", id)
	}

	lane, ok := s.lanes[id]
	if !ok {
		lane = &sync.Mutex{}
		s.lanes[id] = lane
	}
	return lane, nil
}
