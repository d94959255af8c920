// Package mqtt bridges the device registry onto an MQTT broker. Inbound
// topics feed device state, availability and discovery into the registry;
// device.control events from the bus go out as command publishes.
//
// Topic layout, relative to the configured prefix:
//
//	<prefix>/<address>/state        inbound JSON partial state
//	<prefix>/<address>/availability inbound "online" / "offline"
//	<prefix>/announce               inbound JSON device announcement
//	<prefix>/<address>/set          outbound command publish
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/bus"
	"github.com/havenhub/haven-backend-go/internal/config"
	"github.com/havenhub/haven-backend-go/internal/core/registry"
	"github.com/havenhub/haven-backend-go/pkg/errors"
)

// DeviceRegistry is the slice of the registry the adapter needs. It enables
// unit testing the message handlers without a live broker.
type DeviceRegistry interface {
	Register(ctx context.Context, spec registry.RegisterSpec) (*registry.Device, error)
	GetByID(id string) (*registry.Device, error)
	GetByAddress(address string) (*registry.Device, error)
	UpdateState(ctx context.Context, id string, partialState map[string]interface{}, actor string) (map[string]interface{}, error)
	MarkOnline(ctx context.Context, id string)
	MarkOffline(ctx context.Context, id string)
}

// Announcement is the discovery payload devices publish on <prefix>/announce
type Announcement struct {
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Address      string                 `json:"address"`
	Room         string                 `json:"room,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	State        map[string]interface{} `json:"state,omitempty"`
}

// commandMessage is the outbound payload on <prefix>/<address>/set
type commandMessage struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Adapter connects the registry to an MQTT broker
type Adapter struct {
	cfg     config.MQTTConfig
	client  paho.Client
	devices DeviceRegistry
	events  *bus.Bus
	logger  *logrus.Logger
	sub     *bus.Subscription
	prefix  string
}

// NewAdapter creates a new MQTT adapter
func NewAdapter(cfg config.MQTTConfig, devices DeviceRegistry, events *bus.Bus, logger *logrus.Logger) *Adapter {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "haven"
	}

	return &Adapter{
		cfg:     cfg,
		devices: devices,
		events:  events,
		logger:  logger,
		prefix:  prefix,
	}
}

// Start connects to the broker, subscribes to inbound topics and begins
// consuming device.control events.
func (a *Adapter) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(a.cfg.Broker).
		SetClientID(a.clientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
		opts.SetPassword(a.cfg.Password)
	}

	opts.OnConnect = func(client paho.Client) {
		a.logger.WithField("broker", a.cfg.Broker).Info("MQTT connected")
		a.subscribeTopics(client)
	}
	opts.OnConnectionLost = func(client paho.Client, err error) {
		a.logger.WithError(err).Warn("MQTT connection lost")
	}

	a.client = paho.NewClient(opts)
	token := a.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.NewProtocol("MQTT connect timed out", nil)
	}
	if err := token.Error(); err != nil {
		return errors.NewProtocol("MQTT connect failed", err)
	}

	a.sub = a.events.Subscribe("mqtt-adapter", 256, bus.DeviceControl)
	go a.consumeControl()

	return nil
}

// Stop detaches from the bus and disconnects from the broker
func (a *Adapter) Stop() {
	if a.sub != nil {
		a.events.Unsubscribe(a.sub)
	}
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	a.logger.Info("MQTT adapter stopped")
}

func (a *Adapter) clientID() string {
	if a.cfg.ClientID != "" {
		return a.cfg.ClientID
	}
	return "haven-backend-" + time.Now().Format("150405.000")
}

func (a *Adapter) subscribeTopics(client paho.Client) {
	subscriptions := map[string]paho.MessageHandler{
		a.prefix + "/+/state":        a.handleState,
		a.prefix + "/+/availability": a.handleAvailability,
		a.prefix + "/announce":       a.handleAnnounce,
	}

	for topic, handler := range subscriptions {
		token := client.Subscribe(topic, 0, handler)
		if token.Wait() && token.Error() != nil {
			a.logger.WithError(token.Error()).WithField("topic", topic).Error("MQTT subscribe failed")
			continue
		}
		a.logger.WithField("topic", topic).Debug("MQTT subscribed")
	}
}

// handleState applies a JSON partial state from <prefix>/<address>/state
func (a *Adapter) handleState(_ paho.Client, msg paho.Message) {
	address, ok := a.addressFromTopic(msg.Topic())
	if !ok {
		return
	}

	var partial map[string]interface{}
	if err := json.Unmarshal(msg.Payload(), &partial); err != nil {
		a.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Dropping malformed MQTT state payload")
		return
	}

	device, err := a.devices.GetByAddress(address)
	if err != nil {
		a.logger.WithField("address", address).Debug("MQTT state for unknown device ignored")
		return
	}

	if _, err := a.devices.UpdateState(context.Background(), device.ID, partial, "mqtt"); err != nil {
		a.logger.WithError(err).WithField("device_id", device.ID).Warn("Failed to apply MQTT state")
	}
}

// handleAvailability maps "online"/"offline" payloads to registry liveness
func (a *Adapter) handleAvailability(_ paho.Client, msg paho.Message) {
	address, ok := a.addressFromTopic(msg.Topic())
	if !ok {
		return
	}

	device, err := a.devices.GetByAddress(address)
	if err != nil {
		return
	}

	switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
	case "online":
		a.devices.MarkOnline(context.Background(), device.ID)
	case "offline":
		a.devices.MarkOffline(context.Background(), device.ID)
	default:
		a.logger.WithFields(logrus.Fields{
			"address": address,
			"payload": string(msg.Payload()),
		}).Warn("Unknown MQTT availability payload")
	}
}

// handleAnnounce registers a newly discovered device. Announcements for an
// already registered address refresh its state instead.
func (a *Adapter) handleAnnounce(_ paho.Client, msg paho.Message) {
	var announcement Announcement
	if err := json.Unmarshal(msg.Payload(), &announcement); err != nil {
		a.logger.WithError(err).Warn("Dropping malformed MQTT announcement")
		return
	}
	if announcement.Address == "" {
		a.logger.Warn("MQTT announcement without address ignored")
		return
	}

	ctx := context.Background()

	if existing, err := a.devices.GetByAddress(announcement.Address); err == nil {
		a.devices.MarkOnline(ctx, existing.ID)
		if len(announcement.State) > 0 {
			if _, err := a.devices.UpdateState(ctx, existing.ID, announcement.State, "mqtt"); err != nil {
				a.logger.WithError(err).WithField("device_id", existing.ID).Warn("Failed to apply announced state")
			}
		}
		return
	}

	device, err := a.devices.Register(ctx, registry.RegisterSpec{
		Name:         announcement.Name,
		Type:         announcement.Type,
		Protocol:     "mqtt",
		Address:      announcement.Address,
		Room:         announcement.Room,
		Capabilities: announcement.Capabilities,
	})
	if err != nil {
		a.logger.WithError(err).WithField("address", announcement.Address).Warn("Failed to register announced device")
		return
	}

	if len(announcement.State) > 0 {
		if _, err := a.devices.UpdateState(ctx, device.ID, announcement.State, "mqtt"); err != nil {
			a.logger.WithError(err).WithField("device_id", device.ID).Warn("Failed to apply announced state")
		}
	}

	a.logger.WithFields(logrus.Fields{
		"device_id": device.ID,
		"address":   announcement.Address,
	}).Info("Device discovered over MQTT")
}

// consumeControl publishes device.control events to <prefix>/<address>/set
func (a *Adapter) consumeControl() {
	for event := range a.sub.C {
		payload, ok := event.Payload.(bus.ControlPayload)
		if !ok {
			continue
		}
		a.publishCommand(payload)
	}
}

func (a *Adapter) publishCommand(payload bus.ControlPayload) {
	device, err := a.devices.GetByID(payload.DeviceID)
	if err != nil {
		a.logger.WithField("device_id", payload.DeviceID).Debug("Control for unknown device ignored")
		return
	}
	if device.Protocol != "mqtt" || device.Address == "" {
		return
	}

	body, err := json.Marshal(commandMessage{
		Command:    payload.Command,
		Parameters: payload.Parameters,
	})
	if err != nil {
		a.logger.WithError(err).Warn("Failed to marshal MQTT command")
		return
	}

	topic := fmt.Sprintf("%s/%s/set", a.prefix, device.Address)
	token := a.client.Publish(topic, 0, false, body)
	if token.Wait() && token.Error() != nil {
		a.logger.WithError(token.Error()).WithField("topic", topic).Warn("MQTT publish failed")
	}
}

// addressFromTopic extracts <address> from <prefix>/<address>/<leaf>
func (a *Adapter) addressFromTopic(topic string) (string, bool) {
	trimmed := strings.TrimPrefix(topic, a.prefix+"/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}
