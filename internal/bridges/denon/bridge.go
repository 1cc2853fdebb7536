package denon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// topicParts is the number of levels in command and request topics.
	topicParts = 4

	// commandTimeout bounds one command submission.
	commandTimeout = 5 * time.Second

	// requestTimeout bounds refresh and reconnect requests.
	requestTimeout = 15 * time.Second

	// bridgeQoS is used for every publish and subscription.
	bridgeQoS = 1

	// connectionEvent is the core event type for transport transitions.
	connectionEvent = "device.connection_changed"
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Engine is the part of *avr.Registry the bridge drives.
type Engine interface {
	Submit(ctx context.Context, id, command string, params avr.Params) error
	SubmitSequence(ctx context.Context, id string, commands []string, repeat int) error
	Release(id, command string) error
	State(id string) (avr.DeviceState, error)
	Subscribe(id string) (<-chan avr.Event, func(), error)
	Reconnect(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) error
	Has(id string) bool
	Device(id string) (avr.DeviceInfo, error)
	Devices() []avr.DeviceInfo
	Summary() avr.Summary
	OnLifecycle(fn func(avr.ConnectionEvent))
}

// Telemetry receives numeric state and connection transitions.
// *influxdb.Client satisfies it. It is optional.
type Telemetry interface {
	WriteDeviceState(deviceID string, tags map[string]string, fields map[string]any)
	WriteConnectionEvent(deviceID, transport, from, to, errMsg string, at time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID names the bridge in health messages. Default: "denon".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Engine     Engine

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional structured logger.
	Logger Logger
}

// Bridge translates between MQTT and the avr engine.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id        string
	mqtt      MQTTClient
	engine    Engine
	telemetry Telemetry
	health    *HealthReporter
	topics    mqtt.Topics

	// Per-device event subscriptions, keyed by device ID.
	subs   map[string]func()
	subsMu sync.Mutex

	resync chan struct{}

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	statesPublished  atomic.Uint64
	errorsTotal      atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	stopping  atomic.Bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		id:        opts.BridgeID,
		mqtt:      opts.MQTTClient,
		engine:    opts.Engine,
		telemetry: opts.Telemetry,
		subs:      make(map[string]func()),
		resync:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   opts.Engine,
		Stats:     b.Stats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command and request topics, follows every
// registered device and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.BridgeCommand(Protocol, "+")
	if err := b.mqtt.Subscribe(commandTopic, bridgeQoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := b.topics.BridgeRequest(Protocol, "+")
	if err := b.mqtt.Subscribe(requestTopic, bridgeQoS, b.handleRequest); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.engine.OnLifecycle(b.handleLifecycle)
	b.syncDevices()

	b.wg.Add(1)
	go b.syncLoop()

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id, "devices", b.deviceCount())
	return nil
}

// Stop gracefully shuts down the bridge. Retained state is left in place.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopping.Store(true)
		close(b.done)
		b.ctxCancel()

		b.health.Stop()

		b.subsMu.Lock()
		for id, cancel := range b.subs {
			cancel()
			delete(b.subs, id)
		}
		b.subsMu.Unlock()

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		StatesPublished:  b.statesPublished.Load(),
		Errors:           b.errorsTotal.Load(),
	}
}

// handleLifecycle runs on engine goroutines and must not block.
func (b *Bridge) handleLifecycle(ev avr.ConnectionEvent) {
	if b.telemetry != nil {
		errMsg := ""
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		b.telemetry.WriteConnectionEvent(ev.DeviceID, ev.Transport, ev.From.String(), ev.To.String(), errMsg, ev.Timestamp)
	}

	b.subsMu.Lock()
	_, known := b.subs[ev.DeviceID]
	b.subsMu.Unlock()
	if !known {
		b.requestSync()
	}
}

func (b *Bridge) requestSync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

func (b *Bridge) syncLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.resync:
			b.syncDevices()
		}
	}
}

// syncDevices subscribes to devices that are registered but not followed.
// Removed devices are dropped when their event channel closes.
func (b *Bridge) syncDevices() {
	for _, info := range b.engine.Devices() {
		id := info.Identity.ID

		b.subsMu.Lock()
		if b.stopping.Load() {
			b.subsMu.Unlock()
			return
		}
		if _, ok := b.subs[id]; ok {
			b.subsMu.Unlock()
			continue
		}
		events, cancel, err := b.engine.Subscribe(id)
		if err != nil {
			b.subsMu.Unlock()
			b.logDebug("device vanished before subscribe", "device_id", id)
			continue
		}
		b.subs[id] = cancel
		b.wg.Add(1)
		b.subsMu.Unlock()

		go b.follow(id, events)
		b.logInfo("following device", "device_id", id)
	}
}

// follow publishes a device's state until its event channel closes.
func (b *Bridge) follow(id string, events <-chan avr.Event) {
	defer b.wg.Done()

	b.publishState(id, nil)

	for ev := range events {
		switch ev.Type {
		case avr.EventStateChanged:
			if ev.Change == nil {
				continue
			}
			b.publishState(id, ev.Change.Fields)
			b.writeTelemetry(*ev.Change)
		case avr.EventConnectionChanged:
			if ev.Connection == nil {
				continue
			}
			b.publishConnection(*ev.Connection)
			b.publishState(id, nil)
		}
	}

	b.subsMu.Lock()
	delete(b.subs, id)
	b.subsMu.Unlock()

	if b.stopping.Load() || b.engine.Has(id) {
		return
	}
	// Removed device: clear its retained state.
	if err := b.mqtt.Publish(b.topics.BridgeState(Protocol, id), nil, bridgeQoS, true); err != nil {
		b.logError("failed to clear retained state", err, "device_id", id)
	}
	b.logInfo("stopped following device", "device_id", id)
}

func (b *Bridge) publishState(id string, changed []avr.Field) {
	info, err := b.engine.Device(id)
	if err != nil {
		return
	}
	state, err := b.engine.State(id)
	if err != nil {
		return
	}

	msg := NewStateMessage(info, state, changed)
	if err := b.publishJSON(b.topics.BridgeState(Protocol, id), msg, true); err != nil {
		b.logError("failed to publish state", err, "device_id", id)
		return
	}
	b.statesPublished.Add(1)
}

func (b *Bridge) publishConnection(ev avr.ConnectionEvent) {
	msg := NewConnectionMessage(ev)
	if err := b.publishJSON(b.topics.CoreEvent(connectionEvent), msg, false); err != nil {
		b.logError("failed to publish connection event", err, "device_id", ev.DeviceID)
	}
}

// writeTelemetry records numeric fields when volume, power or mute changed.
func (b *Bridge) writeTelemetry(change avr.StateChange) {
	if b.telemetry == nil {
		return
	}
	if !change.Has(avr.FieldVolume) && !change.Has(avr.FieldPower) && !change.Has(avr.FieldMuted) {
		return
	}

	s := change.State
	fields := make(map[string]any, 4)
	if s.Volume != nil {
		fields["volume"] = *s.Volume
		fields["volume_db"] = avr.VolumeDB(*s.Volume)
	}
	switch s.Power {
	case avr.PowerOn:
		fields["power"] = 1
	case avr.PowerOff, avr.PowerStandby:
		fields["power"] = 0
	}
	if s.Muted != nil {
		fields["muted"] = boolToInt(*s.Muted)
	}

	tags := map[string]string{"protocol": Protocol}
	if s.Input != nil {
		tags["input"] = *s.Input
	}
	b.telemetry.WriteDeviceState(change.DeviceID, tags, fields)
}

// handleCommand processes a command message. Submission runs off the MQTT
// callback goroutine so slow receivers do not stall delivery.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	b.commandsReceived.Add(1)

	deviceID, err := topicSegment(topic, "command")
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("invalid command topic", err, "topic", topic)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		cmd.DeviceID = deviceID
		b.fail(cmd, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = deviceID
	}
	if cmd.DeviceID != deviceID {
		err := fmt.Errorf("%w: device_id %q does not match topic", ErrInvalidMessage, cmd.DeviceID)
		cmd.DeviceID = deviceID
		b.fail(cmd, err)
		return
	}

	b.logDebug("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"source", cmd.Source)

	select {
	case <-b.done:
		b.fail(cmd, avr.ErrSessionClosed)
		return
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.execute(cmd); err != nil {
			b.fail(cmd, err)
			return
		}
		b.publishAck(NewAckMessage(cmd))
	}()
}

func (b *Bridge) execute(cmd CommandMessage) error {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch {
	case len(cmd.Sequence) > 0:
		repeat := 0
		if raw, ok := cmd.Parameters["repeat"]; ok {
			n, err := wholeNumber(raw)
			if err != nil {
				return err
			}
			repeat = n
		}
		return b.engine.SubmitSequence(ctx, cmd.DeviceID, cmd.Sequence, repeat)
	case cmd.Command == "":
		return fmt.Errorf("%w: command is required", ErrInvalidMessage)
	case cmd.Release:
		return b.engine.Release(cmd.DeviceID, cmd.Command)
	}

	params, err := cmd.Params()
	if err != nil {
		return err
	}
	return b.engine.Submit(ctx, cmd.DeviceID, cmd.Command, params)
}

func (b *Bridge) fail(cmd CommandMessage, err error) {
	b.commandsFailed.Add(1)
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"error", err)
	b.publishAck(NewAckError(cmd, err))
}

func (b *Bridge) publishAck(ack AckMessage) {
	if ack.DeviceID == "" {
		return
	}
	if err := b.publishJSON(b.topics.BridgeAck(Protocol, ack.DeviceID), ack, false); err != nil {
		b.logError("failed to publish ack", err, "command_id", ack.CommandID)
	}
}

// handleRequest processes a request/response operation.
func (b *Bridge) handleRequest(topic string, payload []byte) {
	requestID, err := topicSegment(topic, "request")
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("invalid request topic", err, "topic", topic)
		return
	}

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		req.RequestID = requestID
		b.respond(req, nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}
	req.RequestID = requestID

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		data, err := b.serve(req)
		b.respond(req, data, err)
	}()
}

func (b *Bridge) serve(req RequestMessage) (any, error) {
	if req.Action == ActionListDevices {
		return b.engine.Devices(), nil
	}
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidMessage)
	}

	ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
	defer cancel()

	switch req.Action {
	case ActionReadState:
		info, err := b.engine.Device(req.DeviceID)
		if err != nil {
			return nil, err
		}
		state, err := b.engine.State(req.DeviceID)
		if err != nil {
			return nil, err
		}
		return NewStateMessage(info, state, nil), nil
	case ActionRefresh:
		return nil, b.engine.Refresh(ctx, req.DeviceID)
	case ActionReconnect:
		return nil, b.engine.Reconnect(ctx, req.DeviceID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func (b *Bridge) respond(req RequestMessage, data any, err error) {
	if err != nil {
		b.logWarn("request failed", "request_id", req.RequestID, "action", req.Action, "error", err)
	}
	resp := NewResponse(req, data, err)
	if err := b.publishJSON(b.topics.BridgeResponse(Protocol, req.RequestID), resp, false); err != nil {
		b.logError("failed to publish response", err, "request_id", req.RequestID)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := b.mqtt.Publish(topic, payload, bridgeQoS, retained); err != nil {
		b.errorsTotal.Add(1)
		return err
	}
	return nil
}

func (b *Bridge) deviceCount() int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	return len(b.subs)
}

// topicSegment validates avrlink/{kind}/denon/{id} and returns id.
func topicSegment(topic, kind string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[0] != mqtt.TopicPrefixBridge || parts[1] != kind || parts[2] != Protocol || parts[3] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return parts[3], nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
