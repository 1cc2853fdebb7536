package denon

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "denon"

// CommandMessage is sent to the bridge to control one receiver.
// Topic: avrlink/command/denon/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. The bridge
	// generates one when it is empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// DeviceID must match the topic's device segment when set.
	DeviceID string `json:"device_id"`

	// Command is a command ID from the device's command table. It is
	// ignored when Sequence is set.
	Command string `json:"command"`

	// Parameters carries the optional "value", "choice" and "repeat"
	// arguments:
	//   {"value": 45.5} for volume
	//   {"choice": "TUNER"} for select_source
	//   {"repeat": 5} for cursor_down
	Parameters map[string]any `json:"parameters,omitempty"`

	// Sequence sends several commands in order. Repeat applies to the
	// whole sequence.
	Sequence []string `json:"sequence,omitempty"`

	// Release stops a held command.
	Release bool `json:"release,omitempty"`

	// Source indicates where the command originated ("api", "automation",
	// "scene").
	Source string `json:"source,omitempty"`
}

// Params converts the message parameters to engine parameters.
func (m CommandMessage) Params() (avr.Params, error) {
	var p avr.Params
	for key, raw := range m.Parameters {
		switch key {
		case "value":
			v, ok := raw.(float64)
			if !ok {
				return avr.Params{}, fmt.Errorf("%w: value must be a number", avr.ErrInvalidParameter)
			}
			p.Value = &v
		case "choice":
			s, ok := raw.(string)
			if !ok {
				return avr.Params{}, fmt.Errorf("%w: choice must be a string", avr.ErrInvalidParameter)
			}
			p.Choice = s
		case "repeat":
			n, err := wholeNumber(raw)
			if err != nil {
				return avr.Params{}, err
			}
			p.Repeat = n
		default:
			return avr.Params{}, fmt.Errorf("%w: unknown parameter %q", avr.ErrInvalidParameter, key)
		}
	}
	return p, nil
}

func wholeNumber(raw any) (int, error) {
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: repeat must be a whole number", avr.ErrInvalidParameter)
	}
	return int(f), nil
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent or merged into a pending
	// send.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the receiver did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage answers every command.
// Topic: avrlink/ack/denon/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceBusy        = "DEVICE_BUSY"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// ErrorCode maps an engine error onto an acknowledgement error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return ErrCodeInvalidMessage
	case errors.Is(err, avr.ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, avr.ErrCommandRejected), errors.Is(err, ErrUnknownAction):
		return ErrCodeInvalidCommand
	case errors.Is(err, avr.ErrInvalidParameter):
		return ErrCodeInvalidParameters
	case errors.Is(err, avr.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, avr.ErrQueueFull):
		return ErrCodeDeviceBusy
	case errors.Is(err, avr.ErrProtocolError):
		return ErrCodeProtocolError
	case errors.Is(err, avr.ErrNotConnected),
		errors.Is(err, avr.ErrConnectionLost),
		errors.Is(err, avr.ErrConnectionFailed),
		errors.Is(err, avr.ErrSessionClosed):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// NewAckMessage creates a successful acknowledgement.
func NewAckMessage(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement from an engine error.
func NewAckError(cmd CommandMessage, err error) AckMessage {
	ack := NewAckMessage(cmd)
	code := ErrorCode(err)
	ack.Status = AckFailed
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// StateMessage carries a receiver's full state.
// Topic: avrlink/state/denon/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	// Available is true while the receiver can be controlled.
	Available bool `json:"available"`

	// Connection is the aggregated transport state.
	Connection string `json:"connection"`

	State avr.DeviceState `json:"state"`

	// VolumeDB and VolumePercent are derived from State.Volume.
	VolumeDB      *float64 `json:"volume_db"`
	VolumePercent *float64 `json:"volume_percent"`

	// Changed lists the fields that triggered this message.
	Changed []avr.Field `json:"changed,omitempty"`

	Protocol string `json:"protocol"`
}

// NewStateMessage creates a state message from an engine snapshot.
func NewStateMessage(info avr.DeviceInfo, state avr.DeviceState, changed []avr.Field) StateMessage {
	msg := StateMessage{
		DeviceID:   info.Identity.ID,
		Timestamp:  time.Now().UTC(),
		Available:  info.Available,
		Connection: info.ConnectionState.String(),
		State:      state,
		Changed:    changed,
		Protocol:   Protocol,
	}
	if state.Volume != nil {
		db := avr.VolumeDB(*state.Volume)
		pct := math.Round(avr.VolumePercent(*state.Volume)*10) / 10
		msg.VolumeDB, msg.VolumePercent = &db, &pct
	}
	return msg
}

// ConnectionMessage announces one transport transition.
// Topic: avrlink/core/event/device.connection_changed
type ConnectionMessage struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Transport string    `json:"transport"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     string    `json:"error,omitempty"`
	Protocol  string    `json:"protocol"`
}

// NewConnectionMessage converts an engine connection event.
func NewConnectionMessage(ev avr.ConnectionEvent) ConnectionMessage {
	msg := ConnectionMessage{
		DeviceID:  ev.DeviceID,
		Timestamp: ev.Timestamp.UTC(),
		Transport: ev.Transport,
		From:      ev.From.String(),
		To:        ev.To.String(),
		Protocol:  Protocol,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates every receiver is connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT or some receivers are disconnected.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates no receiver is connected.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: avrlink/health/denon
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Devices       avr.Summary       `json:"devices"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	StatesPublished  uint64 `json:"states_published"`
	Errors           uint64 `json:"errors"`
}

// RequestMessage asks the bridge for a one-off operation.
// Topic: avrlink/request/denon/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "refresh", "reconnect" or "list_devices".
	Action string `json:"action"`

	// DeviceID is required by every action except list_devices.
	DeviceID string `json:"device_id,omitempty"`
}

// Request actions.
const (
	ActionReadState   = "read_state"
	ActionRefresh     = "refresh"
	ActionReconnect   = "reconnect"
	ActionListDevices = "list_devices"
)

// ResponseMessage answers a request.
// Topic: avrlink/response/denon/{request_id}
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// NewResponse creates a response; err, when set, marks it failed.
func NewResponse(req RequestMessage, data any, err error) ResponseMessage {
	resp := ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   err == nil,
		Data:      data,
	}
	if err != nil {
		resp.Data = nil
		resp.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	}
	return resp
}
