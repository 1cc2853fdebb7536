package avr

import (
	"fmt"
	"time"
)

// Manufacturer identifies the receiver brand. It selects which commands
// are legal for a device.
type Manufacturer string

// Supported manufacturers.
const (
	Denon   Manufacturer = "denon"
	Marantz Manufacturer = "marantz"
)

// Valid reports whether m is a supported manufacturer.
func (m Manufacturer) Valid() bool {
	return m == Denon || m == Marantz
}

// ConnectionMode selects the transports used for a device.
type ConnectionMode string

// Connection modes.
const (
	// ModeHTTP sends commands over HTTP and learns state by polling.
	ModeHTTP ConnectionMode = "http"

	// ModeTelnet sends commands and receives events over one telnet socket.
	ModeTelnet ConnectionMode = "telnet"

	// ModeHybrid sends commands over HTTP and receives events over telnet.
	ModeHybrid ConnectionMode = "hybrid"
)

// Valid reports whether m is a known connection mode.
func (m ConnectionMode) Valid() bool {
	switch m {
	case ModeHTTP, ModeTelnet, ModeHybrid:
		return true
	}
	return false
}

// HasStream reports whether m keeps a telnet connection.
func (m ConnectionMode) HasStream() bool {
	return m == ModeTelnet || m == ModeHybrid
}

// DeviceIdentity describes one physical receiver.
// It is immutable once the device is added to a Registry.
type DeviceIdentity struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Host              string       `json:"host"`
	Manufacturer      Manufacturer `json:"manufacturer"`
	Model             string       `json:"model,omitempty"`
	Zones             int          `json:"zones"`
	SupportsSoundMode bool         `json:"supports_sound_mode"`
}

// Validate checks the identity for required fields.
func (d DeviceIdentity) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidParameter)
	}
	if d.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidParameter)
	}
	if !d.Manufacturer.Valid() {
		return fmt.Errorf("%w: unsupported manufacturer %q", ErrInvalidParameter, d.Manufacturer)
	}
	if d.Zones < 0 || d.Zones > 3 {
		return fmt.Errorf("%w: zones must be 0-3", ErrInvalidParameter)
	}
	return nil
}

// Power is the power state of a zone.
type Power string

// Power states.
const (
	PowerUnknown Power = "unknown"
	PowerOn      Power = "on"
	PowerOff     Power = "off"
	PowerStandby Power = "standby"
)

// IsOn reports whether the zone is powered on.
func (p Power) IsOn() bool { return p == PowerOn }

// Volume scale constants. Receivers report volume on a 0-98 scale in half
// steps, where 80 is 0 dB.
const (
	// DefaultMaxVolume is assumed until the receiver reports MVMAX.
	DefaultMaxVolume = 80.0

	// AbsoluteMaxVolume is the largest value the protocol can carry.
	AbsoluteMaxVolume = 98.0

	// ReferenceVolume is the raw value corresponding to 0 dB.
	ReferenceVolume = 80.0

	// VolumeResolution is the smallest volume increment.
	VolumeResolution = 0.5
)

// VolumeDB converts a raw volume to decibels relative to reference.
func VolumeDB(raw float64) float64 {
	return raw - ReferenceVolume
}

// VolumePercent maps a raw volume onto 0-100, where 100 is 0 dB.
func VolumePercent(raw float64) float64 {
	p := raw / ReferenceVolume * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// ZoneState is the observable state of a secondary zone.
type ZoneState struct {
	Power  Power    `json:"power"`
	Volume *float64 `json:"volume"`
	Muted  *bool    `json:"muted"`
	Input  *string  `json:"input"`
}

// DeviceState is a snapshot of everything known about a receiver.
// Pointer fields are nil until first observed. Values reachable through a
// snapshot are never modified after it is handed out.
type DeviceState struct {
	Reachable bool  `json:"reachable"`
	Power     Power `json:"power"`

	Volume            *float64 `json:"volume"`
	MaxVolume         float64  `json:"max_volume"`
	MaxVolumeReported bool     `json:"max_volume_reported"`
	Muted             *bool    `json:"muted"`
	Input             *string  `json:"input"`
	SoundMode         *string  `json:"sound_mode"`

	Title    *string `json:"title"`
	Artist   *string `json:"artist"`
	Album    *string `json:"album"`
	ImageURL *string `json:"image_url"`

	Zone2 *ZoneState `json:"zone2,omitempty"`
	Zone3 *ZoneState `json:"zone3,omitempty"`

	EcoMode *string `json:"eco_mode"`
	Dimmer  *string `json:"dimmer"`
	Sleep   *int    `json:"sleep"`
	MultEQ  *string `json:"multeq"`
}

// Field names a DeviceState field in change notifications.
type Field string

// State fields.
const (
	FieldReachable Field = "reachable"
	FieldPower     Field = "power"
	FieldVolume    Field = "volume"
	FieldMaxVolume Field = "max_volume"
	FieldMuted     Field = "muted"
	FieldInput     Field = "input"
	FieldSoundMode Field = "sound_mode"
	FieldTitle     Field = "title"
	FieldArtist    Field = "artist"
	FieldAlbum     Field = "album"
	FieldImageURL  Field = "image_url"
	FieldZone2     Field = "zone2"
	FieldZone3     Field = "zone3"
	FieldEcoMode   Field = "eco_mode"
	FieldDimmer    Field = "dimmer"
	FieldSleep     Field = "sleep"
	FieldMultEQ    Field = "multeq"
)

// StateChange is emitted once per reconciler pass that changed at least
// one field.
type StateChange struct {
	DeviceID  string      `json:"device_id"`
	Fields    []Field     `json:"fields"`
	State     DeviceState `json:"state"`
	Timestamp time.Time   `json:"timestamp"`
}

// Has reports whether f is among the changed fields.
func (c StateChange) Has(f Field) bool {
	for _, x := range c.Fields {
		if x == f {
			return true
		}
	}
	return false
}

// ConnectionState is the lifecycle state of one transport connection.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for c := StateDisconnected; c <= StateFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// ConnectionEvent records a transition of one transport's ConnectionState.
type ConnectionEvent struct {
	DeviceID  string          `json:"device_id"`
	Transport string          `json:"transport"`
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Err       error           `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventType distinguishes session events.
type EventType string

// Session event types.
const (
	EventStateChanged      EventType = "device.state_changed"
	EventConnectionChanged EventType = "device.connection_changed"
)

// Event is delivered to session subscribers. Exactly one of Change and
// Connection is set, according to Type.
type Event struct {
	Type       EventType        `json:"type"`
	DeviceID   string           `json:"device_id"`
	Change     *StateChange     `json:"change,omitempty"`
	Connection *ConnectionEvent `json:"connection,omitempty"`
}
