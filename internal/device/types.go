package device

import (
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/infrastructure/config"
)

// Device is one stored receiver.
//
// Zero-valued connection settings (Mode, VolumeStep, ports) inherit the
// engine defaults when the session is built.
type Device struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Host              string             `json:"host"`
	Manufacturer      avr.Manufacturer   `json:"manufacturer"`
	Model             string             `json:"model,omitempty"`
	Mode              avr.ConnectionMode `json:"mode,omitempty"`
	Zones             int                `json:"zones"`
	SupportsSoundMode bool               `json:"supports_sound_mode"`
	VolumeStep        float64            `json:"volume_step,omitempty"`
	HTTPPort          int                `json:"http_port,omitempty"`
	TelnetPort        int                `json:"telnet_port,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromConfig converts a config seed entry.
func FromConfig(dc config.DeviceConfig) Device {
	zones := dc.Zones
	if zones == 0 {
		zones = 1
	}
	return Device{
		ID:                dc.ID,
		Name:              dc.Name,
		Host:              dc.Host,
		Manufacturer:      avr.Manufacturer(dc.Manufacturer),
		Model:             dc.Model,
		Mode:              avr.ConnectionMode(dc.Mode),
		Zones:             zones,
		SupportsSoundMode: dc.SoundMode,
		VolumeStep:        dc.VolumeStep,
		HTTPPort:          dc.HTTPPort,
		TelnetPort:        dc.TelnetPort,
	}
}

// Identity returns the engine identity of the device.
func (d Device) Identity() avr.DeviceIdentity {
	return avr.DeviceIdentity{
		ID:                d.ID,
		Name:              d.Name,
		Host:              d.Host,
		Manufacturer:      d.Manufacturer,
		Model:             d.Model,
		Zones:             d.Zones,
		SupportsSoundMode: d.SupportsSoundMode,
	}
}

// SessionOptions builds session options from the engine defaults in base,
// overridden by the device's own settings.
func (d Device) SessionOptions(base config.AVRConfig) avr.SessionOptions {
	opts := avr.SessionOptions{
		Mode:               avr.ConnectionMode(base.Mode),
		HTTPPort:           d.HTTPPort,
		TelnetPort:         d.TelnetPort,
		ConnectTimeout:     base.ConnectTimeout,
		RequestTimeout:     base.RequestTimeout,
		MinCommandInterval: base.MinCommandInterval,
		PollInterval:       base.PollInterval,
		VolumeStep:         base.VolumeStep,
		PowerPolicy:        avr.PowerPolicy(base.PowerPolicy),
		MaxRetries:         base.MaxRetries,
		BackoffMin:         base.BackoffMin,
		BackoffMax:         base.BackoffMax,
	}
	if d.Mode != "" {
		opts.Mode = d.Mode
	}
	if d.VolumeStep > 0 {
		opts.VolumeStep = d.VolumeStep
	}
	return opts
}

// ConnectionEventRecord is one stored connection transition.
type ConnectionEventRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Transport  string    `json:"transport"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordFromEvent converts an engine connection event.
func RecordFromEvent(ev avr.ConnectionEvent) ConnectionEventRecord {
	rec := ConnectionEventRecord{
		DeviceID:   ev.DeviceID,
		Transport:  ev.Transport,
		From:       ev.From.String(),
		To:         ev.To.String(),
		OccurredAt: ev.Timestamp,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	return rec
}
