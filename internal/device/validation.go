package device

import (
	"fmt"
	"math"
	"regexp"
	"unicode/utf8"

	"github.com/nerrad567/avrlink/internal/avr"
)

const (
	maxNameLength = 100
	maxVolumeStep = 10.0
	maxPort       = 65535
)

// idPattern keeps IDs safe as MQTT topic levels and URL path segments.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Validate checks a device before it is stored or registered.
func Validate(d Device) error {
	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits, '-' or '_' (max 64)", ErrInvalidDevice, d.ID)
	}
	if utf8.RuneCountInString(d.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	if err := d.Identity().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if d.Zones < 1 {
		return fmt.Errorf("%w: zones must be 1-3", ErrInvalidDevice)
	}
	if d.Mode != "" && !d.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidDevice, d.Mode)
	}
	if d.VolumeStep != 0 {
		steps := d.VolumeStep / avr.VolumeResolution
		if d.VolumeStep < 0 || d.VolumeStep > maxVolumeStep || steps != math.Trunc(steps) {
			return fmt.Errorf("%w: volume_step must be a multiple of %g up to %g", ErrInvalidDevice, avr.VolumeResolution, maxVolumeStep)
		}
	}
	for name, port := range map[string]int{"http_port": d.HTTPPort, "telnet_port": d.TelnetPort} {
		if port < 0 || port > maxPort {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidDevice, name, port)
		}
	}
	return nil
}
