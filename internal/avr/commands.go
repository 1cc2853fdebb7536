package avr

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// DefaultMaxRepeat caps the repeat count of commands that allow repetition.
const DefaultMaxRepeat = 20

// reservedPrefix marks entity-layer commands that must never reach a receiver.
const reservedPrefix = "remote."

// ParamKind describes the parameter a command accepts.
type ParamKind int

// Parameter kinds.
const (
	ParamNone ParamKind = iota
	ParamNumber
	ParamChoice
)

// NumberFormat selects how a numeric parameter is rendered on the wire.
type NumberFormat int

// Numeric wire formats.
const (
	// FormatVolume renders whole steps as two digits and half steps with a
	// trailing 5 (50 -> "50", 50.5 -> "505").
	FormatVolume NumberFormat = iota

	// FormatTwoDigit renders a zero-padded two digit integer.
	FormatTwoDigit

	// FormatThreeDigit renders a zero-padded three digit integer.
	FormatThreeDigit
)

// NumberRule bounds a numeric parameter.
type NumberRule struct {
	Min    float64      `json:"min"`
	Max    float64      `json:"max"`
	Step   float64      `json:"step"`
	Format NumberFormat `json:"-"`
}

// Command categories, used for grouping in listings.
const (
	CategoryMedia     = "media"
	CategoryZone      = "zone"
	CategoryQuery     = "query"
	CategoryCore      = "core"
	CategorySoundMode = "sound_mode"
	CategoryAudyssey  = "audyssey"
	CategoryDirac     = "dirac"
	CategoryLevels    = "channel_levels"
)

// CommandSpec maps one semantic command to its raw protocol payload.
//
// The rendered payload is Raw followed by the formatted parameter, if any.
type CommandSpec struct {
	ID       string     `json:"id"`
	Raw      string     `json:"raw"`
	Category string     `json:"category"`
	Kind     ParamKind  `json:"kind"`
	Number   NumberRule `json:"number,omitzero"`
	Choices  []string   `json:"choices,omitempty"`

	// MaxRepeat is the largest accepted repeat count. Zero means 1.
	MaxRepeat int `json:"max_repeat"`

	// Manufacturers restricts the command. Empty means all.
	Manufacturers []Manufacturer `json:"manufacturers,omitempty"`

	// Zone is the zone the command addresses (0 for the main zone).
	Zone int `json:"zone,omitempty"`

	// RequiresSoundMode restricts the command to models with sound modes.
	RequiresSoundMode bool `json:"requires_sound_mode,omitempty"`

	// Reply is the expected reply prefix for query commands.
	Reply string `json:"reply,omitempty"`

	// StreamOnly commands need the telnet connection and are left out of
	// HTTP-only tables.
	StreamOnly bool `json:"stream_only,omitempty"`

	// Toggle is set for commands resolved against a reported setting.
	// Such commands have no payload of their own.
	Toggle *Toggle `json:"toggle,omitempty"`
}

// IsQuery reports whether the command expects a reply.
func (c CommandSpec) IsQuery() bool { return c.Reply != "" }

func (c CommandSpec) appliesTo(id DeviceIdentity) bool {
	if len(c.Manufacturers) > 0 && !slices.Contains(c.Manufacturers, id.Manufacturer) {
		return false
	}
	zones := id.Zones
	if zones == 0 {
		zones = 1
	}
	if c.Zone > zones {
		return false
	}
	if c.RequiresSoundMode && !id.SupportsSoundMode {
		return false
	}
	return true
}

// Params carries the optional arguments of a command request.
type Params struct {
	Value  *float64 `json:"value,omitempty"`
	Choice string   `json:"choice,omitempty"`
	Repeat int      `json:"repeat,omitempty"`
}

// WithValue returns Params carrying a numeric value.
func WithValue(v float64) Params { return Params{Value: &v} }

// WithChoice returns Params carrying a choice.
func WithChoice(s string) Params { return Params{Choice: s} }

// Render validates p against the command and returns the raw lines to send,
// one per repetition.
func (c CommandSpec) Render(p Params) ([]string, error) {
	if c.Toggle != nil {
		return nil, fmt.Errorf("%w: %s must be resolved before sending", ErrCommandRejected, c.ID)
	}
	maxRepeat := c.MaxRepeat
	if maxRepeat == 0 {
		maxRepeat = 1
	}
	repeat := p.Repeat
	if repeat == 0 {
		repeat = 1
	}
	if repeat < 0 || repeat > maxRepeat {
		return nil, fmt.Errorf("%w: %s: repeat must be 1-%d, got %d", ErrInvalidParameter, c.ID, maxRepeat, p.Repeat)
	}

	var arg string
	switch c.Kind {
	case ParamNone:
		if p.Value != nil || p.Choice != "" {
			return nil, fmt.Errorf("%w: %s takes no parameter", ErrInvalidParameter, c.ID)
		}
	case ParamNumber:
		if p.Value == nil {
			return nil, fmt.Errorf("%w: %s requires a value", ErrInvalidParameter, c.ID)
		}
		s, err := c.Number.render(*p.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidParameter, c.ID, err)
		}
		arg = s
	case ParamChoice:
		if p.Value != nil {
			return nil, fmt.Errorf("%w: %s takes a choice, not a value", ErrInvalidParameter, c.ID)
		}
		i := slices.IndexFunc(c.Choices, func(s string) bool { return strings.EqualFold(s, p.Choice) })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s: unknown choice %q", ErrInvalidParameter, c.ID, p.Choice)
		}
		arg = c.Choices[i]
	}

	line := c.Raw + arg
	lines := make([]string, repeat)
	for i := range lines {
		lines[i] = line
	}
	return lines, nil
}

func (r NumberRule) render(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("value must be finite")
	}
	if v < r.Min || v > r.Max {
		return "", fmt.Errorf("value %g outside [%g, %g]", v, r.Min, r.Max)
	}
	if r.Step > 0 {
		steps := (v - r.Min) / r.Step
		if math.Abs(steps-math.Round(steps)) > 1e-9 {
			return "", fmt.Errorf("value %g is not a multiple of %g", v, r.Step)
		}
	}

	switch r.Format {
	case FormatTwoDigit:
		return fmt.Sprintf("%02d", int(v)), nil
	case FormatThreeDigit:
		return fmt.Sprintf("%03d", int(v)), nil
	default:
		return formatVolume(v), nil
	}
}

// formatVolume renders a raw volume in the protocol's MV notation.
func formatVolume(v float64) string {
	whole := int(v)
	s := fmt.Sprintf("%02d", whole)
	if v-float64(whole) >= VolumeResolution {
		s += "5"
	}
	return s
}

// parseVolume parses MV notation: two digits, or three for a half step.
func parseVolume(s string) (float64, bool) {
	if len(s) < 2 || len(s) > 3 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	if len(s) == 3 {
		return float64(n) / 10, true
	}
	return float64(n), true
}

// Table is the set of commands legal for one device. It is built once per
// session and never modified.
type Table struct {
	identity DeviceIdentity
	mode     ConnectionMode
	specs    map[string]CommandSpec

	// needStream holds applicable commands dropped because mode has no
	// telnet connection.
	needStream map[string]struct{}
}

// NewTable resolves the catalog for a device identity and connection mode.
// Stream-only commands are kept only when mode includes telnet.
func NewTable(id DeviceIdentity, mode ConnectionMode) *Table {
	t := &Table{
		identity:   id,
		mode:       mode,
		specs:      make(map[string]CommandSpec, len(catalog)),
		needStream: make(map[string]struct{}),
	}
	for _, c := range catalog {
		if !c.appliesTo(id) {
			continue
		}
		if c.StreamOnly && !mode.HasStream() {
			t.needStream[c.ID] = struct{}{}
			continue
		}
		t.specs[c.ID] = c
	}
	return t
}

// Lookup returns the spec for a command ID. Unknown, reserved and
// inapplicable commands return ErrCommandRejected.
func (t *Table) Lookup(id string) (CommandSpec, error) {
	if strings.HasPrefix(id, reservedPrefix) {
		return CommandSpec{}, fmt.Errorf("%w: %q is not allowed", ErrCommandRejected, id)
	}
	c, ok := t.specs[id]
	if !ok {
		if _, stream := t.needStream[id]; stream {
			return CommandSpec{}, fmt.Errorf("%w: %q requires a telnet connection, mode is %s", ErrCommandRejected, id, t.mode)
		}
		return CommandSpec{}, fmt.Errorf("%w: %q not supported by %s", ErrCommandRejected, id, t.identity.Manufacturer)
	}
	return c, nil
}

// Render looks up a command and renders it with p.
func (t *Table) Render(id string, p Params) ([]string, error) {
	c, err := t.Lookup(id)
	if err != nil {
		return nil, err
	}
	return c.Render(p)
}

// Len returns the number of commands in the table.
func (t *Table) Len() int { return len(t.specs) }

// Commands returns all specs sorted by ID.
func (t *Table) Commands() []CommandSpec {
	out := make([]CommandSpec, 0, len(t.specs))
	for _, c := range t.specs {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b CommandSpec) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Catalog returns every known command regardless of applicability.
func Catalog() []CommandSpec {
	return slices.Clone(catalog)
}

var catalog = withToggles(slices.Concat(mediaCommands(), zoneCommands(), queryCommands(), simpleCommands()))
