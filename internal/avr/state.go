package avr

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Reconciler is the single writer of one device's DeviceState.
//
// Updates from any source are merged field by field in arrival order. Each
// call to Apply that changes at least one field produces exactly one
// StateChange, delivered to the change handler in application order.
//
// The change handler runs synchronously and must not call Apply.
type Reconciler struct {
	deviceID string

	// emitMu serialises apply+emit so handlers observe changes in order.
	emitMu sync.Mutex

	mu    sync.RWMutex
	state DeviceState
	// rawVolume is the last main volume the device reported, before
	// clamping, so a later MVMAX can re-clamp it.
	rawVolume *float64

	handlerMu sync.RWMutex
	onChange  func(StateChange)

	applied atomic.Uint64
	ignored atomic.Uint64
}

// NewReconciler creates a reconciler with every field unknown and the
// default safe maximum volume.
func NewReconciler(deviceID string) *Reconciler {
	return &Reconciler{
		deviceID: deviceID,
		state: DeviceState{
			Power:     PowerUnknown,
			MaxVolume: DefaultMaxVolume,
		},
	}
}

// SetOnChange sets the change handler.
func (r *Reconciler) SetOnChange(fn func(StateChange)) {
	r.handlerMu.Lock()
	r.onChange = fn
	r.handlerMu.Unlock()
}

// State returns a snapshot of the current state.
func (r *Reconciler) State() DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Stats returns the number of applied updates and ignored lines.
func (r *Reconciler) Stats() (applied, ignored uint64) {
	return r.applied.Load(), r.ignored.Load()
}

// ApplyLines parses and applies a batch of protocol lines in one pass.
// Lines that carry no tracked state are counted and skipped.
func (r *Reconciler) ApplyLines(lines ...string) (StateChange, bool) {
	var updates []Update
	for _, line := range lines {
		u := ParseEvent(line)
		if len(u) == 0 {
			r.ignored.Add(1)
			continue
		}
		updates = append(updates, u...)
	}
	if len(updates) == 0 {
		return StateChange{}, false
	}
	return r.Apply(updates...)
}

// Apply merges updates into the state. It returns the emitted change and
// true if any field changed.
func (r *Reconciler) Apply(updates ...Update) (StateChange, bool) {
	return r.mutate(func(s *DeviceState) {
		for _, u := range updates {
			r.applyUpdate(s, u)
		}
		r.applied.Add(uint64(len(updates)))
	})
}

// MarkReachable records that a transport connected.
// Power is not asserted; it is learned from protocol events.
func (r *Reconciler) MarkReachable() (StateChange, bool) {
	return r.mutate(func(s *DeviceState) {
		s.Reachable = true
	})
}

// MarkUnreachable records that no transport is connected and resets dynamic
// fields to unknown. When holdPower is set the last known power state is
// kept.
func (r *Reconciler) MarkUnreachable(holdPower bool) (StateChange, bool) {
	return r.mutate(func(s *DeviceState) {
		power := s.Power
		r.rawVolume = nil
		*s = DeviceState{
			MaxVolume:         s.MaxVolume,
			MaxVolumeReported: s.MaxVolumeReported,
			Power:             PowerUnknown,
		}
		if holdPower {
			s.Power = power
		}
	})
}

func (r *Reconciler) mutate(fn func(*DeviceState)) (StateChange, bool) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	before := r.state
	fn(&r.state)
	after := r.state
	r.mu.Unlock()

	fields := diffFields(before, after)
	if len(fields) == 0 {
		return StateChange{}, false
	}

	change := StateChange{
		DeviceID:  r.deviceID,
		Fields:    fields,
		State:     after,
		Timestamp: time.Now(),
	}

	r.handlerMu.RLock()
	handler := r.onChange
	r.handlerMu.RUnlock()
	if handler != nil {
		handler(change)
	}
	return change, true
}

// applyUpdate writes one update. Pointer fields are always replaced, never
// written through, so earlier snapshots stay valid. Caller holds r.mu.
func (r *Reconciler) applyUpdate(s *DeviceState, u Update) {
	switch u.Kind {
	case UpdatePower:
		s.Power = u.Power
		if !u.Power.IsOn() {
			s.Title, s.Artist, s.Album, s.ImageURL = nil, nil, nil, nil
		}
	case UpdateVolume:
		r.rawVolume = ptr(u.Number)
		s.Volume = ptr(clampVolume(u.Number, s.MaxVolume))
	case UpdateMaxVolume:
		s.MaxVolume = clampVolume(u.Number, AbsoluteMaxVolume)
		s.MaxVolumeReported = true
		if r.rawVolume != nil {
			s.Volume = ptr(clampVolume(*r.rawVolume, s.MaxVolume))
		}
	case UpdateMute:
		s.Muted = ptr(u.Flag)
	case UpdateInput:
		s.Input = ptr(u.Text)
	case UpdateSoundMode:
		s.SoundMode = ptr(u.Text)
	case UpdateTitle:
		s.Title = optText(u.Text)
	case UpdateArtist:
		s.Artist = optText(u.Text)
	case UpdateAlbum:
		s.Album = optText(u.Text)
	case UpdateImageURL:
		s.ImageURL = optText(u.Text)
	case UpdateZonePower, UpdateZoneVolume, UpdateZoneMute, UpdateZoneInput:
		applyZone(s, u)
	case UpdateEcoMode:
		s.EcoMode = ptr(u.Text)
	case UpdateDimmer:
		s.Dimmer = ptr(u.Text)
	case UpdateSleep:
		s.Sleep = ptr(int(u.Number))
	case UpdateMultEQ:
		s.MultEQ = ptr(u.Text)
	}
}

func applyZone(s *DeviceState, u Update) {
	var slot **ZoneState
	switch u.Zone {
	case 2:
		slot = &s.Zone2
	case 3:
		slot = &s.Zone3
	default:
		return
	}

	z := ZoneState{Power: PowerUnknown}
	if *slot != nil {
		z = **slot
	}
	switch u.Kind {
	case UpdateZonePower:
		z.Power = u.Power
	case UpdateZoneVolume:
		z.Volume = ptr(clampVolume(u.Number, AbsoluteMaxVolume))
	case UpdateZoneMute:
		z.Muted = ptr(u.Flag)
	case UpdateZoneInput:
		z.Input = ptr(u.Text)
	}
	*slot = &z
}

// clampVolume limits v to [0, max] on the half-step grid.
func clampVolume(v, maxVolume float64) float64 {
	v = math.Round(v/VolumeResolution) * VolumeResolution
	switch {
	case v < 0:
		return 0
	case v > maxVolume:
		return maxVolume
	}
	return v
}

func diffFields(a, b DeviceState) []Field {
	var out []Field
	add := func(changed bool, f Field) {
		if changed {
			out = append(out, f)
		}
	}
	add(a.Reachable != b.Reachable, FieldReachable)
	add(a.Power != b.Power, FieldPower)
	add(!eqPtr(a.Volume, b.Volume), FieldVolume)
	add(a.MaxVolume != b.MaxVolume || a.MaxVolumeReported != b.MaxVolumeReported, FieldMaxVolume)
	add(!eqPtr(a.Muted, b.Muted), FieldMuted)
	add(!eqPtr(a.Input, b.Input), FieldInput)
	add(!eqPtr(a.SoundMode, b.SoundMode), FieldSoundMode)
	add(!eqPtr(a.Title, b.Title), FieldTitle)
	add(!eqPtr(a.Artist, b.Artist), FieldArtist)
	add(!eqPtr(a.Album, b.Album), FieldAlbum)
	add(!eqPtr(a.ImageURL, b.ImageURL), FieldImageURL)
	add(!eqZone(a.Zone2, b.Zone2), FieldZone2)
	add(!eqZone(a.Zone3, b.Zone3), FieldZone3)
	add(!eqPtr(a.EcoMode, b.EcoMode), FieldEcoMode)
	add(!eqPtr(a.Dimmer, b.Dimmer), FieldDimmer)
	add(!eqPtr(a.Sleep, b.Sleep), FieldSleep)
	add(!eqPtr(a.MultEQ, b.MultEQ), FieldMultEQ)
	return out
}

func eqZone(a, b *ZoneState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Power == b.Power && eqPtr(a.Volume, b.Volume) &&
		eqPtr(a.Muted, b.Muted) && eqPtr(a.Input, b.Input)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptr[T any](v T) *T { return &v }

func optText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
