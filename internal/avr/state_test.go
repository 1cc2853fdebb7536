package avr

import (
	"slices"
	"testing"
)

func TestReconcilerInitialState(t *testing.T) {
	r := NewReconciler("avr")
	s := r.State()
	if s.Power != PowerUnknown {
		t.Errorf("Power = %q, want unknown", s.Power)
	}
	if s.Volume != nil || s.Muted != nil || s.Input != nil || s.SoundMode != nil {
		t.Error("dynamic fields should start unknown")
	}
	if s.MaxVolume != DefaultMaxVolume || s.MaxVolumeReported {
		t.Errorf("MaxVolume = %v (reported %v), want default %v", s.MaxVolume, s.MaxVolumeReported, DefaultMaxVolume)
	}
}

func TestReconcilerVolumeClamp(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  float64
	}{
		{"within default max", []string{"MV50"}, 50},
		{"above default max", []string{"MV90"}, DefaultMaxVolume},
		{"after reported max", []string{"MVMAX 98", "MV90"}, 90},
		{"above reported max", []string{"MVMAX 60", "MV70"}, 60},
		{"lowered max reclamps", []string{"MVMAX 98", "MV90", "MVMAX 70"}, 70},
		{"late max restores reported volume", []string{"MV85", "MVMAX 98"}, 85},
		{"raised max restores up to new max", []string{"MV95", "MVMAX 90"}, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler("avr")
			for _, line := range tt.lines {
				r.ApplyLines(line)
			}
			s := r.State()
			if s.Volume == nil {
				t.Fatal("Volume is nil")
			}
			if *s.Volume != tt.want {
				t.Errorf("Volume = %v, want %v", *s.Volume, tt.want)
			}
			if *s.Volume < 0 || *s.Volume > s.MaxVolume {
				t.Errorf("Volume %v outside [0, %v]", *s.Volume, s.MaxVolume)
			}
		})
	}
}

func TestReconcilerMaxVolumeInSamePass(t *testing.T) {
	r := NewReconciler("avr")
	var changes []StateChange
	r.SetOnChange(func(c StateChange) { changes = append(changes, c) })

	// A reply to MV? carries the volume before the maximum.
	r.ApplyLines("MV85", "MVMAX 98")

	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	s := changes[0].State
	if s.Volume == nil || *s.Volume != 85 {
		t.Errorf("Volume = %v, want 85", s.Volume)
	}
	if s.MaxVolume != 98 || !s.MaxVolumeReported {
		t.Errorf("MaxVolume = %v reported=%v, want 98 reported", s.MaxVolume, s.MaxVolumeReported)
	}

	// Raw volume does not survive a disconnect.
	r.MarkUnreachable(true)
	r.ApplyLines("MVMAX 90")
	if v := r.State().Volume; v != nil {
		t.Errorf("Volume after unreachable = %v, want nil", *v)
	}
}

func TestReconcilerVolumeClampInEveryChange(t *testing.T) {
	r := NewReconciler("avr")
	var changes []StateChange
	r.SetOnChange(func(c StateChange) { changes = append(changes, c) })

	r.Apply(Update{Kind: UpdateVolume, Number: 200})
	r.Apply(Update{Kind: UpdateVolume, Number: -5})
	r.Apply(Update{Kind: UpdateMaxVolume, Number: 98}, Update{Kind: UpdateVolume, Number: 97.5})
	r.Apply(Update{Kind: UpdateMaxVolume, Number: 40})

	if len(changes) != 4 {
		t.Fatalf("got %d changes, want 4", len(changes))
	}
	for i, c := range changes {
		v := c.State.Volume
		if v == nil {
			t.Fatalf("change %d has nil volume", i)
		}
		if *v < 0 || *v > c.State.MaxVolume {
			t.Errorf("change %d volume %v outside [0, %v]", i, *v, c.State.MaxVolume)
		}
	}
}

func TestReconcilerMaxVolumeOverridesDefaultOnce(t *testing.T) {
	r := NewReconciler("avr")
	var maxChanges int
	r.SetOnChange(func(c StateChange) {
		if c.Has(FieldMaxVolume) {
			maxChanges++
		}
	})

	// Volume up before any max is known: the safe default applies.
	r.ApplyLines("MV85")
	if got := *r.State().Volume; got != DefaultMaxVolume {
		t.Fatalf("Volume = %v, want clamped to default %v", got, DefaultMaxVolume)
	}

	r.ApplyLines("MVMAX 98")
	r.ApplyLines("MVMAX 98")
	r.ApplyLines("MV85", "MVMAX 98")

	if maxChanges != 1 {
		t.Errorf("max volume changed %d times, want 1", maxChanges)
	}
	s := r.State()
	if !s.MaxVolumeReported || s.MaxVolume != 98 {
		t.Errorf("MaxVolume = %v reported=%v, want 98 reported", s.MaxVolume, s.MaxVolumeReported)
	}
	if *s.Volume != 85 {
		t.Errorf("Volume = %v, want 85", *s.Volume)
	}
}

func TestReconcilerCoalescesOnePass(t *testing.T) {
	r := NewReconciler("avr")
	var changes []StateChange
	r.SetOnChange(func(c StateChange) { changes = append(changes, c) })

	r.ApplyLines("MV40", "MV41", "MV42", "MUON", "UNKNOWN LINE")

	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !slices.Equal(c.Fields, []Field{FieldVolume, FieldMuted}) {
		t.Errorf("Fields = %v, want [volume muted]", c.Fields)
	}
	if *c.State.Volume != 42 {
		t.Errorf("Volume = %v, want final value 42", *c.State.Volume)
	}
	if c.DeviceID != "avr" {
		t.Errorf("DeviceID = %q, want avr", c.DeviceID)
	}

	applied, ignored := r.Stats()
	if applied != 4 || ignored != 1 {
		t.Errorf("Stats() = %d, %d; want 4, 1", applied, ignored)
	}
}

func TestReconcilerNoChangeNoEvent(t *testing.T) {
	r := NewReconciler("avr")
	calls := 0
	r.SetOnChange(func(StateChange) { calls++ })

	r.ApplyLines("SICD")
	r.ApplyLines("SICD")
	if _, changed := r.ApplyLines("SICD"); changed {
		t.Error("re-applying same value reported a change")
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestReconcilerPowerOffClearsMedia(t *testing.T) {
	r := NewReconciler("avr")
	r.ApplyLines("PWON", "NSE1Title", "NSE2Artist", "NSE4Album")
	r.Apply(Update{Kind: UpdateImageURL, Text: "http://avr/art"})

	s := r.State()
	if s.Title == nil || *s.Title != "Title" || s.ImageURL == nil {
		t.Fatalf("media not set: %+v", s)
	}

	change, _ := r.ApplyLines("PWSTANDBY")
	s = r.State()
	if s.Title != nil || s.Artist != nil || s.Album != nil || s.ImageURL != nil {
		t.Error("media fields not cleared on standby")
	}
	for _, f := range []Field{FieldPower, FieldTitle, FieldArtist, FieldAlbum, FieldImageURL} {
		if !change.Has(f) {
			t.Errorf("change missing field %q", f)
		}
	}
}

func TestReconcilerSnapshotsAreImmutable(t *testing.T) {
	r := NewReconciler("avr")
	r.ApplyLines("MV30", "Z2ON", "Z220")
	before := r.State()

	r.ApplyLines("MV60", "Z230")

	if *before.Volume != 30 {
		t.Errorf("earlier snapshot volume changed to %v", *before.Volume)
	}
	if *before.Zone2.Volume != 20 {
		t.Errorf("earlier snapshot zone2 volume changed to %v", *before.Zone2.Volume)
	}
}

func TestReconcilerUnreachable(t *testing.T) {
	tests := []struct {
		name      string
		holdPower bool
		wantPower Power
	}{
		{"hold power", true, PowerOn},
		{"clear power", false, PowerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler("avr")
			r.MarkReachable()
			r.ApplyLines("PWON", "MVMAX 98", "MV50", "MUOFF", "SICD", "MSSTEREO")

			r.MarkUnreachable(tt.holdPower)
			s := r.State()

			if s.Reachable {
				t.Error("Reachable = true after MarkUnreachable")
			}
			if s.Power != tt.wantPower {
				t.Errorf("Power = %q, want %q", s.Power, tt.wantPower)
			}
			if s.Volume != nil || s.Muted != nil || s.Input != nil || s.SoundMode != nil {
				t.Error("dynamic fields not reset to unknown")
			}
			if s.MaxVolume != 98 {
				t.Errorf("MaxVolume = %v, want 98 retained", s.MaxVolume)
			}
		})
	}
}

func TestReconcilerReachableDoesNotAssertPower(t *testing.T) {
	r := NewReconciler("avr")
	r.MarkReachable()
	if got := r.State().Power; got != PowerUnknown {
		t.Errorf("Power = %q after MarkReachable, want unknown", got)
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, max, want float64
	}{
		{50, 80, 50},
		{50.3, 80, 50.5},
		{50.2, 80, 50},
		{-1, 80, 0},
		{81, 80, 80},
		{98, 98, 98},
	}
	for _, tt := range tests {
		if got := clampVolume(tt.in, tt.max); got != tt.want {
			t.Errorf("clampVolume(%v, %v) = %v, want %v", tt.in, tt.max, got, tt.want)
		}
	}
}
