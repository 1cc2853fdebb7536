package avr

import (
	"strings"
	"sync"
)

// Toggle resolves a command from a setting's last reported value. A
// setting reported as Active resolves to Deactivate; any other or unknown
// value resolves to Activate.
type Toggle struct {
	// Prefix starts the status line that reports the setting.
	Prefix string `json:"prefix"`

	Active   string `json:"active"`
	Inactive string `json:"inactive"`

	Activate   string `json:"activate"`
	Deactivate string `json:"deactivate"`
}

// match returns the setting value carried by line.
func (t Toggle) match(line string) (active, ok bool) {
	v, found := strings.CutPrefix(line, t.Prefix)
	if !found {
		return false, false
	}
	switch strings.TrimSpace(v) {
	case t.Active:
		return true, true
	case t.Inactive:
		return false, true
	}
	return false, false
}

type toggleDef struct {
	id string
	Toggle
}

func tog(id, prefix, active, inactive, activate, deactivate string) toggleDef {
	return toggleDef{id: id, Toggle: Toggle{
		Prefix:     prefix,
		Active:     active,
		Inactive:   inactive,
		Activate:   activate,
		Deactivate: deactivate,
	}}
}

func onOff(id, prefix, on, off string) toggleDef {
	return tog(id, prefix, "ON", "OFF", on, off)
}

// Receivers only push these settings over telnet, so their toggles are
// stream-only.
var toggleDefs = []toggleDef{
	tog("SPEAKER_PRESET_TOGGLE", "SPPR ", "1", "2", "SPEAKER_PRESET_1", "SPEAKER_PRESET_2"),
	onOff("BT_TRANSMITTER_TOGGLE", "BTTX ", "BT_TRANSMITTER_ON", "BT_TRANSMITTER_OFF"),
	tog("BT_OUTPUT_MODE_TOGGLE", "BTTX ", "SP", "BT", "BT_OUTPUT_MODE_BT_SPEAKER", "BT_OUTPUT_MODE_BT_ONLY"),
	onOff("GRAPHIC_EQ_TOGGLE", "PSGEQ ", "GRAPHIC_EQ_ON", "GRAPHIC_EQ_OFF"),
	onOff("HEADPHONE_EQ_TOGGLE", "PSHEQ ", "HEADPHONE_EQ_ON", "HEADPHONE_EQ_OFF"),
	onOff("SOUND_MODE_NEURAL_X_TOGGLE", "PSNEURAL ", "SOUND_MODE_NEURAL_X_ON", "SOUND_MODE_NEURAL_X_OFF"),
	tog("SOUND_MODE_IMAX_TOGGLE", "PSIMAX ", "AUTO", "OFF", "SOUND_MODE_IMAX_AUTO", "SOUND_MODE_IMAX_OFF"),
	tog("IMAX_AUDIO_SETTINGS_TOGGLE", "PSIMAXAUD ", "AUTO", "MANUAL", "IMAX_AUDIO_SETTINGS_AUTO", "IMAX_AUDIO_SETTINGS_MANUAL"),
	onOff("CINEMA_EQ_TOGGLE", "PSCINEMA EQ.", "CINEMA_EQ_ON", "CINEMA_EQ_OFF"),
	onOff("CENTER_SPREAD_TOGGLE", "PSCES ", "CENTER_SPREAD_ON", "CENTER_SPREAD_OFF"),
	onOff("LOUDNESS_MANAGEMENT_TOGGLE", "PSLOM ", "LOUDNESS_MANAGEMENT_ON", "LOUDNESS_MANAGEMENT_OFF"),
	onOff("SPEAKER_VIRTUALIZER_TOGGLE", "PSSPV ", "SPEAKER_VIRTUALIZER_ON", "SPEAKER_VIRTUALIZER_OFF"),
	onOff("DYNAMIC_EQ_TOGGLE", "PSDYNEQ ", "DYNAMIC_EQ_ON", "DYNAMIC_EQ_OFF"),
	onOff("AUDYSSEY_LFC_TOGGLE", "PSLFC ", "AUDYSSEY_LFC", "AUDYSSEY_LFC_OFF"),
	onOff("SUBWOOFER_TOGGLE", "PSSWR ", "SUBWOOFER_ON", "SUBWOOFER_OFF"),
}

// withToggles appends a toggle spec for each definition whose commands are
// in specs. A toggle inherits the applicability of its Activate command.
func withToggles(specs []CommandSpec) []CommandSpec {
	byID := make(map[string]CommandSpec, len(specs))
	for _, c := range specs {
		byID[c.ID] = c
	}
	for _, def := range toggleDefs {
		on, okOn := byID[def.Activate]
		_, okOff := byID[def.Deactivate]
		if !okOn || !okOff {
			panic("avr: toggle " + def.id + " names an unknown command")
		}
		toggle := def.Toggle
		specs = append(specs, CommandSpec{
			ID:                def.id,
			Category:          on.Category,
			Manufacturers:     on.Manufacturers,
			RequiresSoundMode: on.RequiresSoundMode,
			StreamOnly:        true,
			Toggle:            &toggle,
		})
	}
	return specs
}

// settingTracker keeps the last reported value of every toggle setting in
// a table. It is fed protocol lines and forgets everything on reset.
type settingTracker struct {
	toggles []CommandSpec

	mu     sync.Mutex
	active map[string]bool
}

func newSettingTracker(t *Table) *settingTracker {
	st := &settingTracker{active: make(map[string]bool)}
	for _, c := range t.Commands() {
		if c.Toggle != nil {
			st.toggles = append(st.toggles, c)
		}
	}
	return st
}

func (st *settingTracker) observe(lines []string) {
	if len(st.toggles) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, c := range st.toggles {
			if active, ok := c.Toggle.match(line); ok {
				st.active[c.ID] = active
			}
		}
	}
}

// resolve returns the command a toggle stands for right now.
func (st *settingTracker) resolve(c CommandSpec) string {
	st.mu.Lock()
	active := st.active[c.ID]
	st.mu.Unlock()
	if active {
		return c.Toggle.Deactivate
	}
	return c.Toggle.Activate
}

func (st *settingTracker) reset() {
	st.mu.Lock()
	clear(st.active)
	st.mu.Unlock()
}
