package automation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateScene(t *testing.T) {
	validAction := SceneAction{DeviceID: "avr-living", Command: "power_on"}
	desc := strings.Repeat("d", 501)

	tests := []struct {
		name    string
		scene   *Scene
		wantErr error
	}{
		{
			name:  "valid scene",
			scene: &Scene{Name: "Movie Night", Category: CategoryMovie, Actions: []SceneAction{validAction}},
		},
		{
			name:    "nil scene",
			scene:   nil,
			wantErr: ErrInvalidScene,
		},
		{
			name:    "empty name",
			scene:   &Scene{Name: "", Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidName,
		},
		{
			name:    "whitespace-only name",
			scene:   &Scene{Name: "   ", Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidName,
		},
		{
			name:    "name too long",
			scene:   &Scene{Name: strings.Repeat("a", 101), Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidName,
		},
		{
			name:    "invalid slug",
			scene:   &Scene{Name: "Movie", Slug: "Movie Night", Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidSlug,
		},
		{
			name:    "description too long",
			scene:   &Scene{Name: "Movie", Description: &desc, Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidScene,
		},
		{
			name:    "unknown category",
			scene:   &Scene{Name: "Movie", Category: "lighting", Actions: []SceneAction{validAction}},
			wantErr: ErrInvalidScene,
		},
		{
			name:    "no actions",
			scene:   &Scene{Name: "Movie"},
			wantErr: ErrNoActions,
		},
		{
			name:    "too many actions",
			scene:   &Scene{Name: "Movie", Actions: make([]SceneAction, 101)},
			wantErr: ErrInvalidAction,
		},
		{
			name:    "invalid action",
			scene:   &Scene{Name: "Movie", Actions: []SceneAction{validAction, {Command: "power_on"}}},
			wantErr: ErrInvalidAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScene(tt.scene)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateScene() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateScene() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAction(t *testing.T) {
	tests := []struct {
		name    string
		action  SceneAction
		wantErr bool
	}{
		{"command", SceneAction{DeviceID: "avr", Command: "power_on"}, false},
		{"command with value", SceneAction{DeviceID: "avr", Command: "volume", Value: ptr(45.5)}, false},
		{"sequence", SceneAction{DeviceID: "avr", Sequence: []string{"cursor_down", "cursor_enter"}, Repeat: 3}, false},
		{"max repeat", SceneAction{DeviceID: "avr", Command: "volume_up", Repeat: 20}, false},
		{"max delay", SceneAction{DeviceID: "avr", Command: "power_on", DelayMS: 300000}, false},
		{"missing device", SceneAction{Command: "power_on"}, true},
		{"missing command and sequence", SceneAction{DeviceID: "avr"}, true},
		{"command and sequence", SceneAction{DeviceID: "avr", Command: "power_on", Sequence: []string{"mute_on"}}, true},
		{"blank sequence entry", SceneAction{DeviceID: "avr", Sequence: []string{"mute_on", " "}}, true},
		{"sequence too long", SceneAction{DeviceID: "avr", Sequence: longSequence()}, true},
		{"negative repeat", SceneAction{DeviceID: "avr", Command: "volume_up", Repeat: -1}, true},
		{"repeat over cap", SceneAction{DeviceID: "avr", Command: "volume_up", Repeat: 21}, true},
		{"negative delay", SceneAction{DeviceID: "avr", Command: "power_on", DelayMS: -1}, true},
		{"delay too long", SceneAction{DeviceID: "avr", Command: "power_on", DelayMS: 300001}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAction(tt.action)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAction) {
				t.Errorf("error %v does not wrap ErrInvalidAction", err)
			}
		})
	}
}

// longSequence returns a sequence one longer than allowed.
func longSequence() []string {
	seq := make([]string, maxSequenceLength+1)
	for i := range seq {
		seq[i] = "cursor_down"
	}
	return seq
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple name", "Movie Night", "movie-night"},
		{"underscores", "good_morning", "good-morning"},
		{"special characters", "Hello World! #1", "hello-world-1"},
		{"multiple spaces", "all  off", "all-off"},
		{"leading trailing spaces", "  test  ", "test"},
		{"numbers", "scene 42", "scene-42"},
		{"already slug", "cinema-mode", "cinema-mode"},
		{"uppercase", "ALL ZONES OFF", "all-zones-off"},
		{
			"long name truncated",
			strings.Repeat("long-name-", 10),
			"long-name-long-name-long-name-long-name-long-name", // 50 chars, trailing hyphen trimmed
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateSlug(tt.input)
			if got != tt.want {
				t.Errorf("GenerateSlug(%q) = %q, want %q", tt.input, got, tt.want)
			}
			// Verify result is a valid slug
			if got != "" {
				if err := ValidateSlug(got); err != nil {
					t.Errorf("GenerateSlug(%q) produced invalid slug %q: %v", tt.input, got, err)
				}
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" {
		t.Error("GenerateID returned empty string")
	}
	if id1 == id2 {
		t.Error("GenerateID returned duplicate IDs")
	}
	// UUID format: 8-4-4-4-12 hex characters
	if len(id1) != 36 {
		t.Errorf("GenerateID length = %d, want 36", len(id1))
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "Cinema Mode", false},
		{"single char", "A", false},
		{"max length", strings.Repeat("a", 100), false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid slug", "cinema-mode", false},
		{"numbers", "scene-42", false},
		{"single word", "test", false},
		{"empty", "", true},
		{"uppercase", "Cinema", true},
		{"spaces", "cinema mode", true},
		{"special chars", "cinema_mode", true},
		{"leading hyphen", "-cinema", true},
		{"trailing hyphen", "cinema-", true},
		{"double hyphen", "cinema--mode", true},
		{"too long", strings.Repeat("a", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSlug(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSlug(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
