package automation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// ─── Helper ─────────────────────────────────────────────────────────────────

func setupEngine(t *testing.T) (*Engine, *mockCommander, *mockRepository, *Registry) {
	t.Helper()

	repo := newMockRepository()
	registry := NewRegistry(repo)
	receivers := newMockCommander("avr-living", "avr-kitchen")

	engine := NewEngine(registry, receivers, repo, noopLogger{})
	return engine, receivers, repo, registry
}

func createTestScene(t *testing.T, registry *Registry, id, name string, actions []SceneAction) {
	t.Helper()
	scene := &Scene{
		ID:      id,
		Name:    name,
		Enabled: true,
		Actions: actions,
	}
	if err := registry.CreateScene(context.Background(), scene); err != nil {
		t.Fatalf("CreateScene(%s): %v", id, err)
	}
}

// ─── ActivateScene ──────────────────────────────────────────────────────────

func TestActivateScene_SequentialOrder(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "movie", "Movie Night", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-living", Command: "select_source", Choice: "BD"},
		{DeviceID: "avr-living", Command: "volume", Value: ptr(45.5)},
	})

	exec, err := engine.ActivateScene(context.Background(), "movie", "manual", "api")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", exec.Status, StatusCompleted)
	}
	if exec.ActionsTotal != 3 || exec.ActionsCompleted != 3 {
		t.Errorf("counts = %d/%d, want 3/3", exec.ActionsCompleted, exec.ActionsTotal)
	}

	got := receivers.commands()
	want := []string{"power_on", "select_source", "volume"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}

	calls := receivers.getCalls()
	if calls[1].Params.Choice != "BD" {
		t.Errorf("select_source choice = %q, want BD", calls[1].Params.Choice)
	}
	if calls[2].Params.Value == nil || *calls[2].Params.Value != 45.5 {
		t.Errorf("volume value = %v, want 45.5", calls[2].Params.Value)
	}
}

func TestActivateScene_ParallelGroup(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "all-on", "All On", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-kitchen", Command: "power_on", Parallel: true},
		{DeviceID: "avr-kitchen", Command: "mute_on"},
	})

	exec, err := engine.ActivateScene(context.Background(), "all-on", "", "")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", exec.Status)
	}
	if exec.TriggerType != "manual" {
		t.Errorf("TriggerType = %q, want manual default", exec.TriggerType)
	}
	if exec.TriggerSource != nil {
		t.Errorf("TriggerSource = %v, want nil", *exec.TriggerSource)
	}

	calls := receivers.getCalls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[2].Command != "mute_on" {
		t.Errorf("last call = %q, want mute_on after the parallel group", calls[2].Command)
	}
}

func TestActivateScene_Sequence(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "menu", "Open Menu", []SceneAction{
		{DeviceID: "avr-living", Sequence: []string{"cursor_down", "cursor_enter"}, Repeat: 2},
	})

	if _, err := engine.ActivateScene(context.Background(), "menu", "manual", "api"); err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	calls := receivers.getCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if fmt.Sprint(calls[0].Sequence) != "[cursor_down cursor_enter]" || calls[0].Repeat != 2 {
		t.Errorf("sequence call = %+v", calls[0])
	}
}

func TestActivateScene_NotFound(t *testing.T) {
	engine, _, _, _ := setupEngine(t)

	_, err := engine.ActivateScene(context.Background(), "missing", "manual", "api")
	if !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("error = %v, want ErrSceneNotFound", err)
	}
}

func TestActivateScene_Disabled(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	scene := &Scene{
		ID:      "off",
		Name:    "Disabled",
		Enabled: false,
		Actions: []SceneAction{{DeviceID: "avr-living", Command: "power_on"}},
	}
	if err := registry.CreateScene(context.Background(), scene); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	_, err := engine.ActivateScene(context.Background(), "off", "manual", "api")
	if !errors.Is(err, ErrSceneDisabled) {
		t.Errorf("error = %v, want ErrSceneDisabled", err)
	}
	if n := len(receivers.getCalls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestActivateScene_FailFast(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	receivers.failOn["sound_mode"] = fmt.Errorf("%w: %q not supported by marantz", avr.ErrCommandRejected, "sound_mode")
	createTestScene(t, registry, "ff", "Fail Fast", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-living", Command: "sound_mode", Choice: "MOVIE"},
		{DeviceID: "avr-living", Command: "volume", Value: ptr(40.0)},
	})

	exec, err := engine.ActivateScene(context.Background(), "ff", "manual", "api")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", exec.Status)
	}
	if exec.ActionsCompleted != 1 || exec.ActionsFailed != 1 || exec.ActionsSkipped != 1 {
		t.Errorf("counts completed/failed/skipped = %d/%d/%d, want 1/1/1",
			exec.ActionsCompleted, exec.ActionsFailed, exec.ActionsSkipped)
	}
	if len(exec.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(exec.Failures))
	}
	f := exec.Failures[0]
	if f.ActionIndex != 1 || f.Command != "sound_mode" || f.ErrorCode != "INVALID_COMMAND" {
		t.Errorf("failure = %+v", f)
	}
	if got := receivers.commands(); len(got) != 2 {
		t.Errorf("commands = %v, want volume skipped", got)
	}
}

func TestActivateScene_ContinueOnError(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "partial", "Partial", []SceneAction{
		{DeviceID: "avr-garage", Command: "power_on", ContinueOnError: true},
		{DeviceID: "avr-living", Command: "power_on"},
	})

	exec, err := engine.ActivateScene(context.Background(), "partial", "manual", "api")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusPartial {
		t.Errorf("Status = %q, want partial", exec.Status)
	}
	if len(exec.Failures) != 1 || exec.Failures[0].ErrorCode != "DEVICE_NOT_FOUND" {
		t.Errorf("failures = %+v, want one DEVICE_NOT_FOUND", exec.Failures)
	}
	if got := receivers.commands(); len(got) != 1 || got[0] != "power_on" {
		t.Errorf("commands = %v, want the living room power_on", got)
	}
}

func TestActivateScene_FailureIndexIsSceneRelative(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	receivers.failOn["mute_on"] = avr.ErrQueueFull
	createTestScene(t, registry, "idx", "Index", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-kitchen", Command: "power_on"},
		{DeviceID: "avr-kitchen", Command: "mute_on", Parallel: true, ContinueOnError: true},
	})

	exec, err := engine.ActivateScene(context.Background(), "idx", "manual", "api")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if len(exec.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(exec.Failures))
	}
	if exec.Failures[0].ActionIndex != 2 || exec.Failures[0].ErrorCode != "DEVICE_BUSY" {
		t.Errorf("failure = %+v, want index 2 DEVICE_BUSY", exec.Failures[0])
	}
}

func TestActivateScene_Delay(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "warm-up", "Warm Up", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-living", Command: "select_source", Choice: "TV", DelayMS: 50},
	})

	if _, err := engine.ActivateScene(context.Background(), "warm-up", "manual", "api"); err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	calls := receivers.getCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	if gap := calls[1].At.Sub(calls[0].At); gap < 50*time.Millisecond {
		t.Errorf("gap = %v, want >= 50ms", gap)
	}
}

func TestActivateScene_Cancelled(t *testing.T) {
	engine, receivers, _, registry := setupEngine(t)
	createTestScene(t, registry, "c", "Cancelled", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
		{DeviceID: "avr-living", Command: "mute_on"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec, err := engine.ActivateScene(ctx, "c", "manual", "api")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusCancelled {
		t.Errorf("Status = %q, want cancelled", exec.Status)
	}
	if exec.ActionsSkipped != 2 {
		t.Errorf("ActionsSkipped = %d, want 2", exec.ActionsSkipped)
	}
	if n := len(receivers.getCalls()); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestActivateScene_RecordsExecution(t *testing.T) {
	engine, _, repo, registry := setupEngine(t)
	createTestScene(t, registry, "rec", "Recorded", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
	})

	exec, err := engine.ActivateScene(context.Background(), "rec", "mqtt", "remote")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	stored, err := repo.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Errorf("stored Status = %q, want completed", stored.Status)
	}
	if stored.TriggerType != "mqtt" || stored.TriggerSource == nil || *stored.TriggerSource != "remote" {
		t.Errorf("stored trigger = %q/%v", stored.TriggerType, stored.TriggerSource)
	}
	if stored.DurationMS == nil || stored.CompletedAt == nil {
		t.Error("stored execution missing completion fields")
	}
}

func TestActivateScene_PrunesHistory(t *testing.T) {
	engine, _, repo, registry := setupEngine(t)
	createTestScene(t, registry, "busy", "Busy", []SceneAction{
		{DeviceID: "avr-living", Command: "power_on"},
	})

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range maxExecutionLimit {
		repo.executions[fmt.Sprintf("old-%03d", i)] = &SceneExecution{
			ID:          fmt.Sprintf("old-%03d", i),
			SceneID:     "busy",
			TriggeredAt: old.Add(time.Duration(i) * time.Minute),
			Status:      StatusCompleted,
		}
	}

	exec, err := engine.ActivateScene(context.Background(), "busy", TriggerManual, "")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	if n := len(repo.executions); n != maxExecutionLimit {
		t.Errorf("executions = %d, want %d", n, maxExecutionLimit)
	}
	if _, ok := repo.executions[exec.ID]; !ok {
		t.Error("new execution pruned")
	}
	if _, ok := repo.executions["old-000"]; ok {
		t.Error("oldest execution kept")
	}
}

func TestActivateScene_NilRepository(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)
	receivers := newMockCommander("avr-living")
	createTestScene(t, registry, "s", "Scene", []SceneAction{{DeviceID: "avr-living", Command: "power_on"}})

	engine := NewEngine(registry, receivers, nil, nil)
	exec, err := engine.ActivateScene(context.Background(), "s", "manual", "")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}
	if exec.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", exec.Status)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func TestGroupActions(t *testing.T) {
	a := SceneAction{DeviceID: "a"}
	b := SceneAction{DeviceID: "b", Parallel: true}
	c := SceneAction{DeviceID: "c", Parallel: true}
	d := SceneAction{DeviceID: "d"}

	tests := []struct {
		name    string
		actions []SceneAction
		want    []int
	}{
		{"empty", nil, nil},
		{"single", []SceneAction{a}, []int{1}},
		{"all sequential", []SceneAction{a, d, a}, []int{1, 1, 1}},
		{"parallel then sequential", []SceneAction{a, b, c, d}, []int{3, 1}},
		{"first parallel flag ignored", []SceneAction{b, c}, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := groupActions(tt.actions)
			var sizes []int
			for _, g := range groups {
				sizes = append(sizes, len(g))
			}
			if fmt.Sprint(sizes) != fmt.Sprint(tt.want) {
				t.Errorf("group sizes = %v, want %v", sizes, tt.want)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{avr.ErrDeviceNotFound, "DEVICE_NOT_FOUND"},
		{avr.ErrCommandRejected, "INVALID_COMMAND"},
		{fmt.Errorf("device %q: %w", "x", avr.ErrInvalidParameter), "INVALID_PARAMETERS"},
		{avr.ErrNotConnected, "DEVICE_UNREACHABLE"},
		{avr.ErrConnectionLost, "DEVICE_UNREACHABLE"},
		{avr.ErrQueueFull, "DEVICE_BUSY"},
		{avr.ErrTimeout, "TIMEOUT"},
		{context.DeadlineExceeded, "TIMEOUT"},
		{avr.ErrProtocolError, "PROTOCOL_ERROR"},
		{errors.New("boom"), "EXECUTION_FAILED"},
	}

	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
