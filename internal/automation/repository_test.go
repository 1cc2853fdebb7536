package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/avrlink/internal/infrastructure/database"
	"github.com/nerrad567/avrlink/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// testScene creates a test scene with the given ID and name.
func testScene(id, name string) *Scene {
	return &Scene{
		ID:      id,
		Name:    name,
		Slug:    GenerateSlug(name),
		Enabled: true,
		Actions: []SceneAction{
			{DeviceID: "avr-living", Command: "power_on"},
			{DeviceID: "avr-living", Command: "select_source", Choice: "BD", DelayMS: 2000},
		},
	}
}

func TestSQLiteRepository_Schedule(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	scene := testScene("scene-wake", "Wake Up")
	scene.Schedule = "30 6 * * 1-5"
	if err := repo.Create(ctx, scene); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, "scene-wake")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Schedule != "30 6 * * 1-5" {
		t.Errorf("Schedule = %q, want %q", got.Schedule, "30 6 * * 1-5")
	}

	got.Schedule = ""
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err = repo.GetByID(ctx, "scene-wake")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Schedule != "" {
		t.Errorf("Schedule after clear = %q, want empty", got.Schedule)
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("create success", func(t *testing.T) {
		scene := testScene("scene-01", "Movie Night")
		scene.Category = CategoryMovie

		if err := repo.Create(ctx, scene); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if scene.CreatedAt.IsZero() || scene.UpdatedAt.IsZero() {
			t.Error("timestamps not set")
		}
	})

	t.Run("duplicate ID", func(t *testing.T) {
		scene := testScene("scene-01", "Duplicate")
		if err := repo.Create(ctx, scene); !errors.Is(err, ErrSceneExists) {
			t.Errorf("expected ErrSceneExists, got: %v", err)
		}
	})

	t.Run("duplicate slug", func(t *testing.T) {
		scene := testScene("scene-99", "Movie Night")
		if err := repo.Create(ctx, scene); !errors.Is(err, ErrSceneExists) {
			t.Errorf("expected ErrSceneExists, got: %v", err)
		}
	})
}

func TestSQLiteRepository_GetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	scene := testScene("scene-get", "Late Jazz")
	scene.Category = CategoryMusic
	desc := "Quiet stereo listening"
	scene.Description = &desc
	scene.SortOrder = 2
	scene.Actions = []SceneAction{
		{DeviceID: "avr-living", Command: "volume", Value: ptr(35.5)},
		{DeviceID: "avr-living", Sequence: []string{"cursor_down", "cursor_enter"}, Repeat: 2, Parallel: true, ContinueOnError: true},
	}
	if err := repo.Create(ctx, scene); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, "scene-get")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Late Jazz" || got.Slug != "late-jazz" {
		t.Errorf("identity = %q/%q", got.Name, got.Slug)
	}
	if got.Category != CategoryMusic {
		t.Errorf("Category = %q, want %q", got.Category, CategoryMusic)
	}
	if got.Description == nil || *got.Description != desc {
		t.Errorf("Description = %v, want %q", got.Description, desc)
	}
	if got.SortOrder != 2 || !got.Enabled {
		t.Errorf("SortOrder/Enabled = %d/%v", got.SortOrder, got.Enabled)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
	if len(got.Actions) != 2 {
		t.Fatalf("Actions count = %d, want 2", len(got.Actions))
	}
	if got.Actions[0].Value == nil || *got.Actions[0].Value != 35.5 {
		t.Errorf("Action[0].Value = %v, want 35.5", got.Actions[0].Value)
	}
	a := got.Actions[1]
	if len(a.Sequence) != 2 || a.Repeat != 2 || !a.Parallel || !a.ContinueOnError {
		t.Errorf("Action[1] = %+v", a)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_ListByDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	living := testScene("s1", "Movie Night")
	zone := testScene("s2", "Patio")
	zone.Actions = []SceneAction{{DeviceID: "avr-patio", Command: "power_on"}}
	both := testScene("s3", "Whole House")
	both.Actions = []SceneAction{
		{DeviceID: "avr-patio", Command: "power_on"},
		{DeviceID: "avr-living", Command: "mute_on"},
	}
	for _, s := range []*Scene{living, zone, both} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create(%s): %v", s.ID, err)
		}
	}

	tests := []struct {
		device string
		want   []string
	}{
		{"avr-living", []string{"s1", "s3"}},
		{"avr-patio", []string{"s2", "s3"}},
		{"avr-living-2", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			scenes, err := repo.ListByDevice(ctx, tt.device)
			if err != nil {
				t.Fatalf("ListByDevice: %v", err)
			}
			var got []string
			for _, s := range scenes {
				got = append(got, s.ID)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ListByDevice(%q) = %v, want %v", tt.device, got, tt.want)
			}
		})
	}
}

func TestSQLiteRepository_SetEnabled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	scene := testScene("s1", "Movie Night")
	scene.Schedule = "0 20 * * 5"
	if err := repo.Create(ctx, scene); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.SetEnabled(ctx, "s1", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, err := repo.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Enabled {
		t.Error("scene still enabled")
	}
	if got.Name != scene.Name || got.Schedule != scene.Schedule || len(got.Actions) != len(scene.Actions) {
		t.Errorf("other fields changed: %+v", got)
	}

	if err := repo.SetEnabled(ctx, "missing", false); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	for i := range 3 {
		s := testScene(fmt.Sprintf("s%d", i), fmt.Sprintf("Scene %d", i))
		s.SortOrder = 10 - i
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d, want 3", len(all))
	}
	if all[0].ID != "s2" {
		t.Errorf("first scene = %q, want s2 (lowest sort_order)", all[0].ID)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	scene := testScene("s1", "Movie Night")
	if err := repo.Create(ctx, scene); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, testScene("s2", "Music")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	scene.Name = "Cinema"
	scene.Slug = "cinema"
	scene.Enabled = false
	scene.Actions = scene.Actions[:1]
	if err := repo.Update(ctx, scene); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.GetByID(ctx, "s1")
	if got.Name != "Cinema" || got.Enabled || len(got.Actions) != 1 {
		t.Errorf("updated scene = %+v", got)
	}

	scene.Slug = "music"
	if err := repo.Update(ctx, scene); !errors.Is(err, ErrSceneExists) {
		t.Errorf("slug collision: expected ErrSceneExists, got: %v", err)
	}

	missing := testScene("missing", "Missing")
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testScene("s1", "Movie Night")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	exec := &SceneExecution{ID: "e1", SceneID: "s1", TriggeredAt: time.Now().UTC(), TriggerType: "manual", Status: StatusPending}
	if err := repo.SaveExecution(ctx, exec); err != nil {
		t.Fatalf("SaveExecution: %v", err)
	}

	if err := repo.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetExecution(ctx, "e1"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("execution survived scene delete: %v", err)
	}
	if err := repo.Delete(ctx, "s1"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("expected ErrSceneNotFound, got: %v", err)
	}
}

func TestSQLiteRepository_Executions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, testScene("s1", "Movie Night")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		source := "api"
		exec := &SceneExecution{
			ID:            fmt.Sprintf("e%d", i),
			SceneID:       "s1",
			TriggeredAt:   base.Add(time.Duration(i) * time.Minute),
			TriggerType:   "manual",
			TriggerSource: &source,
			Status:        StatusPending,
			ActionsTotal:  2,
		}
		if err := repo.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution: %v", err)
		}
	}

	t.Run("update", func(t *testing.T) {
		exec, err := repo.GetExecution(ctx, "e1")
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		done := base.Add(2 * time.Minute)
		dur := 1500
		exec.CompletedAt = &done
		exec.Status = StatusPartial
		exec.ActionsCompleted = 1
		exec.ActionsFailed = 1
		exec.DurationMS = &dur
		exec.Failures = []ActionFailure{{ActionIndex: 1, DeviceID: "avr-living", Command: "select_source", ErrorCode: "DEVICE_UNREACHABLE", ErrorMsg: "not connected"}}
		exec.TriggeredAt = base.Add(time.Hour)
		if err := repo.SaveExecution(ctx, exec); err != nil {
			t.Fatalf("SaveExecution: %v", err)
		}

		got, err := repo.GetExecution(ctx, "e1")
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if got.Status != StatusPartial || got.ActionsFailed != 1 {
			t.Errorf("status/failed = %q/%d", got.Status, got.ActionsFailed)
		}
		if got.DurationMS == nil || *got.DurationMS != 1500 {
			t.Errorf("DurationMS = %v, want 1500", got.DurationMS)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
		}
		if len(got.Failures) != 1 || got.Failures[0].ErrorCode != "DEVICE_UNREACHABLE" {
			t.Errorf("Failures = %+v", got.Failures)
		}
		if got.TriggerSource == nil || *got.TriggerSource != "api" {
			t.Errorf("TriggerSource = %v, want api", got.TriggerSource)
		}
		if want := base.Add(time.Minute); !got.TriggeredAt.Equal(want) {
			t.Errorf("TriggeredAt = %v, want first save's %v", got.TriggeredAt, want)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		list, err := repo.ListExecutions(ctx, "s1", 2)
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("got %d executions, want 2", len(list))
		}
		if list[0].ID != "e2" || list[1].ID != "e1" {
			t.Errorf("order = %s,%s, want e2,e1", list[0].ID, list[1].ID)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := repo.GetExecution(ctx, "nope"); !errors.Is(err, ErrExecutionNotFound) {
			t.Errorf("expected ErrExecutionNotFound, got: %v", err)
		}
	})

	t.Run("prune keeps newest", func(t *testing.T) {
		n, err := repo.PruneExecutions(ctx, "s1", 2)
		if err != nil {
			t.Fatalf("PruneExecutions: %v", err)
		}
		if n != 1 {
			t.Errorf("pruned %d, want 1", n)
		}
		if _, err := repo.GetExecution(ctx, "e0"); !errors.Is(err, ErrExecutionNotFound) {
			t.Errorf("oldest execution survived prune: %v", err)
		}
		list, err := repo.ListExecutions(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("ListExecutions: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("got %d executions after prune, want 2", len(list))
		}

		n, err = repo.PruneExecutions(ctx, "s1", 2)
		if err != nil || n != 0 {
			t.Errorf("second prune = %d, %v, want 0, nil", n, err)
		}
	})
}

// TestEngine_WithSQLite runs a scene end to end against the real schema.
func TestEngine_WithSQLite(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	registry := NewRegistry(repo)
	ctx := context.Background()

	if err := registry.CreateScene(ctx, testScene("", "Movie Night")); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	// A fresh registry sees the stored scene after a load.
	reloaded := NewRegistry(repo)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	scenes := reloaded.ScenesForDevice("avr-living")
	if len(scenes) != 1 || scenes[0].Slug != "movie-night" {
		t.Fatalf("ScenesForDevice = %+v, want movie-night", scenes)
	}
	scene := &scenes[0]

	receivers := newMockCommander("avr-living")
	engine := NewEngine(reloaded, receivers, repo, nil)

	// Shorten the BD delay so the test stays fast.
	scene.Actions[1].DelayMS = 10
	if err := reloaded.UpdateScene(ctx, scene); err != nil {
		t.Fatalf("UpdateScene: %v", err)
	}

	exec, err := engine.ActivateScene(ctx, scene.ID, "manual", "test")
	if err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	stored, err := repo.ListExecutions(ctx, scene.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != exec.ID || stored[0].Status != StatusCompleted {
		t.Errorf("stored executions = %+v", stored)
	}
	if got := receivers.commands(); len(got) != 2 {
		t.Errorf("commands = %v, want 2", got)
	}
}
