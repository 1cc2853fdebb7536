package audit

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/avrlink/internal/infrastructure/database"
	"github.com/nerrad567/avrlink/migrations"
)

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

func TestCreate_FillsDefaults(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	entry := &Entry{Action: ActionCreate, EntityType: EntityDevice, EntityID: "living-room"}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if entry.ID == "" || entry.Source != "api" || entry.CreatedAt.IsZero() {
		t.Errorf("defaults not filled: %+v", entry)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("Total = %d, logs = %d, want 1/1", res.Total, len(res.Logs))
	}
	got := res.Logs[0]
	if got.EntityID != "living-room" || got.RequestID != "" || got.Details != nil {
		t.Errorf("entry = %+v", got)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt.Truncate(time.Microsecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, entry.CreatedAt)
	}
}

func TestCreate_Details(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	entry := &Entry{
		Action:     ActionCommand,
		EntityType: EntityDevice,
		EntityID:   "den",
		RequestID:  "req-1",
		Details:    map[string]any{"command": "volume", "value": 45.5},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := repo.List(ctx, Filter{Action: ActionCommand})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(res.Logs))
	}
	got := res.Logs[0]
	if got.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", got.RequestID)
	}
	if got.Details["command"] != "volume" || got.Details["value"] != 45.5 {
		t.Errorf("Details = %v", got.Details)
	}
}

func TestList_FiltersAndPaging(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seed := []Entry{
		{Action: ActionCreate, EntityType: EntityDevice, EntityID: "den"},
		{Action: ActionCommand, EntityType: EntityDevice, EntityID: "den"},
		{Action: ActionCommand, EntityType: EntityDevice, EntityID: "mar"},
		{Action: ActionCreate, EntityType: EntityScene, EntityID: "movie"},
		{Action: ActionActivate, EntityType: EntityScene, EntityID: "movie"},
	}
	for i := range seed {
		e := seed[i]
		e.ID = fmt.Sprintf("e%d", i)
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, &e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantIDs   []string
	}{
		{"all newest first", Filter{}, 5, []string{"e4", "e3", "e2", "e1", "e0"}},
		{"by action", Filter{Action: ActionCommand}, 2, []string{"e2", "e1"}},
		{"by entity type", Filter{EntityType: EntityScene}, 2, []string{"e4", "e3"}},
		{"by entity id", Filter{EntityType: EntityDevice, EntityID: "den"}, 2, []string{"e1", "e0"}},
		{"paged", Filter{Limit: 2, Offset: 1}, 5, []string{"e3", "e2"}},
		{"negative offset", Filter{Limit: 1, Offset: -3}, 5, []string{"e4"}},
		{"no match", Filter{Action: ActionRelease}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			var ids []string
			for _, l := range res.Logs {
				ids = append(ids, l.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
			if res.Logs == nil {
				t.Error("Logs is nil, want empty slice")
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	res, err := repo.List(context.Background(), Filter{Limit: 10000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Limit != maxLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, maxLimit)
	}

	res, err = repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultLimit)
	}
}
