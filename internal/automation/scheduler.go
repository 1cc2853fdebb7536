package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler activates scenes on their cron schedules.
//
// Sync reconciles the cron entries with the scene registry and must be
// called after scenes are created, updated or deleted. A scene is
// scheduled only while it is enabled and has a non-empty Schedule.
type Scheduler struct {
	registry *Registry
	engine   *Engine
	cron     *cron.Cron
	logger   Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	specs   map[string]string
}

// NewScheduler creates a scheduler. Call Start to begin firing.
func NewScheduler(registry *Registry, engine *Engine, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	// An activation that outlasts its interval is skipped, not stacked.
	runner := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{
		registry: registry,
		engine:   engine,
		cron:     runner,
		logger:   logger,
		ctx:      context.Background(),
		entries:  make(map[string]cron.EntryID),
		specs:    make(map[string]string),
	}
}

// Start loads the schedules and starts the cron runner. Activations use
// ctx, so cancelling it aborts any scene still running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scene scheduler started", "scheduled", len(s.Schedules()))
	return nil
}

// Stop halts the runner and waits for running activations to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync adds, replaces and removes cron entries to match the registry.
func (s *Scheduler) Sync(ctx context.Context) error {
	scenes, err := s.registry.ListScenes(ctx)
	if err != nil {
		return fmt.Errorf("listing scenes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expected := make(map[string]struct{}, len(scenes))
	for _, scene := range scenes {
		if !scene.Enabled || scene.Schedule == "" {
			continue
		}
		expected[scene.ID] = struct{}{}

		if old, ok := s.specs[scene.ID]; ok {
			if old == scene.Schedule {
				continue
			}
			s.remove(scene.ID)
		}

		sceneID, spec := scene.ID, scene.Schedule
		entryID, addErr := s.cron.AddFunc(spec, func() { s.fire(sceneID, spec) })
		if addErr != nil {
			// Validation rejects bad expressions, so this only happens for
			// rows written outside the API.
			s.logger.Warn("invalid scene schedule", "scene_id", sceneID, "schedule", spec, "error", addErr)
			delete(expected, sceneID)
			continue
		}
		s.entries[sceneID] = entryID
		s.specs[sceneID] = spec
	}

	for sceneID := range s.entries {
		if _, ok := expected[sceneID]; !ok {
			s.remove(sceneID)
		}
	}
	return nil
}

// Schedules returns the active cron expressions keyed by scene ID.
func (s *Scheduler) Schedules() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.specs))
	for id, spec := range s.specs {
		out[id] = spec
	}
	return out
}

// remove drops the entry for sceneID. Caller holds s.mu.
func (s *Scheduler) remove(sceneID string) {
	if entryID, ok := s.entries[sceneID]; ok {
		s.cron.Remove(entryID)
	}
	delete(s.entries, sceneID)
	delete(s.specs, sceneID)
}

func (s *Scheduler) fire(sceneID, spec string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	exec, err := s.engine.ActivateScene(ctx, sceneID, TriggerSchedule, spec)
	if err != nil {
		s.logger.Warn("scheduled scene not activated", "scene_id", sceneID, "error", err)
		return
	}
	s.logger.Info("scheduled scene activated",
		"scene_id", sceneID,
		"status", exec.Status,
		"failed", exec.ActionsFailed,
	)
}
