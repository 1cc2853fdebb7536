package automation

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Logger is the structured logger used by the Registry, Engine and
// Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the scene catalog shared by the API, the Engine and the
// Scheduler.
//
// Reads are served from memory. Writes go to the repository first and
// reach memory only once stored, so a failed write leaves both unchanged.
// Scenes handed out are deep copies.
type Registry struct {
	repo   Repository
	logger Logger

	mu     sync.RWMutex
	scenes map[string]*Scene
}

// NewRegistry creates an empty registry. Call Load before serving reads.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		scenes: make(map[string]*Scene),
	}
}

// SetLogger sets the logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the in-memory scenes with the stored ones.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	scenes := make(map[string]*Scene, len(stored))
	for i := range stored {
		scenes[stored[i].ID] = stored[i].DeepCopy()
	}

	r.mu.Lock()
	r.scenes = scenes
	r.mu.Unlock()

	r.logger.Info("scenes loaded", "count", len(scenes))
	return nil
}

// GetScene returns a scene by ID.
func (r *Registry) GetScene(_ context.Context, id string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenes[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return s.DeepCopy(), nil
}

// ListScenes returns every scene ordered by sort order, then name.
func (r *Registry) ListScenes(_ context.Context) ([]Scene, error) {
	return r.collect(func(*Scene) bool { return true }), nil
}

// ListScenesByCategory returns the scenes in one category.
func (r *Registry) ListScenesByCategory(_ context.Context, category Category) ([]Scene, error) {
	return r.collect(func(s *Scene) bool { return s.Category == category }), nil
}

// ScenesForDevice returns the scenes with an action addressed to deviceID.
func (r *Registry) ScenesForDevice(deviceID string) []Scene {
	return r.collect(func(s *Scene) bool { return s.Targets(deviceID) })
}

// Len returns the number of scenes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenes)
}

func (r *Registry) collect(keep func(*Scene) bool) []Scene {
	r.mu.RLock()
	out := make([]Scene, 0, len(r.scenes))
	for _, s := range r.scenes {
		if keep(s) {
			out = append(out, *s.DeepCopy())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Scene) int {
		return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.Name, b.Name))
	})
	return out
}

// CreateScene assigns an ID and slug when missing, validates and stores a
// scene.
func (r *Registry) CreateScene(ctx context.Context, scene *Scene) error {
	if scene.ID == "" {
		scene.ID = GenerateID()
	}
	if err := r.prepare(scene); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, scene); err != nil {
		return err
	}
	r.put(scene)
	r.logger.Info("scene created", "scene_id", scene.ID, "name", scene.Name, "devices", scene.DeviceIDs())
	return nil
}

// UpdateScene validates and stores new contents for an existing scene.
func (r *Registry) UpdateScene(ctx context.Context, scene *Scene) error {
	if err := r.prepare(scene); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, scene); err != nil {
		return err
	}
	r.put(scene)
	r.logger.Info("scene updated", "scene_id", scene.ID, "name", scene.Name, "devices", scene.DeviceIDs())
	return nil
}

// DeleteScene removes a scene and its execution history.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.scenes, id)
	r.mu.Unlock()

	r.logger.Info("scene deleted", "scene_id", id)
	return nil
}

// DisableScenesForDevice disables every enabled scene that addresses
// deviceID, so no activation targets a receiver that was removed. It
// returns the IDs it disabled; on error the scenes disabled so far stay
// disabled.
func (r *Registry) DisableScenesForDevice(ctx context.Context, deviceID string) ([]string, error) {
	affected, err := r.repo.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("finding scenes for device %s: %w", deviceID, err)
	}

	var disabled []string
	for _, s := range affected {
		if !s.Enabled {
			continue
		}
		if err := r.repo.SetEnabled(ctx, s.ID, false); err != nil {
			return disabled, fmt.Errorf("disabling scene %s: %w", s.ID, err)
		}
		disabled = append(disabled, s.ID)

		stored, err := r.repo.GetByID(ctx, s.ID)
		if err != nil {
			return disabled, fmt.Errorf("reloading scene %s: %w", s.ID, err)
		}
		r.put(stored)
	}

	if len(disabled) > 0 {
		r.logger.Warn("scenes disabled after device removal", "device_id", deviceID, "scenes", disabled)
	}
	return disabled, nil
}

// prepare fills the slug and validates scene against the other scenes.
func (r *Registry) prepare(scene *Scene) error {
	if scene != nil && scene.Slug == "" {
		scene.Slug = GenerateSlug(scene.Name)
	}
	if err := ValidateScene(scene); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.scenes {
		if s.Slug == scene.Slug && s.ID != scene.ID {
			return fmt.Errorf("%w: slug %q", ErrSceneExists, scene.Slug)
		}
	}
	return nil
}

func (r *Registry) put(scene *Scene) {
	r.mu.Lock()
	r.scenes[scene.ID] = scene.DeepCopy()
	r.mu.Unlock()
}
