package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockRepository is an in-memory implementation of Repository for testing.
type mockRepository struct {
	scenes     map[string]*Scene
	executions map[string]*SceneExecution
	failCreate error
	mu         sync.RWMutex
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		scenes:     make(map[string]*Scene),
		executions: make(map[string]*SceneExecution),
	}
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return s.DeepCopy(), nil
}

func (m *mockRepository) List(_ context.Context) ([]Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scenes := make([]Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		scenes = append(scenes, *s.DeepCopy())
	}
	return scenes, nil
}

func (m *mockRepository) ListByDevice(_ context.Context, deviceID string) ([]Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scenes []Scene
	for _, s := range m.scenes {
		if s.Targets(deviceID) {
			scenes = append(scenes, *s.DeepCopy())
		}
	}
	return scenes, nil
}

func (m *mockRepository) Create(_ context.Context, scene *Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	if _, ok := m.scenes[scene.ID]; ok {
		return ErrSceneExists
	}
	now := time.Now().UTC()
	scene.CreatedAt, scene.UpdatedAt = now, now
	m.scenes[scene.ID] = scene.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, scene *Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[scene.ID]; !ok {
		return ErrSceneNotFound
	}
	scene.UpdatedAt = time.Now().UTC()
	m.scenes[scene.ID] = scene.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[id]; !ok {
		return ErrSceneNotFound
	}
	delete(m.scenes, id)
	return nil
}

func (m *mockRepository) SetEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	if !ok {
		return ErrSceneNotFound
	}
	s.Enabled = enabled
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockRepository) SaveExecution(_ context.Context, exec *SceneExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *exec
	m.executions[exec.ID] = &cpy
	return nil
}

func (m *mockRepository) GetExecution(_ context.Context, id string) (*SceneExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	cpy := *e
	return &cpy, nil
}

func (m *mockRepository) ListExecutions(_ context.Context, sceneID string, limit int) ([]SceneExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SceneExecution
	for _, e := range m.executions {
		if e.SceneID == sceneID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepository) PruneExecutions(_ context.Context, sceneID string, keep int) (int64, error) {
	execs, _ := m.ListExecutions(context.Background(), sceneID, 0)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := max(keep, 0); i < len(execs); i++ {
		delete(m.executions, execs[i].ID)
		n++
	}
	return n, nil
}

// submission is one call made to the mock commander.
type submission struct {
	DeviceID string
	Command  string
	Params   avr.Params
	Sequence []string
	Repeat   int
	At       time.Time
}

// mockCommander records submissions and fails for configured commands.
type mockCommander struct {
	mu      sync.Mutex
	known   map[string]bool
	calls   []submission
	failOn  map[string]error // keyed by command name, or "sequence"
	blockOn string           // command that blocks until ctx is done
}

func newMockCommander(devices ...string) *mockCommander {
	c := &mockCommander{known: make(map[string]bool), failOn: make(map[string]error)}
	for _, id := range devices {
		c.known[id] = true
	}
	return c
}

func (c *mockCommander) record(ctx context.Context, s submission, key string) error {
	c.mu.Lock()
	if !c.known[s.DeviceID] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", avr.ErrDeviceNotFound, s.DeviceID)
	}
	s.At = time.Now()
	c.calls = append(c.calls, s)
	err := c.failOn[key]
	block := c.blockOn == key
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (c *mockCommander) Submit(ctx context.Context, deviceID, command string, params avr.Params) error {
	return c.record(ctx, submission{DeviceID: deviceID, Command: command, Params: params}, command)
}

func (c *mockCommander) SubmitSequence(ctx context.Context, deviceID string, commands []string, repeat int) error {
	return c.record(ctx, submission{DeviceID: deviceID, Sequence: commands, Repeat: repeat}, "sequence")
}

func (c *mockCommander) getCalls() []submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]submission(nil), c.calls...)
}

func (c *mockCommander) commands() []string {
	var out []string
	for _, s := range c.getCalls() {
		if s.Command != "" {
			out = append(out, s.Command)
		} else {
			out = append(out, "sequence")
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
