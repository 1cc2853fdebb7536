package avr

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// DeviceInfo is the registry's view of one device.
type DeviceInfo struct {
	Identity        DeviceIdentity             `json:"identity"`
	Mode            ConnectionMode             `json:"mode"`
	ConnectionState ConnectionState            `json:"connection_state"`
	Transports      map[string]ConnectionState `json:"transports"`
	Available       bool                       `json:"available"`
}

// Summary aggregates connection states across all devices.
type Summary struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Connecting   int `json:"connecting"`
	Reconnecting int `json:"reconnecting"`
	Failed       int `json:"failed"`
	Disconnected int `json:"disconnected"`
}

// Registry holds independent sessions keyed by device ID and fans out their
// connection transitions to lifecycle listeners. Sessions are never handed
// out; callers address devices by ID.
type Registry struct {
	logger Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	listenersMu sync.RWMutex
	listeners   []func(ConnectionEvent)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// OnLifecycle registers a listener for connection transitions of every
// device. Listeners run on controller goroutines and must not block.
func (r *Registry) OnLifecycle(fn func(ConnectionEvent)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) fanout(ev ConnectionEvent) {
	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Add registers a device and connects it. Validation and duplicate IDs are
// reported as errors. A failed first connection attempt is logged but the
// device stays registered and keeps retrying.
func (r *Registry) Add(ctx context.Context, identity DeviceIdentity, opts SessionOptions) error {
	user := opts.OnConnectionChange
	opts.OnConnectionChange = func(ev ConnectionEvent) {
		if user != nil {
			user(ev)
		}
		r.fanout(ev)
	}
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	session, err := NewSession(identity, opts)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		session.Disconnect()
		return ErrSessionClosed
	}
	if _, ok := r.sessions[identity.ID]; ok {
		r.mu.Unlock()
		session.Disconnect()
		return fmt.Errorf("%w: %s", ErrDeviceExists, identity.ID)
	}
	r.sessions[identity.ID] = session
	r.mu.Unlock()

	if err := session.Connect(ctx); err != nil {
		r.logger.Warn("device added but not yet connected", "device_id", identity.ID, "host", identity.Host, "error", err)
	} else {
		r.logger.Info("device connected", "device_id", identity.ID, "host", identity.Host, "mode", string(session.Mode()))
	}
	return nil
}

// Remove disconnects and forgets a device.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	session.Disconnect()
	return nil
}

func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return session, nil
}

// Has reports whether a device is registered.
func (r *Registry) Has(id string) bool {
	_, err := r.get(id)
	return err == nil
}

// Submit dispatches a command to a device.
func (r *Registry) Submit(ctx context.Context, id, command string, params Params) error {
	session, err := r.get(id)
	if err != nil {
		return err
	}
	return session.Dispatch(ctx, command, params)
}

// SubmitSequence dispatches an ordered command sequence to a device.
func (r *Registry) SubmitSequence(ctx context.Context, id string, commands []string, repeat int) error {
	session, err := r.get(id)
	if err != nil {
		return err
	}
	return session.DispatchSequence(ctx, commands, repeat)
}

// Release sends the settle signal for a held command.
func (r *Registry) Release(id, command string) error {
	session, err := r.get(id)
	if err != nil {
		return err
	}
	session.Release(command)
	return nil
}

// State returns a snapshot of a device's state.
func (r *Registry) State(id string) (DeviceState, error) {
	session, err := r.get(id)
	if err != nil {
		return DeviceState{}, err
	}
	return session.State(), nil
}

// Subscribe subscribes to a device's events.
func (r *Registry) Subscribe(id string) (<-chan Event, func(), error) {
	session, err := r.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Reconnect restarts a device's failed transports.
func (r *Registry) Reconnect(ctx context.Context, id string) error {
	session, err := r.get(id)
	if err != nil {
		return err
	}
	return session.Reconnect(ctx)
}

// Refresh requests a status update from a device.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	session, err := r.get(id)
	if err != nil {
		return err
	}
	return session.Refresh(ctx)
}

// Commands returns the command table of a device.
func (r *Registry) Commands(id string) ([]CommandSpec, error) {
	session, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return session.Table().Commands(), nil
}

// Stats returns a device's session statistics.
func (r *Registry) Stats(id string) (SessionStats, error) {
	session, err := r.get(id)
	if err != nil {
		return SessionStats{}, err
	}
	return session.Stats(), nil
}

// Device returns the registry's view of one device.
func (r *Registry) Device(id string) (DeviceInfo, error) {
	session, err := r.get(id)
	if err != nil {
		return DeviceInfo{}, err
	}
	return deviceInfo(session), nil
}

// Devices returns all devices sorted by ID.
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, deviceInfo(s))
	}
	slices.SortFunc(out, func(a, b DeviceInfo) int { return strings.Compare(a.Identity.ID, b.Identity.ID) })
	return out
}

func deviceInfo(s *Session) DeviceInfo {
	state := s.ConnectionState()
	return DeviceInfo{
		Identity:        s.Identity(),
		Mode:            s.Mode(),
		ConnectionState: state,
		Transports:      s.ConnectionStates(),
		Available:       state == StateConnected,
	}
}

// Summary counts devices by aggregate connection state.
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sum := Summary{Total: len(r.sessions)}
	for _, s := range r.sessions {
		switch s.ConnectionState() {
		case StateConnected:
			sum.Connected++
		case StateConnecting:
			sum.Connecting++
		case StateReconnecting:
			sum.Reconnecting++
		case StateFailed:
			sum.Failed++
		default:
			sum.Disconnected++
		}
	}
	return sum
}

// Close disconnects every device. The registry rejects further adds.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
	}
	wg.Wait()
}
