package avr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Session defaults.
const (
	DefaultPollInterval     = 10 * time.Second
	DefaultVolumeStep       = 0.5
	defaultSubscriberBuffer = 64
	maxEventBatch           = 64
)

// PowerPolicy controls what happens to the power field while a device is
// unreachable.
type PowerPolicy string

// Power policies.
const (
	// PowerHold keeps the last known power state during reconnection.
	PowerHold PowerPolicy = "hold"

	// PowerClear marks power unknown as soon as the device is unreachable.
	PowerClear PowerPolicy = "clear"
)

// SessionOptions configures a Session. Zero values select defaults.
type SessionOptions struct {
	Mode ConnectionMode

	HTTPPort   int
	TelnetPort int

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MinCommandInterval is the coalescing window per command ID.
	MinCommandInterval time.Duration

	// PollInterval is the status poll period in HTTP and hybrid modes.
	// Negative disables polling. Default: 10 seconds.
	PollInterval time.Duration

	// VolumeStep is the volume_up/volume_down increment. 0.5 uses the
	// receiver's own step commands; other values send an absolute volume.
	VolumeStep float64

	PowerPolicy PowerPolicy

	MaxRetries    int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffJitter float64

	// SubscriberBuffer is the per-subscriber event buffer. Default: 64.
	SubscriberBuffer int

	// OnConnectionChange is called for every transport transition.
	OnConnectionChange func(ConnectionEvent)

	Observer Observer
	Logger   Logger

	// HTTPClient overrides the request transport's HTTP client.
	HTTPClient *http.Client

	// RequestTransport and StreamTransport replace the built-in clients.
	RequestTransport Transport
	StreamTransport  Transport
}

func (o *SessionOptions) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeHybrid
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.VolumeStep <= 0 {
		o.VolumeStep = DefaultVolumeStep
	}
	if o.PowerPolicy == "" {
		o.PowerPolicy = PowerHold
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = defaultSubscriberBuffer
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// SessionStats holds operational statistics for one session.
type SessionStats struct {
	Dispatcher     DispatcherStats            `json:"dispatcher"`
	Controllers    map[string]ControllerStats `json:"controllers"`
	UpdatesApplied uint64                     `json:"updates_applied"`
	LinesIgnored   uint64                     `json:"lines_ignored"`
	EventsDropped  uint64                     `json:"events_dropped"`
	Subscribers    int                        `json:"subscribers"`
}

// Session is the connection, state and dispatch engine for one receiver.
type Session struct {
	identity DeviceIdentity
	opts     SessionOptions
	logger   Logger
	observer Observer

	table      *Table
	reconciler *Reconciler
	dispatcher *Dispatcher
	settings   *settingTracker

	// controllers in command-routing preference order.
	controllers []*Controller
	poller      Poller
	pollCtl     *Controller

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	subDone bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	eventsDropped atomic.Uint64
}

// NewSession builds a session. It does not connect.
func NewSession(identity DeviceIdentity, opts SessionOptions) (*Session, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown connection mode %q", ErrInvalidParameter, opts.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity:   identity,
		opts:       opts,
		logger:     opts.Logger,
		observer:   opts.Observer,
		table:      NewTable(identity, opts.Mode),
		reconciler: NewReconciler(identity.ID),
		subs:       make(map[int]chan Event),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.settings = newSettingTracker(s.table)
	s.reconciler.SetOnChange(s.handleStateChange)

	var httpT, telnetT Transport
	if opts.Mode == ModeHTTP || opts.Mode == ModeHybrid {
		httpT = opts.RequestTransport
		if httpT == nil {
			httpT = NewRequestClient(RequestConfig{
				Host:       identity.Host,
				Port:       opts.HTTPPort,
				Timeout:    opts.RequestTimeout,
				HTTPClient: opts.HTTPClient,
			}, opts.Logger)
		}
	}
	if opts.Mode.HasStream() {
		telnetT = opts.StreamTransport
		if telnetT == nil {
			telnetT = NewStreamClient(StreamConfig{
				Host:           identity.Host,
				Port:           opts.TelnetPort,
				ConnectTimeout: opts.ConnectTimeout,
				QueryTimeout:   opts.RequestTimeout,
			}, opts.Logger)
		}
	}

	for _, t := range []Transport{httpT, telnetT} {
		if t == nil {
			continue
		}
		ctl := NewController(ControllerConfig{
			DeviceID:      identity.ID,
			Transport:     t,
			BackoffMin:    opts.BackoffMin,
			BackoffMax:    opts.BackoffMax,
			BackoffJitter: opts.BackoffJitter,
			MaxRetries:    opts.MaxRetries,
		}, opts.Logger)
		ctl.OnTransition(s.handleTransition)
		s.controllers = append(s.controllers, ctl)

		if p, ok := t.(Poller); ok && s.poller == nil {
			s.poller = p
			s.pollCtl = ctl
		}
	}

	s.dispatcher = NewDispatcher(DispatcherConfig{
		DeviceID:    identity.ID,
		Table:       s.table,
		MinInterval: opts.MinCommandInterval,
		Route:       s.route,
		OnReply:     func(lines []string) { s.applyLines(lines) },
		OnError: func(command string, err error) {
			s.logger.Warn("coalesced command failed", "device_id", identity.ID, "command", command, "error", err)
		},
		Observer: opts.Observer,
	}, opts.Logger)

	return s, nil
}

// ID returns the device ID.
func (s *Session) ID() string { return s.identity.ID }

// Identity returns the device identity.
func (s *Session) Identity() DeviceIdentity { return s.identity }

// Mode returns the connection mode.
func (s *Session) Mode() ConnectionMode { return s.opts.Mode }

// Table returns the device's resolved command table.
func (s *Session) Table() *Table { return s.table }

// Connect starts every transport's controller and waits for the first
// attempts. It returns nil if at least one transport connected; otherwise
// the attempt errors. Controllers keep retrying in the background either way.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.startOnce.Do(func() {
		if s.poller != nil && s.opts.PollInterval > 0 {
			s.wg.Add(1)
			go s.pollLoop()
		}
	})

	var (
		errs      []error
		connected bool
	)
	for _, ctl := range s.controllers {
		if err := ctl.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ctl.Transport().Name(), err))
			continue
		}
		connected = true
	}
	if connected {
		for _, err := range errs {
			s.logger.Warn("transport not connected", "device_id", s.identity.ID, "error", err)
		}
		return nil
	}
	return errors.Join(errs...)
}

// Disconnect tears the session down: queued commands fail, controllers stop,
// transports close and subscriber channels close. It is idempotent and a
// disconnected session cannot be reconnected.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.dispatcher.Close()
		for _, ctl := range s.controllers {
			ctl.Stop()
		}
		s.cancel()
		s.wg.Wait()

		s.subMu.Lock()
		s.subDone = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.subMu.Unlock()
	})
}

// Reconnect restarts controllers that have given up.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	var errs []error
	for _, ctl := range s.controllers {
		if ctl.State() != StateFailed {
			continue
		}
		if err := ctl.Reconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ctl.Transport().Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ConnectionState aggregates the transports: Connected if any is connected,
// otherwise the most hopeful of the remaining states.
func (s *Session) ConnectionState() ConnectionState {
	best := StateFailed
	rank := map[ConnectionState]int{
		StateConnected:    4,
		StateConnecting:   3,
		StateReconnecting: 2,
		StateDisconnected: 1,
		StateFailed:       0,
	}
	for _, ctl := range s.controllers {
		if st := ctl.State(); rank[st] > rank[best] {
			best = st
		}
	}
	return best
}

// ConnectionStates returns the state of each transport by name.
func (s *Session) ConnectionStates() map[string]ConnectionState {
	out := make(map[string]ConnectionState, len(s.controllers))
	for _, ctl := range s.controllers {
		out[ctl.Transport().Name()] = ctl.State()
	}
	return out
}

// Available reports whether the device can currently be controlled.
func (s *Session) Available() bool {
	return s.ConnectionState() == StateConnected
}

// State returns a snapshot of the device state.
func (s *Session) State() DeviceState {
	return s.reconciler.State()
}

// Dispatch submits a command. Toggle commands and non-default volume steps
// are resolved against the current state first. State is never updated
// locally; it changes only when the receiver reports it.
func (s *Session) Dispatch(ctx context.Context, command string, params Params) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	id, p := s.resolve(command, params)
	return s.dispatcher.Submit(ctx, id, p)
}

// DispatchSequence submits several commands as one ordered unit. Toggles
// are resolved up front against the state at submission.
func (s *Session) DispatchSequence(ctx context.Context, commands []string, repeat int) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	ids := make([]string, len(commands))
	for i, command := range commands {
		ids[i] = s.resolveToggle(command)
	}
	return s.dispatcher.SubmitSequence(ctx, ids, repeat)
}

// Release flushes any coalesced command for the given command ID.
func (s *Session) Release(command string) {
	id, _ := s.resolve(command, Params{})
	s.dispatcher.Release(id)
}

func (s *Session) resolve(command string, params Params) (string, Params) {
	state := s.reconciler.State()
	switch command {
	case "toggle", "power_toggle":
		if state.Power.IsOn() {
			return "turn_off", params
		}
		return "turn_on", params
	case "mute_toggle":
		if state.Muted != nil && *state.Muted {
			return "unmute", params
		}
		return "mute", params
	case "volume_up", "volume_down":
		if s.opts.VolumeStep == DefaultVolumeStep || state.Volume == nil {
			return command, params
		}
		repeat := max(params.Repeat, 1)
		delta := s.opts.VolumeStep * float64(repeat)
		if command == "volume_down" {
			delta = -delta
		}
		target := clampVolume(*state.Volume+delta, state.MaxVolume)
		return "volume", Params{Value: &target}
	}
	return s.resolveToggle(command), params
}

// resolveToggle maps a setting toggle to its on or off command from the
// setting's last value reported on the stream. Other commands, and toggles
// the table does not hold, are returned unchanged.
func (s *Session) resolveToggle(command string) string {
	spec, err := s.table.Lookup(command)
	if err != nil || spec.Toggle == nil {
		return command
	}
	return s.settings.resolve(spec)
}

// Refresh requests a full status update from every connected transport.
func (s *Session) Refresh(ctx context.Context) error {
	var errs []error
	for _, ctl := range s.controllers {
		if ctl.State() != StateConnected {
			continue
		}
		if err := s.refreshTransport(ctx, ctl.Transport()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshTransport polls t, or for a stream transport queues the status
// queries through the dispatcher so they never overlap a command.
func (s *Session) refreshTransport(ctx context.Context, t Transport) error {
	if p, ok := t.(Poller); ok {
		updates, err := p.Poll(ctx)
		if err != nil {
			return err
		}
		s.reconciler.Apply(updates...)
		return nil
	}
	if _, ok := t.(EventSource); !ok {
		return nil
	}
	return s.dispatcher.SubmitStatus(ctx, t, StatusQueries)
}

// Subscribe returns a channel of session events and a function that cancels
// the subscription. Events for one device arrive in the order they were
// applied. The channel closes when the session is disconnected.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.opts.SubscriberBuffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subDone {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Session) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subDone {
		return
	}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.eventsDropped.Add(1)
			s.logger.Warn("subscriber buffer full, dropping event",
				"device_id", s.identity.ID, "subscriber", id, "type", ev.Type)
		}
	}
}

func (s *Session) handleStateChange(change StateChange) {
	s.publish(Event{Type: EventStateChanged, DeviceID: s.identity.ID, Change: &change})
}

// handleTransition runs on a controller goroutine.
func (s *Session) handleTransition(ev ConnectionEvent) {
	s.observer.ConnectionChanged(ev)
	s.logger.Info("connection state changed",
		"device_id", ev.DeviceID, "transport", ev.Transport, "from", ev.From.String(), "to", ev.To.String())

	if ev.To == StateConnected {
		s.reconciler.MarkReachable()
		s.startTransportTasks(ev.Transport)
	} else if !s.anyConnected() {
		s.settings.reset()
		s.reconciler.MarkUnreachable(s.opts.PowerPolicy != PowerClear)
	}

	s.publish(Event{Type: EventConnectionChanged, DeviceID: s.identity.ID, Connection: &ev})
	if s.opts.OnConnectionChange != nil {
		s.opts.OnConnectionChange(ev)
	}
}

func (s *Session) anyConnected() bool {
	for _, ctl := range s.controllers {
		if ctl.State() == StateConnected {
			return true
		}
	}
	return false
}

// startTransportTasks starts the event pump and the initial refresh for a
// freshly connected transport.
func (s *Session) startTransportTasks(name string) {
	if s.closed.Load() {
		return
	}
	var t Transport
	for _, ctl := range s.controllers {
		if ctl.Transport().Name() == name {
			t = ctl.Transport()
		}
	}
	if t == nil {
		return
	}

	if src, ok := t.(EventSource); ok {
		if events := src.Events(); events != nil {
			s.wg.Add(1)
			go s.pump(events)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		if err := s.refreshTransport(ctx, t); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("initial status refresh failed", "device_id", s.identity.ID, "transport", name, "error", err)
		}
	}()
}

// pump applies stream events until the connection's channel closes. Lines
// already buffered are applied together in one reconciler pass.
func (s *Session) pump(events <-chan string) {
	defer s.wg.Done()
	for line := range events {
		batch := []string{line}
	drain:
		for len(batch) < maxEventBatch {
			select {
			case next, ok := <-events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		s.applyLines(batch)
	}
}

func (s *Session) applyLines(lines []string) {
	s.observer.EventsReceived(s.identity.ID, len(lines))
	s.settings.observe(lines)
	s.reconciler.ApplyLines(lines...)
}

func (s *Session) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.pollCtl.State() != StateConnected {
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, s.opts.PollInterval)
			updates, err := s.poller.Poll(ctx)
			cancel()
			if err != nil {
				s.logger.Debug("status poll failed", "device_id", s.identity.ID, "error", err)
				continue
			}
			s.reconciler.Apply(updates...)
		case <-s.ctx.Done():
			return
		}
	}
}

// route returns the first connected transport in preference order.
func (s *Session) route() (Transport, error) {
	for _, ctl := range s.controllers {
		if ctl.State() == StateConnected {
			return ctl.Transport(), nil
		}
	}
	return nil, ErrNotConnected
}

// Stats returns operational statistics.
func (s *Session) Stats() SessionStats {
	applied, ignored := s.reconciler.Stats()
	ctls := make(map[string]ControllerStats, len(s.controllers))
	for _, ctl := range s.controllers {
		ctls[ctl.Transport().Name()] = ctl.Stats()
	}
	s.subMu.Lock()
	subs := len(s.subs)
	s.subMu.Unlock()
	return SessionStats{
		Dispatcher:     s.dispatcher.Stats(),
		Controllers:    ctls,
		UpdatesApplied: applied,
		LinesIgnored:   ignored,
		EventsDropped:  s.eventsDropped.Load(),
		Subscribers:    subs,
	}
}
