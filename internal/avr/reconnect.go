package avr

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxRetries is the number of consecutive failed connection attempts
// after which a Controller gives up and reports StateFailed.
const DefaultMaxRetries = 20

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	DeviceID  string
	Transport Transport

	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
	BackoffJitter float64

	// MaxRetries is the consecutive failure budget. Default: 20.
	MaxRetries int
}

// ControllerStats holds operational statistics.
type ControllerStats struct {
	State      ConnectionState
	Attempts   uint64
	Failures   uint64
	Reconnects uint64
}

// Controller owns the lifecycle of one transport connection.
//
// State machine:
//
//	Disconnected → Connecting → Connected
//	Connected → (loss) Reconnecting → Connecting → …
//	Connecting → (MaxRetries consecutive failures) Failed
//
// Listeners are called synchronously from the controller goroutine, in
// transition order. They must not call Stop. After Stop returns no further
// listener calls are made.
type Controller struct {
	cfg       ControllerConfig
	transport Transport
	backoff   *Backoff
	logger    Logger

	// restart serializes Reconnect calls.
	restart sync.Mutex

	mu        sync.Mutex
	state     ConnectionState
	running   bool
	stopped   bool
	cancel    context.CancelFunc
	listeners []func(ConnectionEvent)

	wg sync.WaitGroup

	attempts   atomic.Uint64
	failures   atomic.Uint64
	reconnects atomic.Uint64
}

// NewController creates a stopped controller for a transport.
func NewController(cfg ControllerConfig, logger Logger) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = DefaultBackoffFactor
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		cfg:       cfg,
		transport: cfg.Transport,
		backoff:   NewBackoff(cfg.BackoffMin, cfg.BackoffMax, cfg.BackoffFactor, cfg.BackoffJitter),
		logger:    logger,
		state:     StateDisconnected,
	}
}

// Transport returns the controlled transport.
func (c *Controller) Transport() Transport { return c.transport }

// OnTransition registers a listener for state transitions.
func (c *Controller) OnTransition(fn func(ConnectionEvent)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the connection loop and waits for the outcome of the
// first attempt. A failed first attempt is returned, but the loop keeps
// retrying in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()

	first := make(chan error, 1)
	go c.run(loopCtx, first)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect restarts a controller that has Failed. It is a no-op while the
// loop is still retrying and returns ErrSessionClosed once stopped.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.restart.Lock()
	defer c.restart.Unlock()

	c.mu.Lock()
	stopped := c.stopped
	retrying := c.running && c.state != StateFailed
	c.mu.Unlock()
	if stopped {
		return ErrSessionClosed
	}
	if retrying {
		return nil
	}
	c.wg.Wait()
	c.backoff.Reset()
	return c.Start(ctx)
}

func (c *Controller) run(ctx context.Context, first chan<- error) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}
	defer report(ErrSessionClosed)

	failures := 0
	c.transition(StateConnecting, nil)
	for {
		c.attempts.Add(1)
		err := c.transport.Connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			failures = 0
			c.backoff.Reset()
			c.transition(StateConnected, nil)
			report(nil)

			select {
			case <-c.transport.Lost():
			case <-ctx.Done():
				return
			}
			c.reconnects.Add(1)
			c.logger.Warn("connection lost", "device_id", c.cfg.DeviceID, "transport", c.transport.Name())
			c.transition(StateReconnecting, ErrConnectionLost)
		} else {
			failures++
			c.failures.Add(1)
			report(err)
			if failures >= c.cfg.MaxRetries {
				c.logger.Error("giving up after repeated connection failures",
					"device_id", c.cfg.DeviceID, "transport", c.transport.Name(), "attempts", failures, "error", err)
				c.transition(StateFailed, fmt.Errorf("%w: %d attempts: %w", ErrConnectionFailed, failures, err))
				return
			}
			c.logger.Debug("connection attempt failed",
				"device_id", c.cfg.DeviceID, "transport", c.transport.Name(), "attempt", failures, "error", err)
			c.transition(StateReconnecting, err)
		}

		delay := c.backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		c.transition(StateConnecting, nil)
	}
}

// transition moves to state to and notifies listeners. It does nothing once
// Stop has begun.
func (c *Controller) transition(to ConnectionState, err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	from, listeners, changed := c.swapStateLocked(to)
	c.mu.Unlock()
	if changed {
		c.notify(from, to, err, listeners)
	}
}

// swapStateLocked sets the state and reports the previous one with the
// listeners to notify. c.mu must be held.
func (c *Controller) swapStateLocked(to ConnectionState) (ConnectionState, []func(ConnectionEvent), bool) {
	from := c.state
	if from == to {
		return from, nil, false
	}
	c.state = to
	return from, slices.Clone(c.listeners), true
}

func (c *Controller) notify(from, to ConnectionState, err error, listeners []func(ConnectionEvent)) {
	ev := ConnectionEvent{
		DeviceID:  c.cfg.DeviceID,
		Transport: c.transport.Name(),
		From:      from,
		To:        to,
		Err:       err,
		Timestamp: time.Now(),
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// Stop cancels the loop, closes the transport and emits a final transition
// to Disconnected. It is idempotent. Once Stop has begun, Start and
// Reconnect return ErrSessionClosed and the loop emits nothing more.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if err := c.transport.Close(); err != nil {
		c.logger.Warn("closing transport", "device_id", c.cfg.DeviceID, "error", err)
	}

	c.mu.Lock()
	from, listeners, changed := c.swapStateLocked(StateDisconnected)
	c.mu.Unlock()
	if changed {
		c.notify(from, StateDisconnected, nil, listeners)
	}
}

// Stats returns operational statistics.
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		State:      c.State(),
		Attempts:   c.attempts.Load(),
		Failures:   c.failures.Load(),
		Reconnects: c.reconnects.Load(),
	}
}
