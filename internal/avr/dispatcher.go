package avr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher defaults.
const (
	DefaultMinInterval = 250 * time.Millisecond
	defaultQueueSize   = 64
	defaultSendTimeout = 3 * time.Second
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	DeviceID string
	Table    *Table

	// MinInterval is the minimum spacing between two dispatches of the same
	// command ID. Faster repeats are coalesced. Default: 250ms.
	MinInterval time.Duration

	// SendTimeout bounds each raw write or query. Default: 3 seconds.
	SendTimeout time.Duration

	// QueueSize is the FIFO capacity. Default: 64.
	QueueSize int

	// Route returns the transport commands are sent on.
	Route func() (Transport, error)

	// OnReply receives reply lines of query commands.
	OnReply func(lines []string)

	// OnError receives send failures of coalesced commands, which have no
	// waiting caller.
	OnError func(command string, err error)

	Observer Observer
}

// DispatcherStats holds operational statistics.
type DispatcherStats struct {
	Sent      uint64
	Coalesced uint64
	Failed    uint64
	Dropped   uint64
	Queued    int
	Held      int
}

type wireLine struct {
	raw   string
	reply string
}

// pendingCommand is a validated command waiting to be sent.
type pendingCommand struct {
	id        string
	lines     []wireLine
	submitted time.Time
	result    chan error

	// via pins the command to one transport instead of Route.
	via Transport
}

type heldSlot struct {
	cmd   *pendingCommand
	timer *time.Timer
}

// Dispatcher validates, throttles and serialises commands for one device.
//
// Every command passes through one FIFO queue served by a single worker,
// so at most one raw command is in flight. A command whose ID was
// dispatched less than MinInterval ago is parked in that ID's held slot
// instead of queued; a newer submission replaces the parked one. The slot
// is flushed exactly once, by its timer or by Release.
type Dispatcher struct {
	cfg      DispatcherConfig
	observer Observer
	logger   Logger

	queue chan *pendingCommand

	mu           sync.Mutex
	lastDispatch map[string]time.Time
	held         map[string]*heldSlot
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	done   *closeOnce
	wg     sync.WaitGroup

	sent      atomic.Uint64
	coalesced atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(cfg DispatcherConfig, logger Logger) *Dispatcher {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:          cfg,
		observer:     observer,
		logger:       logger,
		queue:        make(chan *pendingCommand, cfg.QueueSize),
		lastDispatch: make(map[string]time.Time),
		held:         make(map[string]*heldSlot),
		ctx:          ctx,
		cancel:       cancel,
		done:         newCloseOnce(),
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Submit validates a command and dispatches it.
//
// Validation errors (ErrCommandRejected, ErrInvalidParameter) are returned
// before any network activity. A command that is coalesced returns nil
// immediately. Otherwise Submit waits for the send and returns its error.
func (d *Dispatcher) Submit(ctx context.Context, id string, params Params) error {
	lines, err := d.render(id, params)
	if err != nil {
		return err
	}
	p := &pendingCommand{id: id, lines: lines, submitted: time.Now()}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrSessionClosed
	}
	if last, ok := d.lastDispatch[id]; ok && lines[0].reply == "" && p.submitted.Sub(last) < d.cfg.MinInterval {
		d.holdLocked(p, last)
		d.mu.Unlock()
		return nil
	}
	d.lastDispatch[id] = p.submitted
	d.mu.Unlock()

	return d.enqueueAndWait(ctx, p)
}

// SubmitSequence validates every command, then sends them in order as one
// unit. Each command is repeated repeat times. Sequences are never
// coalesced.
func (d *Dispatcher) SubmitSequence(ctx context.Context, ids []string, repeat int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidParameter)
	}
	p := &pendingCommand{id: "sequence", submitted: time.Now()}
	for _, id := range ids {
		lines, err := d.render(id, Params{Repeat: repeat})
		if err != nil {
			return err
		}
		p.lines = append(p.lines, lines...)
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return d.enqueueAndWait(ctx, p)
}

// SubmitStatus queues the status queries ids for transport t behind any
// commands already waiting and waits for them to be written. Replies
// arrive as stream events, so no reply is awaited. IDs the table does not
// hold are skipped.
func (d *Dispatcher) SubmitStatus(ctx context.Context, t Transport, ids []string) error {
	p := &pendingCommand{id: "status", via: t, submitted: time.Now()}
	for _, id := range ids {
		spec, err := d.cfg.Table.Lookup(id)
		if err != nil {
			continue
		}
		p.lines = append(p.lines, wireLine{raw: spec.Raw})
	}
	if len(p.lines) == 0 {
		return nil
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return d.enqueueAndWait(ctx, p)
}

func (d *Dispatcher) render(id string, params Params) ([]wireLine, error) {
	spec, err := d.cfg.Table.Lookup(id)
	if err != nil {
		return nil, err
	}
	raws, err := spec.Render(params)
	if err != nil {
		return nil, err
	}
	lines := make([]wireLine, len(raws))
	for i, raw := range raws {
		lines[i] = wireLine{raw: raw, reply: spec.Reply}
	}
	return lines, nil
}

// holdLocked parks p in its ID's held slot. d.mu must be held.
func (d *Dispatcher) holdLocked(p *pendingCommand, last time.Time) {
	d.coalesced.Add(1)
	d.observer.CommandCoalesced(d.cfg.DeviceID, p.id)

	if slot, ok := d.held[p.id]; ok {
		slot.cmd = p
		return
	}
	slot := &heldSlot{cmd: p}
	wait := last.Add(d.cfg.MinInterval).Sub(p.submitted)
	slot.timer = time.AfterFunc(wait, func() { d.flush(p.id, slot) })
	d.held[p.id] = slot
}

// Release flushes the held command for id, if any. It is the settle signal
// sent when a held control is let go.
func (d *Dispatcher) Release(id string) {
	d.mu.Lock()
	slot, ok := d.held[id]
	d.mu.Unlock()
	if ok {
		d.flush(id, slot)
	}
}

// flush enqueues the command in slot, unless the slot was already flushed.
func (d *Dispatcher) flush(id string, slot *heldSlot) {
	d.mu.Lock()
	if cur, ok := d.held[id]; !ok || cur != slot || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.held, id)
	slot.timer.Stop()
	d.lastDispatch[id] = time.Now()
	p := slot.cmd
	d.mu.Unlock()

	select {
	case d.queue <- p:
	default:
		d.dropped.Add(1)
		d.reportError(p.id, ErrQueueFull)
	}
}

func (d *Dispatcher) enqueueAndWait(ctx context.Context, p *pendingCommand) error {
	p.result = make(chan error, 1)

	select {
	case d.queue <- p:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done.Done():
		return ErrSessionClosed
	}

	select {
	case err := <-p.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done.Done():
		return ErrSessionClosed
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case p := <-d.queue:
			d.send(p)
		case <-d.done.Done():
			for {
				select {
				case p := <-d.queue:
					d.complete(p, ErrSessionClosed)
				default:
					return
				}
			}
		}
	}
}

// send writes every line of p to the routed transport, stopping at the
// first error. Failed commands are dropped, not retried.
func (d *Dispatcher) send(p *pendingCommand) {
	t, err := p.via, error(nil)
	if t == nil {
		t, err = d.cfg.Route()
	}
	if err == nil {
		for _, line := range p.lines {
			if err = d.sendLine(t, line); err != nil {
				break
			}
		}
	}

	if err != nil {
		d.failed.Add(1)
		d.observer.CommandFailed(d.cfg.DeviceID, p.id, err)
		d.logger.Warn("command failed", "device_id", d.cfg.DeviceID, "command", p.id, "error", err)
	} else {
		d.sent.Add(1)
		d.observer.CommandSent(d.cfg.DeviceID, p.id)
	}
	d.complete(p, err)
}

func (d *Dispatcher) sendLine(t Transport, line wireLine) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	if line.reply == "" {
		return t.Send(ctx, line.raw)
	}
	replies, err := t.Query(ctx, line.raw, line.reply)
	if err != nil {
		return err
	}
	if d.cfg.OnReply != nil {
		d.cfg.OnReply(replies)
	}
	return nil
}

func (d *Dispatcher) complete(p *pendingCommand, err error) {
	if p.result != nil {
		p.result <- err
		return
	}
	if err != nil {
		d.reportError(p.id, err)
	}
}

func (d *Dispatcher) reportError(id string, err error) {
	if d.cfg.OnError != nil {
		d.cfg.OnError(id, err)
	}
}

// Close stops the worker and fails queued commands with ErrSessionClosed.
// Held commands are discarded. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, slot := range d.held {
		slot.timer.Stop()
		delete(d.held, id)
	}
	d.mu.Unlock()

	d.done.Close()
	d.cancel()
	d.wg.Wait()
}

// Stats returns operational statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	held := len(d.held)
	d.mu.Unlock()
	return DispatcherStats{
		Sent:      d.sent.Load(),
		Coalesced: d.coalesced.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
		Held:      held,
	}
}
