package avr

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	Host string
	Port int

	// ConnectTimeout bounds the TCP dial. Default: 5 seconds.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each command write. Default: 2 seconds.
	WriteTimeout time.Duration

	// QueryTimeout bounds the wait for a query's first reply. Default: 2 seconds.
	QueryTimeout time.Duration
}

// StreamStats holds operational statistics.
type StreamStats struct {
	LinesRx      uint64
	LinesTx      uint64
	ErrorsTotal  uint64
	Connects     uint64
	LastActivity time.Time
	Connected    bool
}

// StreamClient holds one persistent telnet connection to a receiver. A
// receive loop splits incoming bytes into CR-terminated lines and delivers
// them on Events. Writes are serialised so concurrent commands never
// interleave on the socket.
type StreamClient struct {
	cfg    StreamConfig
	logger Logger

	// Current connection, replaced on every Connect.
	connMu sync.Mutex
	conn   net.Conn
	events chan string
	lost   *closeOnce

	writeMu sync.Mutex

	waitersMu sync.Mutex
	waiters   map[*replyWaiter]struct{}

	done *closeOnce
	wg   sync.WaitGroup

	linesRx      atomic.Uint64
	linesTx      atomic.Uint64
	errorsTotal  atomic.Uint64
	connects     atomic.Uint64
	lastActivity atomic.Int64
}

type replyWaiter struct {
	prefix string
	ch     chan string
}

var (
	_ Transport   = (*StreamClient)(nil)
	_ EventSource = (*StreamClient)(nil)
)

// NewStreamClient creates an unconnected stream client.
func NewStreamClient(cfg StreamConfig, logger Logger) *StreamClient {
	if cfg.Port == 0 {
		cfg.Port = DefaultTelnetPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &StreamClient{
		cfg:     cfg,
		logger:  logger,
		waiters: make(map[*replyWaiter]struct{}),
		done:    newCloseOnce(),
	}
}

// Name implements Transport.
func (c *StreamClient) Name() string { return TransportTelnet }

// Connect dials the receiver and starts the receive loop. Any previous
// connection is closed first.
func (c *StreamClient) Connect(ctx context.Context) error {
	if c.done.IsClosed() {
		return ErrSessionClosed
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := net.Dialer{KeepAlive: 30 * time.Second}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	events := make(chan string, eventBufferSize)
	lost := newCloseOnce()

	c.connMu.Lock()
	if c.done.IsClosed() {
		c.connMu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.events = events
	c.lost = lost
	c.connMu.Unlock()

	c.connects.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.wg.Add(1)
	go c.receiveLoop(conn, events, lost)

	c.logger.Debug("telnet connected", "addr", addr)
	return nil
}

// receiveLoop reads lines until the connection fails or is closed. On exit
// it closes the event channel and signals loss.
func (c *StreamClient) receiveLoop(conn net.Conn, events chan<- string, lost *closeOnce) {
	defer c.wg.Done()
	defer func() {
		conn.Close()
		close(events)
		lost.Close()

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
	}()

	sc := bufio.NewScanner(conn)
	sc.Split(scanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.linesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.deliverReply(line)

		select {
		case events <- line:
		case <-c.done.Done():
			return
		}
	}

	if err := sc.Err(); err != nil && !c.done.IsClosed() {
		c.errorsTotal.Add(1)
		c.logger.Warn("telnet receive failed", "host", c.cfg.Host, "error", err)
	}
}

func (c *StreamClient) deliverReply(line string) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	for w := range c.waiters {
		if strings.HasPrefix(line, w.prefix) {
			select {
			case w.ch <- line:
			default:
			}
		}
	}
}

// Events implements EventSource.
func (c *StreamClient) Events() <-chan string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.events
}

// Lost implements Transport.
func (c *StreamClient) Lost() <-chan struct{} {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.lost == nil {
		return closedChan
	}
	return c.lost.Done()
}

// IsConnected reports whether a connection is open.
func (c *StreamClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Send writes raw followed by CR.
func (c *StreamClient) Send(ctx context.Context, raw string) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return classifyError("set write deadline", err)
	}

	if _, err := conn.Write([]byte(raw + "\r")); err != nil {
		c.errorsTotal.Add(1)
		// Force the receive loop to exit so the loss is observed.
		conn.Close()
		return classifyError("write", err)
	}

	c.linesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Query sends raw and collects reply lines that start with prefix. After
// the first match it keeps collecting for a short window. Matching lines
// are still delivered on Events.
func (c *StreamClient) Query(ctx context.Context, raw, prefix string) ([]string, error) {
	w := &replyWaiter{prefix: prefix, ch: make(chan string, maxReplyLines)}
	c.waitersMu.Lock()
	c.waiters[w] = struct{}{}
	c.waitersMu.Unlock()
	defer func() {
		c.waitersMu.Lock()
		delete(c.waiters, w)
		c.waitersMu.Unlock()
	}()

	lost := c.Lost()
	if err := c.Send(ctx, raw); err != nil {
		return nil, err
	}

	ctx, cancel := withDefaultTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	var lines []string
	select {
	case line := <-w.ch:
		lines = append(lines, line)
	case <-lost:
		return nil, fmt.Errorf("%w: connection closed awaiting %q", ErrConnectionLost, prefix)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: no %q reply to %q", ErrTimeout, prefix, raw)
	}

	window := time.NewTimer(queryWindow)
	defer window.Stop()
	for len(lines) < maxReplyLines {
		select {
		case line := <-w.ch:
			lines = append(lines, line)
		case <-window.C:
			return lines, nil
		case <-ctx.Done():
			return lines, nil
		}
	}
	return lines, nil
}

// Close closes the connection and stops the receive loop. Calling Close more
// than once is a no-op.
func (c *StreamClient) Close() error {
	if c.done.IsClosed() {
		return nil
	}
	c.done.Close()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// Stats returns operational statistics.
func (c *StreamClient) Stats() StreamStats {
	return StreamStats{
		LinesRx:      c.linesRx.Load(),
		LinesTx:      c.linesTx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Connects:     c.connects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}
