package avr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Transport names used in connection events and metrics.
const (
	TransportHTTP   = "http"
	TransportTelnet = "telnet"
)

// Default ports and timeouts.
const (
	DefaultHTTPPort   = 80
	DefaultTelnetPort = 23

	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 2 * time.Second
	defaultWriteTimeout   = 2 * time.Second

	// queryWindow is how long to keep collecting reply lines after the
	// first match.
	queryWindow = 100 * time.Millisecond

	// maxReplyLines bounds the lines collected for one query.
	maxReplyLines = 8

	// eventBufferSize is the per-connection event channel buffer.
	eventBufferSize = 256
)

// Transport is the contract shared by the request/response and stream
// clients. Implementations never retry; that is the Controller's job.
type Transport interface {
	// Name identifies the transport ("http" or "telnet").
	Name() string

	// Connect establishes a connection. It may be called again after the
	// connection is lost.
	Connect(ctx context.Context) error

	// Send writes a raw command without waiting for a reply.
	Send(ctx context.Context, raw string) error

	// Query writes a raw command and returns reply lines starting with prefix.
	Query(ctx context.Context, raw, prefix string) ([]string, error)

	// Lost is closed when the current connection ends.
	Lost() <-chan struct{}

	// Close tears the transport down. It is idempotent.
	Close() error
}

// EventSource is implemented by transports that push unsolicited events.
type EventSource interface {
	// Events returns the current connection's event lines. The channel is
	// closed when that connection ends; a new one is created on Connect.
	Events() <-chan string
}

// Poller is implemented by transports that can fetch a full status snapshot.
type Poller interface {
	Poll(ctx context.Context) ([]Update, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// scanLines splits on CR, LF or CRLF.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		j := i + 1
		if data[i] == '\r' && j < len(data) && data[j] == '\n' {
			j++
		}
		return j, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// splitLines returns the non-empty lines of b.
func splitLines(b []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Split(scanLines)
	for sc.Scan() {
		if line := string(bytes.TrimSpace(sc.Bytes())); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// classifyError maps a network error onto the package's error kinds.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectionLost, op, err)
}

// withDefaultTimeout bounds ctx by d unless it already has an earlier deadline.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
