package avr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTransport records sent commands and lets tests script connection
// outcomes and losses.
type fakeTransport struct {
	name string

	mu          sync.Mutex
	connectErrs []error
	connects    int
	sendErr     error
	replies     map[string][]string
	sent        []string
	lost        *closeOnce
	closed      int

	sentCh chan string
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		name:    name,
		replies: make(map[string][]string),
		sentCh:  make(chan string, 256),
	}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.lost = newCloseOnce()
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, raw string) error {
	f.mu.Lock()
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, raw)
	}
	f.mu.Unlock()
	if err == nil {
		f.sentCh <- raw
	}
	return err
}

func (f *fakeTransport) Query(ctx context.Context, raw, prefix string) ([]string, error) {
	if err := f.Send(ctx, raw); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, ok := f.replies[raw]
	if !ok {
		return nil, ErrTimeout
	}
	return lines, nil
}

func (f *fakeTransport) Lost() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost == nil {
		return closedChan
	}
	return f.lost.Done()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	if f.lost != nil {
		f.lost.Close()
	}
	f.mu.Unlock()
	return nil
}

// drop simulates the connection going away.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	if f.lost != nil {
		f.lost.Close()
	}
	f.mu.Unlock()
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// fakeStream adds an event channel per connection.
type fakeStream struct {
	*fakeTransport

	evMu   sync.Mutex
	events chan string
}

func newFakeStream() *fakeStream {
	return &fakeStream{fakeTransport: newFakeTransport(TransportTelnet)}
}

func (f *fakeStream) Connect(ctx context.Context) error {
	if err := f.fakeTransport.Connect(ctx); err != nil {
		return err
	}
	f.evMu.Lock()
	f.events = make(chan string, 64)
	f.evMu.Unlock()
	return nil
}

func (f *fakeStream) Events() <-chan string {
	f.evMu.Lock()
	defer f.evMu.Unlock()
	return f.events
}

func (f *fakeStream) emit(lines ...string) {
	f.evMu.Lock()
	ch := f.events
	f.evMu.Unlock()
	for _, l := range lines {
		ch <- l
	}
}

func (f *fakeStream) drop() {
	f.evMu.Lock()
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	f.evMu.Unlock()
	f.fakeTransport.drop()
}

func (f *fakeStream) Close() error {
	f.drop()
	return f.fakeTransport.Close()
}

// slowStream holds every write open for delay and records the highest
// number of writes that overlapped.
type slowStream struct {
	*fakeStream
	delay time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *slowStream) Send(ctx context.Context, raw string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return f.fakeStream.Send(ctx, raw)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testIdentity(id string) DeviceIdentity {
	return DeviceIdentity{
		ID:                id,
		Name:              "Living Room",
		Host:              "127.0.0.1",
		Manufacturer:      Denon,
		Zones:             2,
		SupportsSoundMode: true,
	}
}
