package avr

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

const statusDoc = `<?xml version="1.0" encoding="utf-8" ?>
<item>
<Power><value>ON</value></Power>
<ZonePower><value>ON</value></ZonePower>
<InputFuncSelect><value>NET</value></InputFuncSelect>
<MasterVolume><value>-35.5</value></MasterVolume>
<Mute><value>off</value></Mute>
<selectSurround><value>STEREO</value></selectSurround>
<VolumeLimit><value>-10.0</value></VolumeLimit>
</item>`

// fakeReceiver serves the receiver's HTTP endpoints and records commands.
type fakeReceiver struct {
	mu       sync.Mutex
	commands []string
	status   string
	replies  map[string]string
	code     int
	delay    time.Duration
}

func (f *fakeReceiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	code, delay, status := f.code, f.delay, f.status
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if code != 0 {
		w.WriteHeader(code)
		return
	}

	switch r.URL.Path {
	case statusPath:
		w.Write([]byte(status))
	case commandPath:
		f.mu.Lock()
		f.commands = append(f.commands, r.URL.RawQuery)
		reply := f.replies[r.URL.RawQuery]
		f.mu.Unlock()
		w.Write([]byte(reply))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeReceiver) set(fn func(*fakeReceiver)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func newRequestTest(t *testing.T) (*fakeReceiver, *RequestClient) {
	t.Helper()
	recv := &fakeReceiver{status: statusDoc, replies: make(map[string]string)}
	srv := httptest.NewServer(recv)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	c := NewRequestClient(RequestConfig{Host: host, Port: port, Timeout: 200 * time.Millisecond}, nil)
	t.Cleanup(func() { c.Close() })
	return recv, c
}

func TestRequestClientConnectAndSend(t *testing.T) {
	recv, c := newRequestTest(t)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case <-c.Lost():
		t.Fatal("Lost() closed right after Connect")
	default:
	}

	tests := []struct {
		raw  string
		want string
	}{
		{"MVUP", "MVUP"},
		{"MSPURE DIRECT", "MSPURE%20DIRECT"},
		{"SISAT/CBL", "SISAT/CBL"},
		{"PSDELAY+", "PSDELAY%2B"},
		{"MV?", "MV?"},
	}
	for _, tt := range tests {
		if err := c.Send(ctx, tt.raw); err != nil {
			t.Fatalf("Send(%q) error = %v", tt.raw, err)
		}
	}

	recv.mu.Lock()
	defer recv.mu.Unlock()
	if len(recv.commands) != len(tests) {
		t.Fatalf("receiver got %d commands, want %d", len(recv.commands), len(tests))
	}
	for i, tt := range tests {
		if recv.commands[i] != tt.want {
			t.Errorf("command %d query = %q, want %q", i, recv.commands[i], tt.want)
		}
	}
}

func TestEscapeCommand(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"PWON", "PWON"},
		{"MNMEN ON", "MNMEN%20ON"},
		{"SISAT/CBL", "SISAT/CBL"},
		{"PSCLV+", "PSCLV%2B"},
		{"MSNEURAL:X", "MSNEURAL:X"},
		{"MV?", "MV?"},
		{"MSDOLBY DIGITAL", "MSDOLBY%20DIGITAL"},
		{"Z2?", "Z2?"},
	}
	for _, tt := range tests {
		if got := escapeCommand(tt.raw); got != tt.want {
			t.Errorf("escapeCommand(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestRequestClientQuery(t *testing.T) {
	recv, c := newRequestTest(t)
	recv.replies["MV?"] = "MV45\rMVMAX 70\rSICD\r"
	ctx := context.Background()

	lines, err := c.Query(ctx, "MV?", "MV")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(lines) != 2 || lines[0] != "MV45" || lines[1] != "MVMAX 70" {
		t.Errorf("Query() = %v, want [MV45 MVMAX 70]", lines)
	}

	if _, err := c.Query(ctx, "PW?", "PW"); !errors.Is(err, ErrProtocolError) {
		t.Errorf("Query() with empty reply error = %v, want ErrProtocolError", err)
	}
}

func TestRequestClientPoll(t *testing.T) {
	_, c := newRequestTest(t)

	updates, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	r := NewReconciler("avr")
	r.Apply(updates...)
	state := r.State()

	if state.Power != PowerOn {
		t.Errorf("Power = %q, want on", state.Power)
	}
	if state.MaxVolume != 70 || !state.MaxVolumeReported {
		t.Errorf("MaxVolume = %v (reported %v), want 70", state.MaxVolume, state.MaxVolumeReported)
	}
	if state.Volume == nil || *state.Volume != 44.5 {
		t.Errorf("Volume = %v, want 44.5", state.Volume)
	}
	if state.Muted == nil || *state.Muted {
		t.Errorf("Muted = %v, want false", state.Muted)
	}
	if state.Input == nil || *state.Input != "NET" {
		t.Errorf("Input = %v, want NET", state.Input)
	}
	if state.SoundMode == nil || *state.SoundMode != "STEREO" {
		t.Errorf("SoundMode = %v, want STEREO", state.SoundMode)
	}
	if state.ImageURL == nil || *state.ImageURL != c.baseURL+artworkPath {
		t.Errorf("ImageURL = %v, want artwork URL", state.ImageURL)
	}
}

func TestRequestClientPollStandby(t *testing.T) {
	recv, c := newRequestTest(t)
	recv.set(func(f *fakeReceiver) {
		f.status = `<item><Power><value>STANDBY</value></Power><ZonePower><value>OFF</value></ZonePower>` +
			`<InputFuncSelect><value>CD</value></InputFuncSelect><MasterVolume><value>--</value></MasterVolume></item>`
	})

	updates, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	r := NewReconciler("avr")
	r.Apply(updates...)
	state := r.State()

	if state.Power != PowerStandby {
		t.Errorf("Power = %q, want standby", state.Power)
	}
	if state.Volume == nil || *state.Volume != 0 {
		t.Errorf("Volume = %v, want 0", state.Volume)
	}
	if state.ImageURL != nil {
		t.Errorf("ImageURL = %q, want nil for a local source", *state.ImageURL)
	}
}

func TestRequestClientErrors(t *testing.T) {
	t.Run("server error is a protocol error", func(t *testing.T) {
		recv, c := newRequestTest(t)
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		recv.set(func(f *fakeReceiver) { f.code = http.StatusInternalServerError })

		if err := c.Send(context.Background(), "PWON"); !errors.Is(err, ErrProtocolError) {
			t.Errorf("Send() error = %v, want ErrProtocolError", err)
		}
		select {
		case <-c.Lost():
			t.Error("HTTP status error marked the connection lost")
		default:
		}
	})

	t.Run("slow reply is a timeout", func(t *testing.T) {
		recv, c := newRequestTest(t)
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		recv.set(func(f *fakeReceiver) { f.delay = 500 * time.Millisecond })

		if err := c.Send(context.Background(), "PWON"); !errors.Is(err, ErrTimeout) {
			t.Errorf("Send() error = %v, want ErrTimeout", err)
		}
	})

	t.Run("failed poll signals loss", func(t *testing.T) {
		recv, c := newRequestTest(t)
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		recv.set(func(f *fakeReceiver) { f.code = http.StatusServiceUnavailable })

		if _, err := c.Poll(context.Background()); err == nil {
			t.Fatal("Poll() error = nil, want error")
		}
		select {
		case <-c.Lost():
		default:
			t.Error("Lost() not closed after failed poll")
		}
	})

	t.Run("unreachable host fails connect", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		c := NewRequestClient(RequestConfig{Host: "127.0.0.1", Port: port}, nil)
		defer c.Close()
		if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
			t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
		}
	})
}
