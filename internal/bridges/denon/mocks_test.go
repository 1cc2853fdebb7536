package denon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// SimulateMessage delivers a message to the handler whose pattern matches
// topic, with "+" matching one level.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

func topicMatches(pattern, topic string) bool {
	p, t := strings.Split(pattern, "/"), strings.Split(topic, "/")
	if len(p) != len(t) {
		return false
	}
	for i := range p {
		if p[i] != "+" && p[i] != t[i] {
			return false
		}
	}
	return true
}

// waitPublish waits for a publish on topic that satisfies match.
func (m *MockMQTTClient) waitPublish(t *testing.T, topic string, match func(mockPublish) bool) mockPublish {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range m.GetPublished() {
			if p.Topic == topic && (match == nil || match(p)) {
				return p
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no matching publish on %s", topic)
	return mockPublish{}
}

func decode[T any](t *testing.T, p mockPublish) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(p.Payload, &v); err != nil {
		t.Fatalf("decoding %s: %v", p.Topic, err)
	}
	return v
}

type submitCall struct {
	DeviceID string
	Command  string
	Params   avr.Params
	Sequence []string
	Repeat   int
	Release  bool
}

type fakeDevice struct {
	info  avr.DeviceInfo
	state avr.DeviceState
	subs  []chan avr.Event
}

// fakeEngine implements Engine in memory.
type fakeEngine struct {
	mu        sync.Mutex
	devices   map[string]*fakeDevice
	calls     []submitCall
	submitErr error
	refreshed []string
	listeners []func(avr.ConnectionEvent)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{devices: make(map[string]*fakeDevice)}
}

func (e *fakeEngine) add(id string, state avr.DeviceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices[id] = &fakeDevice{
		info: avr.DeviceInfo{
			Identity:        avr.DeviceIdentity{ID: id, Host: "10.0.0.1", Manufacturer: avr.Denon, Zones: 1},
			Mode:            avr.ModeTelnet,
			ConnectionState: avr.StateConnected,
			Available:       true,
		},
		state: state,
	}
}

func (e *fakeEngine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.devices[id]; ok {
		for _, ch := range d.subs {
			close(ch)
		}
		delete(e.devices, id)
	}
}

func (e *fakeEngine) emit(id string, ev avr.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[id]
	if !ok {
		return
	}
	if ev.Change != nil {
		d.state = ev.Change.State
	}
	for _, ch := range d.subs {
		ch <- ev
	}
}

func (e *fakeEngine) fireLifecycle(ev avr.ConnectionEvent) {
	e.mu.Lock()
	listeners := append([]func(avr.ConnectionEvent){}, e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (e *fakeEngine) subscribers(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.devices[id]; ok {
		return len(d.subs)
	}
	return 0
}

func (e *fakeEngine) getCalls() []submitCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]submitCall(nil), e.calls...)
}

func (e *fakeEngine) record(c submitCall) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.devices[c.DeviceID]; !ok {
		return fmt.Errorf("%w: %s", avr.ErrDeviceNotFound, c.DeviceID)
	}
	e.calls = append(e.calls, c)
	return e.submitErr
}

func (e *fakeEngine) Submit(_ context.Context, id, command string, params avr.Params) error {
	return e.record(submitCall{DeviceID: id, Command: command, Params: params})
}

func (e *fakeEngine) SubmitSequence(_ context.Context, id string, commands []string, repeat int) error {
	return e.record(submitCall{DeviceID: id, Sequence: commands, Repeat: repeat})
}

func (e *fakeEngine) Release(id, command string) error {
	return e.record(submitCall{DeviceID: id, Command: command, Release: true})
}

func (e *fakeEngine) State(id string) (avr.DeviceState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[id]
	if !ok {
		return avr.DeviceState{}, avr.ErrDeviceNotFound
	}
	return d.state, nil
}

func (e *fakeEngine) Subscribe(id string) (<-chan avr.Event, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[id]
	if !ok {
		return nil, nil, avr.ErrDeviceNotFound
	}
	ch := make(chan avr.Event, 16)
	d.subs = append(d.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if d, ok := e.devices[id]; ok {
				for i, c := range d.subs {
					if c == ch {
						d.subs = append(d.subs[:i], d.subs[i+1:]...)
						close(ch)
						return
					}
				}
			}
		})
	}, nil
}

func (e *fakeEngine) Reconnect(_ context.Context, id string) error {
	if !e.Has(id) {
		return avr.ErrDeviceNotFound
	}
	return nil
}

func (e *fakeEngine) Refresh(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.devices[id]; !ok {
		return avr.ErrDeviceNotFound
	}
	e.refreshed = append(e.refreshed, id)
	return nil
}

func (e *fakeEngine) Has(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.devices[id]
	return ok
}

func (e *fakeEngine) Device(id string) (avr.DeviceInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.devices[id]
	if !ok {
		return avr.DeviceInfo{}, avr.ErrDeviceNotFound
	}
	return d.info, nil
}

func (e *fakeEngine) Devices() []avr.DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]avr.DeviceInfo, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, d.info)
	}
	return out
}

func (e *fakeEngine) Summary() avr.Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := avr.Summary{Total: len(e.devices)}
	for _, d := range e.devices {
		if d.info.ConnectionState == avr.StateConnected {
			s.Connected++
		}
	}
	return s
}

func (e *fakeEngine) OnLifecycle(fn func(avr.ConnectionEvent)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

type telemetryPoint struct {
	DeviceID string
	Tags     map[string]string
	Fields   map[string]any
}

// fakeTelemetry records telemetry writes.
type fakeTelemetry struct {
	mu          sync.Mutex
	points      []telemetryPoint
	transitions []string
}

func (f *fakeTelemetry) WriteDeviceState(deviceID string, tags map[string]string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, telemetryPoint{DeviceID: deviceID, Tags: tags, Fields: fields})
}

func (f *fakeTelemetry) WriteConnectionEvent(deviceID, transport, from, to, _ string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, deviceID+" "+transport+" "+from+"->"+to)
}

func (f *fakeTelemetry) snapshot() ([]telemetryPoint, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telemetryPoint(nil), f.points...), append([]string(nil), f.transitions...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ptr[T any](v T) *T { return &v }
