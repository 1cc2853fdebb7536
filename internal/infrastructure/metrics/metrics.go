package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/avrlink/internal/avr"
)

// Metrics holds every collector and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	commandsSent      *prometheus.CounterVec
	commandsCoalesced *prometheus.CounterVec
	commandErrors     *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	reconnects        *prometheus.CounterVec
	events            *prometheus.CounterVec

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates a Metrics with Go runtime and process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avr_commands_sent_total",
			Help: "Commands written to a receiver.",
		}, []string{"device", "command"}),
		commandsCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avr_commands_coalesced_total",
			Help: "Commands merged into a pending send.",
		}, []string{"device"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avr_command_errors_total",
			Help: "Commands that failed to send.",
		}, []string{"device", "command"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "avr_connection_state",
			Help: "Transport connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}, []string{"device", "transport"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avr_reconnects_total",
			Help: "Transitions into the reconnecting state.",
		}, []string{"device", "transport"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avr_events_total",
			Help: "Status events received from a receiver.",
		}, []string{"device"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total requests by endpoint, method, and status.",
		}, []string{"endpoint", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commandsSent,
		m.commandsCoalesced,
		m.commandErrors,
		m.connectionState,
		m.reconnects,
		m.events,
		m.requests,
		m.duration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CommandSent implements avr.Observer.
func (m *Metrics) CommandSent(deviceID, command string) {
	m.commandsSent.WithLabelValues(deviceID, command).Inc()
}

// CommandCoalesced implements avr.Observer.
func (m *Metrics) CommandCoalesced(deviceID, _ string) {
	m.commandsCoalesced.WithLabelValues(deviceID).Inc()
}

// CommandFailed implements avr.Observer.
func (m *Metrics) CommandFailed(deviceID, command string, _ error) {
	m.commandErrors.WithLabelValues(deviceID, command).Inc()
}

// ConnectionChanged implements avr.Observer.
func (m *Metrics) ConnectionChanged(ev avr.ConnectionEvent) {
	m.connectionState.WithLabelValues(ev.DeviceID, ev.Transport).Set(float64(ev.To))
	if ev.To == avr.StateReconnecting {
		m.reconnects.WithLabelValues(ev.DeviceID, ev.Transport).Inc()
	}
}

// EventsReceived implements avr.Observer.
func (m *Metrics) EventsReceived(deviceID string, n int) {
	if n <= 0 {
		return
	}
	m.events.WithLabelValues(deviceID).Add(float64(n))
}

// ForgetDevice drops every series labelled with deviceID.
func (m *Metrics) ForgetDevice(deviceID string) {
	labels := prometheus.Labels{"device": deviceID}
	m.commandsSent.DeletePartialMatch(labels)
	m.commandsCoalesced.DeletePartialMatch(labels)
	m.commandErrors.DeletePartialMatch(labels)
	m.connectionState.DeletePartialMatch(labels)
	m.reconnects.DeletePartialMatch(labels)
	m.events.DeletePartialMatch(labels)
}

// Middleware counts and times HTTP requests. The endpoint label is the
// chi route pattern when one matched, so path parameters do not create
// new series.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/metrics") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		m.requests.WithLabelValues(endpoint, r.Method, strconv.Itoa(rw.status)).Inc()
		m.duration.WithLabelValues(endpoint, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
