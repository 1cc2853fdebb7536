// Package api provides the HTTP REST API and WebSocket server for avrlink.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/avrlink/internal/audit"
	"github.com/nerrad567/avrlink/internal/automation"
	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/device"
	"github.com/nerrad567/avrlink/internal/infrastructure/config"
	"github.com/nerrad567/avrlink/internal/infrastructure/logging"
	"github.com/nerrad567/avrlink/internal/infrastructure/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of *avr.Registry the API drives.
type Engine interface {
	Submit(ctx context.Context, id, command string, params avr.Params) error
	SubmitSequence(ctx context.Context, id string, commands []string, repeat int) error
	Release(id, command string) error
	State(id string) (avr.DeviceState, error)
	Subscribe(id string) (<-chan avr.Event, func(), error)
	Reconnect(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) error
	Commands(id string) ([]avr.CommandSpec, error)
	Stats(id string) (avr.SessionStats, error)
	Device(id string) (avr.DeviceInfo, error)
	Devices() []avr.DeviceInfo
	Summary() avr.Summary
	OnLifecycle(fn func(avr.ConnectionEvent))
}

// DeviceStore is the part of *device.Catalog the API drives.
type DeviceStore interface {
	Add(ctx context.Context, d device.Device) (*device.Device, error)
	Update(ctx context.Context, d device.Device) (*device.Device, error)
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*device.Device, error)
	List(ctx context.Context) ([]device.Device, error)
	ConnectionEvents(ctx context.Context, id string, limit int) ([]device.ConnectionEventRecord, error)
}

// ConnectionChecker reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Engine  Engine
	Devices DeviceStore
	Metrics *metrics.Metrics  // optional: enables /metrics and request instrumentation
	MQTT    ConnectionChecker // optional: reported by /health and /system
	DB      *sql.DB           // optional: pool stats in /system
	Version string

	// Scenes are optional; /scenes routes are mounted only when all three are set.
	Scenes      *automation.Registry
	SceneEngine *automation.Engine
	SceneRepo   automation.Repository

	// SceneScheduler is resynced after scene changes. Optional.
	SceneScheduler *automation.Scheduler

	// Audit is optional; when set, changes and commands are recorded.
	Audit audit.Repository
}

// Server is the HTTP API server for avrlink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	engine    Engine
	devices   DeviceStore
	metrics   *metrics.Metrics
	mqtt      ConnectionChecker
	db        *sql.DB
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()

	// Per-device engine subscriptions relayed to the hub.
	relayMu   sync.Mutex
	relays    map[string]func()
	relayWG   sync.WaitGroup
	resync    chan struct{}
	relayDone bool

	scenes      *automation.Registry
	sceneEngine *automation.Engine
	sceneRepo   automation.Repository
	scheduler   *automation.Scheduler

	audit   audit.Repository
	auditCh chan *audit.Entry
	auditWG sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device store is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		engine:    deps.Engine,
		devices:   deps.Devices,
		metrics:   deps.Metrics,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		relays:    make(map[string]func()),
		resync:    make(chan struct{}, 1),

		scenes:      deps.Scenes,
		sceneEngine: deps.SceneEngine,
		sceneRepo:   deps.SceneRepo,
		scheduler:   deps.SceneScheduler,

		audit: deps.Audit,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the engine event relay, then launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	s.startWorkers(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startWorkers runs the hub and the event relay until Close.
func (s *Server) startWorkers(ctx context.Context) {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.startRelay(srvCtx)

	if s.audit != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
		s.auditWG.Add(1)
		go s.drainAuditLog(srvCtx)
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections. Background workers stop after
// the listener so audit entries from those requests are still written.
func (s *Server) Close() error {
	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		s.logger.Info("API server shutting down")
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("shutting down API server: %w", err)
		}
		cancel()
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.stopRelay()
	s.auditWG.Wait()
	return shutdownErr
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
