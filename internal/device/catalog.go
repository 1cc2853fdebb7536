package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/infrastructure/config"
)

// eventQueueSize bounds connection events waiting to be stored.
const eventQueueSize = 256

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Defaults are the engine settings devices inherit.
	Defaults config.AVRConfig

	// Observer receives engine metrics for every registered session.
	Observer avr.Observer

	Logger avr.Logger
}

// Catalog keeps the device store and the live avr.Registry in step.
//
// Every stored device has a session in the registry, and a device is only
// registered after it has been stored. Connection transitions reported by
// the registry are appended to the event store on a background goroutine.
//
// All public methods are thread-safe.
type Catalog struct {
	repo     Repository
	events   EventRepository
	registry *avr.Registry
	opts     CatalogOptions
	logger   avr.Logger

	// mu serialises writes so store and registry never disagree.
	mu sync.Mutex

	queue   chan ConnectionEventRecord
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewCatalog creates a catalog and starts recording connection events.
// events may be nil to skip recording.
func NewCatalog(repo Repository, events EventRepository, registry *avr.Registry, opts CatalogOptions) *Catalog {
	c := &Catalog{
		repo:     repo,
		events:   events,
		registry: registry,
		opts:     opts,
		logger:   opts.Logger,
		queue:    make(chan ConnectionEventRecord, eventQueueSize),
		done:     make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}

	if events != nil {
		registry.OnLifecycle(c.enqueue)
		c.wg.Add(1)
		go c.recordLoop()
	}
	return c
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Seed stores config devices that are not stored yet. Stored rows win, so
// edits made through the API survive restarts. Invalid seeds are logged
// and skipped; the number inserted is returned.
func (c *Catalog) Seed(ctx context.Context, seeds []config.DeviceConfig) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := 0
	for _, seed := range seeds {
		d := FromConfig(seed)
		if err := Validate(d); err != nil {
			c.logger.Warn("skipping invalid device seed", "device_id", seed.ID, "error", err)
			continue
		}

		_, err := c.repo.GetByID(ctx, d.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, ErrDeviceNotFound):
			return inserted, fmt.Errorf("checking seed %s: %w", d.ID, err)
		}

		if err := c.repo.Create(ctx, &d); err != nil {
			if errors.Is(err, ErrDeviceExists) {
				c.logger.Warn("device seed endpoint already in use", "device_id", d.ID, "host", d.Host)
				continue
			}
			return inserted, fmt.Errorf("seeding %s: %w", d.ID, err)
		}
		inserted++
	}

	if inserted > 0 {
		c.logger.Info("device seeds stored", "count", inserted)
	}
	return inserted, nil
}

// Load registers every stored device that is not registered yet. A device
// that cannot be reached stays registered and keeps retrying.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	devices, err := c.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	var errs []error
	for _, d := range devices {
		if c.registry.Has(d.ID) {
			continue
		}
		if err := c.register(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("registering %s: %w", d.ID, err))
		}
	}

	c.logger.Info("devices loaded", "count", len(devices), "failed", len(errs))
	return errors.Join(errs...)
}

// Add validates, stores and registers a device. If registration fails the
// stored row is removed again.
func (c *Catalog) Add(ctx context.Context, d Device) (*Device, error) {
	if d.Zones == 0 {
		d.Zones = 1
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registry.Has(d.ID) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	if err := c.repo.Create(ctx, &d); err != nil {
		return nil, err
	}

	if err := c.register(ctx, d); err != nil {
		if delErr := c.repo.Delete(ctx, d.ID); delErr != nil {
			c.logger.Error("rolling back device failed", "device_id", d.ID, "error", delErr)
		}
		return nil, fmt.Errorf("registering device: %w", err)
	}

	c.logger.Info("device added", "device_id", d.ID, "host", d.Host, "manufacturer", string(d.Manufacturer))
	return &d, nil
}

// Update stores new settings for an existing device and replaces its
// session. The device ID and creation time cannot change.
func (c *Catalog) Update(ctx context.Context, d Device) (*Device, error) {
	if d.Zones == 0 {
		d.Zones = 1
	}
	if err := Validate(d); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.repo.GetByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = existing.CreatedAt

	if err := c.repo.Update(ctx, &d); err != nil {
		return nil, err
	}

	if err := c.registry.Remove(d.ID); err != nil && !errors.Is(err, avr.ErrDeviceNotFound) {
		return nil, fmt.Errorf("removing old session: %w", err)
	}
	if err := c.register(ctx, d); err != nil {
		return nil, fmt.Errorf("registering device: %w", err)
	}

	c.logger.Info("device updated", "device_id", d.ID)
	return &d, nil
}

// Remove disconnects a device and deletes it with its event history.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.registry.Remove(id); err != nil && !errors.Is(err, avr.ErrDeviceNotFound) {
		return fmt.Errorf("removing session: %w", err)
	}

	c.logger.Info("device removed", "device_id", id)
	return nil
}

// Get returns a stored device.
func (c *Catalog) Get(ctx context.Context, id string) (*Device, error) {
	return c.repo.GetByID(ctx, id)
}

// List returns every stored device ordered by ID.
func (c *Catalog) List(ctx context.Context) ([]Device, error) {
	devices, err := c.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(devices, func(a, b Device) int { return strings.Compare(a.ID, b.ID) })
	return devices, nil
}

// ConnectionEvents returns a device's recorded transitions, newest first.
func (c *Catalog) ConnectionEvents(ctx context.Context, id string, limit int) ([]ConnectionEventRecord, error) {
	if c.events == nil {
		return nil, nil
	}
	if _, err := c.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return c.events.ListConnectionEvents(ctx, id, limit)
}

// DroppedEvents returns how many transitions were not stored because the
// queue was full.
func (c *Catalog) DroppedEvents() uint64 {
	return c.dropped.Load()
}

// Close stops event recording after draining queued events. Registered
// sessions are left to the registry's owner.
func (c *Catalog) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.wg.Wait()
}

func (c *Catalog) register(ctx context.Context, d Device) error {
	opts := d.SessionOptions(c.opts.Defaults)
	opts.Observer = c.opts.Observer
	return c.registry.Add(ctx, d.Identity(), opts)
}

// enqueue runs on controller goroutines and must not block.
func (c *Catalog) enqueue(ev avr.ConnectionEvent) {
	if c.closed.Load() {
		return
	}
	select {
	case c.queue <- RecordFromEvent(ev):
	default:
		c.dropped.Add(1)
	}
}

func (c *Catalog) recordLoop() {
	defer c.wg.Done()
	for {
		select {
		case rec := <-c.queue:
			c.record(rec)
		case <-c.done:
			for {
				select {
				case rec := <-c.queue:
					c.record(rec)
				default:
					return
				}
			}
		}
	}
}

func (c *Catalog) record(rec ConnectionEventRecord) {
	if err := c.events.RecordConnectionEvent(context.Background(), rec); err != nil {
		// Transitions can race a device's deletion.
		c.logger.Debug("connection event not stored", "device_id", rec.DeviceID, "error", err)
	}
}
