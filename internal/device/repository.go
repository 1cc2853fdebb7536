package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// Repository persists devices. Implementations must be safe for concurrent
// use.
type Repository interface {
	// GetByID returns ErrDeviceNotFound for unknown IDs.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns all devices ordered by ID.
	List(ctx context.Context) ([]Device, error)

	// Create returns ErrDeviceExists if the ID or endpoint is taken.
	Create(ctx context.Context, device *Device) error

	// Update returns ErrDeviceNotFound for unknown IDs.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound for unknown IDs.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, host, manufacturer, model, mode, zones, sound_mode,
	volume_step, http_port, telnet_port, created_at, updated_at`

// GetByID retrieves a device by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a device and sets its timestamps. Timestamps are stored
// with second precision, and device carries exactly what was stored.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := storedNow()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.CreatedAt = device.CreatedAt.UTC().Truncate(time.Second)
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.Name,
		device.Host,
		string(device.Manufacturer),
		device.Model,
		string(device.Mode),
		device.Zones,
		boolToInt(device.SupportsSoundMode),
		device.VolumeStep,
		device.HTTPPort,
		device.TelnetPort,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, device.ID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces every mutable column of a device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	device.UpdatedAt = storedNow()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, host = ?, manufacturer = ?, model = ?, mode = ?, zones = ?,
			sound_mode = ?, volume_step = ?, http_port = ?, telnet_port = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		device.Host,
		string(device.Manufacturer),
		device.Model,
		string(device.Mode),
		device.Zones,
		boolToInt(device.SupportsSoundMode),
		device.VolumeStep,
		device.HTTPPort,
		device.TelnetPort,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: endpoint %s in use", ErrDeviceExists, device.Host)
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device and, by cascade, its connection events.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// storedNow is the current time at the precision of the timestamp columns.
func storedNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d                    Device
		manufacturer, mode   string
		soundMode            int
		createdAt, updatedAt string
	)
	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Host,
		&manufacturer,
		&d.Model,
		&mode,
		&d.Zones,
		&soundMode,
		&d.VolumeStep,
		&d.HTTPPort,
		&d.TelnetPort,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Manufacturer = avr.Manufacturer(manufacturer)
	d.Mode = avr.ConnectionMode(mode)
	d.SupportsSoundMode = soundMode != 0
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by Create
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by Create/Update
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
