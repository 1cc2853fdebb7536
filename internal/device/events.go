package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventRepository stores connection transitions.
type EventRepository interface {
	// RecordConnectionEvent appends one transition.
	RecordConnectionEvent(ctx context.Context, rec ConnectionEventRecord) error

	// ListConnectionEvents returns a device's transitions, newest first.
	// limit is clamped to [1, 500]; zero means 50.
	ListConnectionEvents(ctx context.Context, deviceID string, limit int) ([]ConnectionEventRecord, error)

	// PruneConnectionEvents keeps the newest keep transitions per device
	// and returns the number removed.
	PruneConnectionEvents(ctx context.Context, keep int) (int64, error)
}

// SQLiteEventRepository implements EventRepository on the
// connection_events table.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates an event repository on an open,
// migrated database.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// RecordConnectionEvent inserts a transition. Events for devices that are
// not stored are rejected by the foreign key.
func (r *SQLiteEventRepository) RecordConnectionEvent(ctx context.Context, rec ConnectionEventRecord) error {
	if rec.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidDevice)
	}
	at := rec.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_events (device_id, transport, from_state, to_state, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DeviceID, rec.Transport, rec.From, rec.To, rec.Error,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	return nil
}

// ListConnectionEvents returns recent transitions for a device.
func (r *SQLiteEventRepository) ListConnectionEvents(ctx context.Context, deviceID string, limit int) ([]ConnectionEventRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, transport, from_state, to_state, error, occurred_at
		FROM connection_events
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := make([]ConnectionEventRecord, 0, limit)
	for rows.Next() {
		var (
			rec        ConnectionEventRecord
			occurredAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Transport, &rec.From, &rec.To, &rec.Error, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		rec.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

// PruneConnectionEvents trims each device's history to its newest keep rows.
func (r *SQLiteEventRepository) PruneConnectionEvents(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM connection_events
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY id DESC) AS rn
				FROM connection_events
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning connection events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
