package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists scenes and their execution history. Implementations
// must be safe for concurrent use.
type Repository interface {
	// GetByID returns ErrSceneNotFound for unknown IDs.
	GetByID(ctx context.Context, id string) (*Scene, error)

	// List returns every scene in display order.
	List(ctx context.Context) ([]Scene, error)

	// ListByDevice returns the scenes with at least one action addressed
	// to deviceID, in display order.
	ListByDevice(ctx context.Context, deviceID string) ([]Scene, error)

	// Create returns ErrSceneExists if the ID or slug is taken.
	Create(ctx context.Context, scene *Scene) error

	// Update returns ErrSceneNotFound for unknown IDs.
	Update(ctx context.Context, scene *Scene) error

	// SetEnabled changes only the enabled flag and the update time.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Delete removes a scene and, by cascade, its executions.
	Delete(ctx context.Context, id string) error

	// SaveExecution inserts exec or overwrites its progress fields.
	SaveExecution(ctx context.Context, exec *SceneExecution) error

	// GetExecution returns ErrExecutionNotFound for unknown IDs.
	GetExecution(ctx context.Context, id string) (*SceneExecution, error)

	// ListExecutions returns a scene's executions, newest first.
	ListExecutions(ctx context.Context, sceneID string, limit int) ([]SceneExecution, error)

	// PruneExecutions keeps the newest keep executions of a scene and
	// returns how many were deleted.
	PruneExecutions(ctx context.Context, sceneID string, keep int) (int64, error)
}

// Execution list bounds.
const (
	defaultExecutionLimit = 10
	maxExecutionLimit     = 100
)

const sceneColumns = `id, name, slug, description, enabled, category, actions,
	sort_order, schedule, created_at, updated_at`

const executionColumns = `id, scene_id, triggered_at, started_at, completed_at,
	trigger_type, trigger_source, status,
	actions_total, actions_completed, actions_failed, actions_skipped,
	failures, duration_ms`

// sceneOrder matches the registry's in-memory ordering.
const sceneOrder = ` ORDER BY sort_order, name`

// SQLiteRepository implements Repository on the scenes and
// scene_executions tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a scene by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Scene, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene by id: %w", err)
	}
	return scene, nil
}

// List retrieves all scenes.
func (r *SQLiteRepository) List(ctx context.Context) ([]Scene, error) {
	return r.queryScenes(ctx, `SELECT `+sceneColumns+` FROM scenes`+sceneOrder)
}

// ListByDevice searches the stored action arrays for deviceID.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes
		WHERE EXISTS (
			SELECT 1 FROM json_each(scenes.actions)
			WHERE json_extract(json_each.value, '$.device_id') = ?
		)` + sceneOrder
	return r.queryScenes(ctx, query, deviceID)
}

// Create inserts a scene and sets its timestamps.
func (r *SQLiteRepository) Create(ctx context.Context, scene *Scene) error {
	actions, err := json.Marshal(scene.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}

	now := storedNow()
	if scene.CreatedAt.IsZero() {
		scene.CreatedAt = now
	}
	scene.CreatedAt = scene.CreatedAt.UTC().Truncate(time.Second)
	scene.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scenes (`+sceneColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scene.ID,
		scene.Name,
		scene.Slug,
		nullString(scene.Description),
		boolToInt(scene.Enabled),
		nullString((*string)(&scene.Category)),
		string(actions),
		scene.SortOrder,
		scene.Schedule,
		scene.CreatedAt.Format(time.RFC3339),
		scene.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrSceneExists, scene.ID)
		}
		return fmt.Errorf("inserting scene: %w", err)
	}
	return nil
}

// Update replaces every mutable column of a scene.
func (r *SQLiteRepository) Update(ctx context.Context, scene *Scene) error {
	actions, err := json.Marshal(scene.Actions)
	if err != nil {
		return fmt.Errorf("marshalling actions: %w", err)
	}
	scene.UpdatedAt = storedNow()

	result, err := r.db.ExecContext(ctx, `
		UPDATE scenes SET
			name = ?, slug = ?, description = ?, enabled = ?, category = ?,
			actions = ?, sort_order = ?, schedule = ?, updated_at = ?
		WHERE id = ?`,
		scene.Name,
		scene.Slug,
		nullString(scene.Description),
		boolToInt(scene.Enabled),
		nullString((*string)(&scene.Category)),
		string(actions),
		scene.SortOrder,
		scene.Schedule,
		scene.UpdatedAt.Format(time.RFC3339),
		scene.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: slug %q", ErrSceneExists, scene.Slug)
		}
		return fmt.Errorf("updating scene: %w", err)
	}
	return requireRow(result, ErrSceneNotFound)
}

// SetEnabled enables or disables a scene.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE scenes SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), storedNow().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("setting scene enabled: %w", err)
	}
	return requireRow(result, ErrSceneNotFound)
}

// Delete removes a scene.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	return requireRow(result, ErrSceneNotFound)
}

// SaveExecution upserts an execution. The scene, trigger and triggered_at
// columns are fixed by the first save.
func (r *SQLiteRepository) SaveExecution(ctx context.Context, exec *SceneExecution) error {
	failures, err := marshalFailures(exec.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scene_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			actions_total = excluded.actions_total,
			actions_completed = excluded.actions_completed,
			actions_failed = excluded.actions_failed,
			actions_skipped = excluded.actions_skipped,
			failures = excluded.failures,
			duration_ms = excluded.duration_ms`,
		exec.ID,
		exec.SceneID,
		exec.TriggeredAt.UTC().Format(time.RFC3339),
		nullTime(exec.StartedAt),
		nullTime(exec.CompletedAt),
		exec.TriggerType,
		nullString(exec.TriggerSource),
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsCompleted,
		exec.ActionsFailed,
		exec.ActionsSkipped,
		failures,
		nullInt(exec.DurationMS),
	)
	if err != nil {
		return fmt.Errorf("saving execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*SceneExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM scene_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns up to limit executions. limit defaults to 10 and
// is capped at 100.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, sceneID string, limit int) ([]SceneExecution, error) {
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	limit = min(limit, maxExecutionLimit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM scene_executions
		WHERE scene_id = ?
		ORDER BY triggered_at DESC, rowid DESC
		LIMIT ?`, sceneID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []SceneExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// PruneExecutions deletes a scene's executions beyond the newest keep.
func (r *SQLiteRepository) PruneExecutions(ctx context.Context, sceneID string, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM scene_executions
		WHERE scene_id = ? AND id NOT IN (
			SELECT id FROM scene_executions
			WHERE scene_id = ?
			ORDER BY triggered_at DESC, rowid DESC
			LIMIT ?
		)`, sceneID, sceneID, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("pruning executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) queryScenes(ctx context.Context, query string, args ...any) ([]Scene, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return scenes, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(scanner rowScanner) (*Scene, error) {
	var (
		s                    Scene
		description, cat     sql.NullString
		actions              string
		enabled              int
		createdAt, updatedAt string
	)
	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&s.Slug,
		&description,
		&enabled,
		&cat,
		&actions,
		&s.SortOrder,
		&s.Schedule,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		s.Description = &description.String
	}
	s.Category = Category(cat.String)
	s.Enabled = enabled != 0
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by Create
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by Create/Update

	s.Actions = []SceneAction{}
	if err := json.Unmarshal([]byte(actions), &s.Actions); err != nil {
		return nil, fmt.Errorf("unmarshalling actions of scene %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanExecution(scanner rowScanner) (*SceneExecution, error) {
	var (
		e                       SceneExecution
		triggeredAt, status     string
		startedAt, completedAt  sql.NullString
		triggerSource, failures sql.NullString
		durationMS              sql.NullInt64
	)
	err := scanner.Scan(
		&e.ID,
		&e.SceneID,
		&triggeredAt,
		&startedAt,
		&completedAt,
		&e.TriggerType,
		&triggerSource,
		&status,
		&e.ActionsTotal,
		&e.ActionsCompleted,
		&e.ActionsFailed,
		&e.ActionsSkipped,
		&failures,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Status = ExecutionStatus(status)
	e.TriggeredAt, _ = time.Parse(time.RFC3339, triggeredAt) //nolint:errcheck // written by SaveExecution
	e.StartedAt = parseNullTime(startedAt)
	e.CompletedAt = parseNullTime(completedAt)
	if triggerSource.Valid {
		e.TriggerSource = &triggerSource.String
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		e.DurationMS = &d
	}
	if failures.Valid {
		if err := json.Unmarshal([]byte(failures.String), &e.Failures); err != nil {
			return nil, fmt.Errorf("unmarshalling failures of execution %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// storedNow is the current time at the precision of the timestamp columns.
func storedNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalFailures(failures []ActionFailure) (sql.NullString, error) {
	if len(failures) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
