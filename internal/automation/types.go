package automation

import (
	"slices"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// Scene is a named set of receiver commands activated together, such as
// "movie night" powering on a receiver, selecting BD and setting volume.
// Actions execute in parallel or sequentially based on the Parallel flag.
type Scene struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`

	Description *string `json:"description,omitempty"`

	Enabled  bool     `json:"enabled"`
	Category Category `json:"category,omitempty"`

	// Actions to execute (ordered)
	Actions []SceneAction `json:"actions"`

	// Sort order for UI display
	SortOrder int `json:"sort_order"`

	// Schedule is a standard five-field cron expression. Empty means the
	// scene only runs when triggered.
	Schedule string `json:"schedule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SceneAction is one command sent to one receiver.
//
// Exactly one of Command and Sequence is set. Command names an entry in the
// command table and takes Value, Choice and Repeat as parameters; Sequence
// lists commands sent in order as a single macro.
//
// When Parallel is true, the action runs concurrently with the previous
// action's group. When false, it starts a new sequential group.
type SceneAction struct {
	DeviceID string `json:"device_id"`

	Command string   `json:"command,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Choice  string   `json:"choice,omitempty"`

	Sequence []string `json:"sequence,omitempty"`

	// Repeat applies to both single commands and sequences.
	Repeat int `json:"repeat,omitempty"`

	// Delay before executing (milliseconds, default 0)
	DelayMS int `json:"delay_ms"`

	Parallel bool `json:"parallel"`

	// When true, scene continues even if this action fails (default false: fail-fast)
	ContinueOnError bool `json:"continue_on_error"`
}

// Params returns the command parameters carried by the action.
func (a SceneAction) Params() avr.Params {
	return avr.Params{Value: a.Value, Choice: a.Choice, Repeat: a.Repeat}
}

// label names the action in failure records.
func (a SceneAction) label() string {
	if a.Command != "" {
		return a.Command
	}
	return "sequence"
}

// SceneExecution tracks a single activation of a scene.
type SceneExecution struct {
	ID            string          `json:"id"`
	SceneID       string          `json:"scene_id"`
	TriggeredAt   time.Time       `json:"triggered_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	TriggerType   string          `json:"trigger_type"`             // manual, schedule
	TriggerSource *string         `json:"trigger_source,omitempty"` // api, remote, etc.
	Status        ExecutionStatus `json:"status"`

	ActionsTotal     int `json:"actions_total"`
	ActionsCompleted int `json:"actions_completed"`
	ActionsFailed    int `json:"actions_failed"`
	ActionsSkipped   int `json:"actions_skipped"`

	Failures []ActionFailure `json:"failures,omitempty"`

	DurationMS *int `json:"duration_ms,omitempty"`
}

// ActionFailure records details of a failed action within an execution.
type ActionFailure struct {
	ActionIndex int    `json:"action_index"`
	DeviceID    string `json:"device_id"`
	Command     string `json:"command"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_message"`
}

// ExecutionStatus represents the state of a scene execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial"   // Some actions failed, but scene continued
	StatusFailed    ExecutionStatus = "failed"    // Critical action failed, scene aborted
	StatusCancelled ExecutionStatus = "cancelled" // Context cancelled mid-execution
)

// Trigger types recorded on executions.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
)

// Category groups scenes in the UI.
type Category string

const (
	CategoryMovie  Category = "movie"
	CategoryMusic  Category = "music"
	CategoryGaming Category = "gaming"
	CategoryTV     Category = "tv"
	CategoryDaily  Category = "daily"
)

// AllCategories returns all valid scene categories.
func AllCategories() []Category {
	return []Category{
		CategoryMovie,
		CategoryMusic,
		CategoryGaming,
		CategoryTV,
		CategoryDaily,
	}
}

// Targets reports whether any action is addressed to deviceID.
func (s *Scene) Targets(deviceID string) bool {
	return slices.ContainsFunc(s.Actions, func(a SceneAction) bool { return a.DeviceID == deviceID })
}

// DeviceIDs returns the distinct receivers the scene addresses, in action
// order.
func (s *Scene) DeviceIDs() []string {
	var ids []string
	for _, a := range s.Actions {
		if !slices.Contains(ids, a.DeviceID) {
			ids = append(ids, a.DeviceID)
		}
	}
	return ids
}

// DeepCopy creates a complete independent copy of the Scene.
// Slices and pointers are cloned so the registry cache cannot be modified
// through a returned scene.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}

	cpy := *s
	cpy.Description = clonePtr(s.Description)

	if s.Actions != nil {
		cpy.Actions = make([]SceneAction, len(s.Actions))
		for i, action := range s.Actions {
			cpy.Actions[i] = action
			cpy.Actions[i].Value = clonePtr(action.Value)
			if action.Sequence != nil {
				cpy.Actions[i].Sequence = append([]string(nil), action.Sequence...)
			}
		}
	}

	return &cpy
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
