package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/avrlink/internal/avr"
)

// Commander sends commands to receivers. *avr.Registry satisfies it.
type Commander interface {
	Submit(ctx context.Context, deviceID, command string, params avr.Params) error
	SubmitSequence(ctx context.Context, deviceID string, commands []string, repeat int) error
}

// Engine orchestrates scene execution.
//
// It loads scenes from the registry, groups actions by parallel flag,
// executes groups sequentially (with parallel actions within each group),
// submits commands to receivers, and logs execution results.
//
// Thread Safety: ActivateScene is safe for concurrent use.
type Engine struct {
	registry  *Registry
	receivers Commander
	repo      Repository // For execution logging
	logger    Logger
}

// NewEngine creates a new scene engine.
func NewEngine(registry *Registry, receivers Commander, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry:  registry,
		receivers: receivers,
		repo:      repo,
		logger:    logger,
	}
}

// maxSceneExecutionTime is the hard limit for a single scene activation.
const maxSceneExecutionTime = 60 * time.Second

// ActivateScene runs a scene to completion and returns its execution record.
//
// triggerType says how the scene was triggered (manual, schedule, mqtt) and
// triggerSource where it came from (api, remote). An error is returned only
// when the scene cannot start: ErrSceneNotFound or ErrSceneDisabled. Action
// failures are reported through the execution's status and Failures.
func (e *Engine) ActivateScene(ctx context.Context, sceneID, triggerType, triggerSource string) (*SceneExecution, error) { //nolint:gocognit // scene activation: validates, executes actions, records execution
	ctx, cancel := context.WithTimeout(ctx, maxSceneExecutionTime)
	defer cancel()

	scene, err := e.registry.GetScene(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if !scene.Enabled {
		return nil, ErrSceneDisabled
	}

	if triggerType == "" {
		triggerType = TriggerManual
	}
	exec := &SceneExecution{
		ID:           GenerateID(),
		SceneID:      sceneID,
		TriggeredAt:  storedNow(),
		TriggerType:  triggerType,
		Status:       StatusPending,
		ActionsTotal: len(scene.Actions),
	}
	if triggerSource != "" {
		exec.TriggerSource = &triggerSource
	}

	if e.repo != nil {
		if saveErr := e.repo.SaveExecution(ctx, exec); saveErr != nil {
			// Activation still proceeds without a record.
			e.logger.Error("failed to create execution record", "error", saveErr)
		}
	}

	started := time.Now().UTC()
	exec.StartedAt = &started
	exec.Status = StatusRunning

	e.logger.Info("scene activation started",
		"scene_id", sceneID,
		"scene_name", scene.Name,
		"execution_id", exec.ID,
		"actions", len(scene.Actions),
	)

	var (
		failures  []ActionFailure
		completed int
		failed    int
		skipped   int
		aborted   bool
		offset    int
	)

	for _, group := range groupActions(scene.Actions) {
		base := offset
		offset += len(group)

		if aborted {
			skipped += len(group)
			continue
		}

		select {
		case <-ctx.Done():
			skipped += len(group)
			exec.Status = StatusCancelled
			aborted = true
			continue
		default:
		}

		groupFailures := e.executeGroup(ctx, scene.ID, base, group)
		completed += len(group) - len(groupFailures)
		failed += len(groupFailures)
		failures = append(failures, groupFailures...)

		for _, gf := range groupFailures {
			if !scene.Actions[gf.ActionIndex].ContinueOnError {
				aborted = true
				break
			}
		}
	}

	completedAt := time.Now().UTC()
	exec.CompletedAt = &completedAt
	exec.ActionsCompleted = completed
	exec.ActionsFailed = failed
	exec.ActionsSkipped = skipped
	exec.Failures = failures
	duration := int(completedAt.Sub(started).Milliseconds())
	exec.DurationMS = &duration

	switch {
	case exec.Status == StatusCancelled:
	case failed > 0 && aborted:
		exec.Status = StatusFailed
	case failed > 0:
		exec.Status = StatusPartial
	default:
		exec.Status = StatusCompleted
	}

	if e.repo != nil {
		// The activation context may have expired; the record is still written.
		store := context.WithoutCancel(ctx)
		if saveErr := e.repo.SaveExecution(store, exec); saveErr != nil {
			e.logger.Error("failed to update execution record", "error", saveErr)
		} else if pruned, pruneErr := e.repo.PruneExecutions(store, sceneID, maxExecutionLimit); pruneErr != nil {
			e.logger.Warn("failed to prune execution history", "scene_id", sceneID, "error", pruneErr)
		} else if pruned > 0 {
			e.logger.Debug("execution history pruned", "scene_id", sceneID, "deleted", pruned)
		}
	}

	e.logger.Info("scene activation complete",
		"scene_id", sceneID,
		"execution_id", exec.ID,
		"status", exec.Status,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"duration_ms", duration,
	)

	return exec, nil
}

// executeGroup executes all actions in a group concurrently.
// Failure indexes are relative to the whole scene.
func (e *Engine) executeGroup(ctx context.Context, sceneID string, base int, actions []SceneAction) []ActionFailure {
	var (
		mu       sync.Mutex
		failures []ActionFailure
		wg       sync.WaitGroup
	)

	for i, action := range actions {
		wg.Add(1)
		go func(idx int, a SceneAction) {
			defer wg.Done()

			if err := e.executeAction(ctx, sceneID, a); err != nil {
				mu.Lock()
				failures = append(failures, ActionFailure{
					ActionIndex: idx,
					DeviceID:    a.DeviceID,
					Command:     a.label(),
					ErrorCode:   errorCode(err),
					ErrorMsg:    err.Error(),
				})
				mu.Unlock()
			}
		}(base+i, action)
	}

	wg.Wait()
	return failures
}

// executeAction waits out the action's delay and submits it.
func (e *Engine) executeAction(ctx context.Context, sceneID string, action SceneAction) error {
	if action.DelayMS > 0 {
		timer := time.NewTimer(time.Duration(action.DelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("action delayed: %w", ctx.Err())
		}
	}

	var err error
	if len(action.Sequence) > 0 {
		err = e.receivers.SubmitSequence(ctx, action.DeviceID, action.Sequence, action.Repeat)
	} else {
		err = e.receivers.Submit(ctx, action.DeviceID, action.Command, action.Params())
	}
	if err != nil {
		return fmt.Errorf("device %q: %w", action.DeviceID, err)
	}

	e.logger.Debug("scene action submitted",
		"scene_id", sceneID,
		"device_id", action.DeviceID,
		"command", action.label(),
	)
	return nil
}

// errorCode classifies an action error for execution records.
func errorCode(err error) string {
	switch {
	case errors.Is(err, avr.ErrDeviceNotFound):
		return "DEVICE_NOT_FOUND"
	case errors.Is(err, avr.ErrCommandRejected):
		return "INVALID_COMMAND"
	case errors.Is(err, avr.ErrInvalidParameter):
		return "INVALID_PARAMETERS"
	case errors.Is(err, avr.ErrConnectionLost),
		errors.Is(err, avr.ErrConnectionFailed),
		errors.Is(err, avr.ErrNotConnected),
		errors.Is(err, avr.ErrSessionClosed):
		return "DEVICE_UNREACHABLE"
	case errors.Is(err, avr.ErrQueueFull):
		return "DEVICE_BUSY"
	case errors.Is(err, avr.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, avr.ErrProtocolError):
		return "PROTOCOL_ERROR"
	}
	return "EXECUTION_FAILED"
}

// groupActions splits actions into sequential groups based on the Parallel flag.
//
// The first action always starts a new group. Subsequent actions with
// Parallel=true join the current group; Parallel=false starts a new group.
//
//	actions: [A(parallel=false), B(parallel=true), C(parallel=true), D(parallel=false)]
//	groups:  [[A, B, C], [D]]
func groupActions(actions []SceneAction) [][]SceneAction {
	if len(actions) == 0 {
		return nil
	}

	var groups [][]SceneAction
	current := []SceneAction{actions[0]}

	for _, action := range actions[1:] {
		if action.Parallel {
			current = append(current, action)
		} else {
			groups = append(groups, current)
			current = []SceneAction{action}
		}
	}
	return append(groups, current)
}
