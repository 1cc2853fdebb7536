package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/avrlink/internal/audit"
	"github.com/nerrad567/avrlink/internal/automation"
)

// maxQueryParamLen limits query parameter and path ID length.
const maxQueryParamLen = 100

// maxExecutions caps the execution history returned for one scene.
const maxExecutions = 50

// handleListScenes returns all scenes, optionally filtered by ?category= or
// by ?device=, the ID of a receiver the scene addresses.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var (
		scenes []automation.Scene
		err    error
	)
	category, deviceID := query.Get("category"), query.Get("device")
	switch {
	case category != "" && deviceID != "":
		writeBadRequest(w, "category and device filters are exclusive")
		return
	case category != "":
		if len(category) > maxQueryParamLen || !validCategory(automation.Category(category)) {
			writeBadRequest(w, "invalid category")
			return
		}
		scenes, err = s.scenes.ListScenesByCategory(ctx, automation.Category(category))
	case deviceID != "":
		if len(deviceID) > maxQueryParamLen {
			writeBadRequest(w, "invalid device ID")
			return
		}
		scenes = s.scenes.ScenesForDevice(deviceID)
	default:
		scenes, err = s.scenes.ListScenes(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list scenes")
		return
	}
	if scenes == nil {
		scenes = []automation.Scene{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

func validCategory(c automation.Category) bool {
	for _, known := range automation.AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// sceneID returns the {id} path parameter, or writes a 400 and returns "".
func sceneID(w http.ResponseWriter, r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid scene ID")
		return ""
	}
	return id
}

// handleGetScene returns a single scene by ID.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := sceneID(w, r)
	if id == "" {
		return
	}

	scene, err := s.scenes.GetScene(r.Context(), id)
	if err != nil {
		s.writeSceneError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// handleCreateScene creates a new scene.
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var scene automation.Scene
	if err := json.NewDecoder(r.Body).Decode(&scene); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.scenes.CreateScene(r.Context(), &scene); err != nil {
		s.writeSceneError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionCreate, audit.EntityScene, scene.ID, map[string]any{"name": scene.Name})
	s.resyncSchedules(r)
	writeJSON(w, http.StatusCreated, scene)
}

// handleUpdateScene decodes a partial update onto the stored scene.
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	id := sceneID(w, r)
	if id == "" {
		return
	}

	existing, err := s.scenes.GetScene(r.Context(), id)
	if err != nil {
		s.writeSceneError(w, r, err)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id

	if err := s.scenes.UpdateScene(r.Context(), existing); err != nil {
		s.writeSceneError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionUpdate, audit.EntityScene, id, nil)
	s.resyncSchedules(r)
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteScene removes a scene and its execution history.
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id := sceneID(w, r)
	if id == "" {
		return
	}

	if err := s.scenes.DeleteScene(r.Context(), id); err != nil {
		s.writeSceneError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionDelete, audit.EntityScene, id, nil)
	s.resyncSchedules(r)
	w.WriteHeader(http.StatusNoContent)
}

// resyncSchedules brings the scheduler in line with the scene registry.
// Failures are logged; the scene change itself has already succeeded.
func (s *Server) resyncSchedules(r *http.Request) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Sync(r.Context()); err != nil {
		s.logger.Error("failed to resync scene schedules",
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
	}
}

// activateRequest is the optional body of POST /scenes/{id}/activate.
type activateRequest struct {
	TriggerType   string `json:"trigger_type"`
	TriggerSource string `json:"trigger_source"`
}

// handleActivateScene runs a scene and returns its execution record.
// Action failures do not fail the request; they are reported in the record.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	id := sceneID(w, r)
	if id == "" {
		return
	}

	var req activateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.TriggerType == "" {
		req.TriggerType = automation.TriggerManual
	}
	if req.TriggerSource == "" {
		req.TriggerSource = "api"
	}

	exec, err := s.sceneEngine.ActivateScene(r.Context(), id, req.TriggerType, req.TriggerSource)
	if err != nil {
		s.writeSceneError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionActivate, audit.EntityScene, id, map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	})
	s.hub.Broadcast("scene.activated", map[string]any{
		"scene_id":     id,
		"execution_id": exec.ID,
		"status":       exec.Status,
		"duration_ms":  exec.DurationMS,
	})
	writeJSON(w, http.StatusOK, exec)
}

// handleListSceneExecutions returns recent executions of a scene, newest first.
func (s *Server) handleListSceneExecutions(w http.ResponseWriter, r *http.Request) {
	id := sceneID(w, r)
	if id == "" {
		return
	}

	if _, err := s.scenes.GetScene(r.Context(), id); err != nil {
		s.writeSceneError(w, r, err)
		return
	}

	executions, err := s.sceneRepo.ListExecutions(r.Context(), id, maxExecutions)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}
	if executions == nil {
		executions = []automation.SceneExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

// writeSceneError maps scene errors onto HTTP responses.
func (s *Server) writeSceneError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, automation.ErrSceneNotFound):
		writeNotFound(w, "scene not found")
	case errors.Is(err, automation.ErrSceneDisabled):
		writeError(w, http.StatusConflict, ErrCodeConflict, "scene is disabled")
	case errors.Is(err, automation.ErrSceneExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, automation.ErrInvalidScene),
		errors.Is(err, automation.ErrInvalidName),
		errors.Is(err, automation.ErrInvalidSlug),
		errors.Is(err, automation.ErrNoActions),
		errors.Is(err, automation.ErrInvalidSchedule),
		errors.Is(err, automation.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.writeDomainError(w, r, err)
	}
}
