package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/avrlink/internal/audit"
	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/device"
)

// DeviceView is a stored device with its live connection status.
type DeviceView struct {
	device.Device
	Connection string                         `json:"connection"`
	Available  bool                           `json:"available"`
	Transports map[string]avr.ConnectionState `json:"transports,omitempty"`
}

// CommandRequest is the body of POST /devices/{id}/commands.
//
// Either Command or Sequence must be set. Repeat applies to the command or
// to the whole sequence.
type CommandRequest struct {
	Command  string   `json:"command"`
	Value    *float64 `json:"value,omitempty"`
	Choice   string   `json:"choice,omitempty"`
	Repeat   int      `json:"repeat,omitempty"`
	Sequence []string `json:"sequence,omitempty"`
}

// ReleaseRequest is the body of POST /devices/{id}/release.
type ReleaseRequest struct {
	Command string `json:"command"`
}

// defaultEventLimit is used when /events has no limit parameter.
const defaultEventLimit = 50

// commandDetails summarises a command request for the audit log.
func commandDetails(req CommandRequest) map[string]any {
	details := map[string]any{}
	if len(req.Sequence) > 0 {
		details["sequence"] = req.Sequence
	} else {
		details["command"] = req.Command
	}
	if req.Value != nil {
		details["value"] = *req.Value
	}
	if req.Choice != "" {
		details["choice"] = req.Choice
	}
	if req.Repeat > 0 {
		details["repeat"] = req.Repeat
	}
	return details
}

func (s *Server) view(d device.Device) DeviceView {
	v := DeviceView{Device: d, Connection: avr.StateDisconnected.String()}
	if info, err := s.engine.Device(d.ID); err == nil {
		v.Connection = info.ConnectionState.String()
		v.Available = info.Available
		v.Transports = info.Transports
	}
	return v
}

// handleListDevices returns every stored device with its connection status.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.view(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleDeviceSummary returns connection counts across all devices.
func (s *Server) handleDeviceSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(*d))
}

// handleCreateDevice stores and connects a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.devices.Add(r.Context(), d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionCreate, audit.EntityDevice, created.ID, map[string]any{
		"host":         created.Host,
		"manufacturer": created.Manufacturer,
	})
	writeJSON(w, http.StatusCreated, s.view(*created))
}

// handleUpdateDevice replaces a device's settings and reconnects it.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	d.ID = chi.URLParam(r, "id")

	updated, err := s.devices.Update(r.Context(), d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionUpdate, audit.EntityDevice, updated.ID, nil)
	writeJSON(w, http.StatusOK, s.view(*updated))
}

// handleDeleteDevice disconnects and deletes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.devices.Remove(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ForgetDevice(id)
	}
	s.auditLog(r, audit.ActionDelete, audit.EntityDevice, id, nil)
	s.disableScenesFor(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// disableScenesFor disables the scenes that address a deleted device. The
// device is already gone, so failures are logged rather than returned.
func (s *Server) disableScenesFor(r *http.Request, deviceID string) {
	if s.scenes == nil {
		return
	}
	disabled, err := s.scenes.DisableScenesForDevice(r.Context(), deviceID)
	for _, sceneID := range disabled {
		s.auditLog(r, audit.ActionUpdate, audit.EntityScene, sceneID, map[string]any{
			"enabled":   false,
			"device_id": deviceID,
		})
	}
	if err != nil {
		s.logger.Error("failed to disable scenes for deleted device",
			"device_id", deviceID,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
	}
	if len(disabled) > 0 {
		s.resyncSchedules(r)
	}
}

// handleGetDeviceState returns the reconciled state of a device.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.engine.State(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := map[string]any{"device_id": id, "state": state}
	if state.Volume != nil {
		resp["volume_db"] = avr.VolumeDB(*state.Volume)
		resp["volume_percent"] = avr.VolumePercent(*state.Volume)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDeviceStats returns dispatcher and connection statistics.
func (s *Server) handleGetDeviceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDeviceCommands returns the commands a device accepts.
func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	commands, err := s.engine.Commands(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}

// handleSendCommand submits a command or a sequence to a device.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	switch {
	case len(req.Sequence) > 0:
		err = s.engine.SubmitSequence(r.Context(), id, req.Sequence, req.Repeat)
	case req.Command == "":
		writeBadRequest(w, "command or sequence is required")
		return
	default:
		err = s.engine.Submit(r.Context(), id, req.Command, avr.Params{
			Value:  req.Value,
			Choice: req.Choice,
			Repeat: req.Repeat,
		})
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionCommand, audit.EntityDevice, id, commandDetails(req))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"device_id": id,
		"command":   req.Command,
		"sequence":  req.Sequence,
	})
}

// handleReleaseCommand stops a held command.
func (s *Server) handleReleaseCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.engine.Release(id, req.Command); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionRelease, audit.EntityDevice, id, map[string]any{"command": req.Command})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "released", "device_id": id, "command": req.Command})
}

// handleReconnect forces a fresh connection attempt.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Reconnect(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionReconnect, audit.EntityDevice, id, nil)
	info, err := s.engine.Device(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleRefresh re-reads the full device status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Refresh(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionRefresh, audit.EntityDevice, id, nil)
	state, err := s.engine.State(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "state": state})
}

// handleConnectionEvents returns recorded connection transitions, newest first.
//
// Query parameters:
//   - limit: maximum number of events (default 50)
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.devices.ConnectionEvents(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if events == nil {
		events = []device.ConnectionEventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
