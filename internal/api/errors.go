package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/avrlink/internal/avr"
	"github.com/nerrad567/avrlink/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeDeviceUnavailable = "device_unavailable"
	ErrCodeDeviceBusy        = "device_busy"
	ErrCodeTimeout           = "timeout"
	ErrCodeProtocol          = "protocol_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps engine and store errors onto HTTP responses.
// Unrecognised errors are logged and hidden behind a 500.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, avr.ErrDeviceNotFound), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDeviceExists), errors.Is(err, avr.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, avr.ErrCommandRejected),
		errors.Is(err, avr.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, avr.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceBusy, err.Error())
	case errors.Is(err, avr.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.Is(err, avr.ErrProtocolError):
		writeError(w, http.StatusBadGateway, ErrCodeProtocol, err.Error())
	case errors.Is(err, avr.ErrNotConnected),
		errors.Is(err, avr.ErrConnectionLost),
		errors.Is(err, avr.ErrConnectionFailed),
		errors.Is(err, avr.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeDeviceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
