package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/gateway"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotgateway-core/internal/settings"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// Error is the body of the error envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope wraps every error response: {"error":{"code","message"}}.
type errorEnvelope struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeBrokerFailed   = "broker_unreachable"
	ErrCodeMethodNotAllow = "method_not_allowed"
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
	writeJSON(w, status, errorEnvelope{Error: Error{Code: code, Message: message}})
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

// errorMapping pairs a sentinel with the response it produces.
type errorMapping struct {
	target error
	status int
	code   string
}

// serviceErrors maps domain sentinels to HTTP responses. The first match wins.
var serviceErrors = []errorMapping{
	// Validation
	{topic.ErrInvalidTopic, http.StatusBadRequest, ErrCodeValidation},
	{topic.ErrPayloadTooLarge, http.StatusBadRequest, ErrCodeValidation},
	{topic.ErrInvalidDeviceID, http.StatusBadRequest, ErrCodeValidation},
	{topic.ErrInvalidLocation, http.StatusBadRequest, ErrCodeValidation},
	{gateway.ErrReservedFilter, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrInvalidCommand, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrInvalidAlias, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrInvalidTask, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrInvalidTrigger, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrInvalidSchedule, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation},
	{alerting.ErrInvalidRule, http.StatusBadRequest, ErrCodeValidation},
	{broker.ErrInvalidServer, http.StatusBadRequest, ErrCodeValidation},
	{settings.ErrUnknownKey, http.StatusBadRequest, ErrCodeValidation},
	{settings.ErrInvalidValue, http.StatusBadRequest, ErrCodeValidation},
	{gateway.ErrServerRequired, http.StatusBadRequest, ErrCodeBadRequest},

	// Missing records
	{broker.ErrServerNotFound, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrNotWhitelisted, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrUnknownServer, http.StatusNotFound, ErrCodeNotFound},
	{automation.ErrTaskNotFound, http.StatusNotFound, ErrCodeNotFound},
	{automation.ErrTriggerNotFound, http.StatusNotFound, ErrCodeNotFound},
	{automation.ErrUnknownServer, http.StatusNotFound, ErrCodeNotFound},
	{alerting.ErrRuleNotFound, http.StatusNotFound, ErrCodeNotFound},
	{alerting.ErrUnknownServer, http.StatusNotFound, ErrCodeNotFound},
	{gateway.ErrNotSubscribed, http.StatusNotFound, ErrCodeNotFound},

	// Integrity conflicts
	{broker.ErrServerExists, http.StatusConflict, ErrCodeConflict},
	{automation.ErrTriggerExists, http.StatusConflict, ErrCodeConflict},
	{device.ErrAlreadyWhitelisted, http.StatusConflict, ErrCodeConflict},
	{gateway.ErrAlreadySubscribed, http.StatusConflict, ErrCodeConflict},

	// Broker state
	{gateway.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected},
	{device.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected},
	{automation.ErrNotConnected, http.StatusServiceUnavailable, ErrCodeNotConnected},
	{mqtt.ErrConnectionFailed, http.StatusBadGateway, ErrCodeBrokerFailed},
}

// writeServiceError maps a domain error to its response. Unmapped errors
// are logged and reported as 500 with a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error(fallback, "error", err)
	writeInternalError(w, fallback)
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
