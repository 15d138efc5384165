package api

import (
	"net/http"

	"github.com/nerrad567/iotgateway-core/internal/gateway"
)

// connectRequest is the body of POST /session/connect.
type connectRequest struct {
	Server string `json:"server"`
}

// handleConnect connects the gateway to a stored server profile.
// The connection completes asynchronously; progress is pushed as
// mqtt_status events.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Server == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, gateway.ErrServerRequired.Error())
		return
	}

	if err := s.session.Connect(r.Context(), req.Server); err != nil {
		s.writeServiceError(w, err, "failed to connect")
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.Status())
}

// handleDisconnect closes the broker connection.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.session.Disconnect(); err != nil {
		s.writeServiceError(w, err, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleGetState returns the full gateway state, as pushed in state_update.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot(r.Context()))
}
