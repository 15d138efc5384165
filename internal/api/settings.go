package api

import (
	"net/http"

	"github.com/nerrad567/iotgateway-core/internal/events"
)

// handleGetSettings returns every runtime setting.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.All())
}

// handleUpdateSettings validates and stores a batch of settings. Nothing is
// written when any entry is invalid. Interval and QoS changes apply to the
// next ping cycle and publication; keep-alive and reconnect delay to the
// next connection.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if !decodeJSON(w, r, &values) {
		return
	}
	if len(values) == 0 {
		writeBadRequest(w, "no settings given")
		return
	}
	if err := s.settings.Update(r.Context(), values); err != nil {
		s.writeServiceError(w, err, "failed to update settings")
		return
	}

	s.logger.Info("settings updated", "keys", len(values))
	s.notify("Settings saved", "Settings updated", events.TypeSuccess)
	writeJSON(w, http.StatusOK, s.settings.All())
}
