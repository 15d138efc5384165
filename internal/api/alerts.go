package api

import (
	"net/http"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
)

// handleListAlerts returns the alert rules of the connected server.
func (s *Server) handleListAlerts(w http.ResponseWriter, _ *http.Request) {
	rules := s.alerts.List()
	writeJSON(w, http.StatusOK, map[string]any{"alerts": rules, "count": len(rules)})
}

// handleCreateAlert stores an alert rule on the selected server.
func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var rule alerting.Rule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = 0
	rule.ServerName = server

	if err := s.alerts.Create(r.Context(), &rule); err != nil {
		s.writeServiceError(w, err, "failed to create alert")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// handleUpdateAlert replaces an alert rule. The rule keeps its server.
func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var rule alerting.Rule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = id

	if err := s.alerts.Update(r.Context(), &rule); err != nil {
		s.writeServiceError(w, err, "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteAlert removes an alert rule.
func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.alerts.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err, "failed to delete alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleAlert enables or disables an alert rule.
func (s *Server) handleToggleAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	enabled, err := s.alerts.Toggle(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "failed to toggle alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}
