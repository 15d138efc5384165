package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotgateway-core/internal/automation"
)

// parseID reads the numeric {id} route parameter, writing a 400 when it is
// malformed.
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// handleListTriggers returns the message triggers of the connected server.
func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	triggers := s.triggers.List()
	writeJSON(w, http.StatusOK, map[string]any{"triggers": triggers, "count": len(triggers)})
}

// handleCreateTrigger stores a message trigger on the selected server.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var trigger automation.Trigger
	if !decodeJSON(w, r, &trigger) {
		return
	}
	trigger.ID = 0
	trigger.ServerName = server

	if err := s.triggers.Create(r.Context(), &trigger); err != nil {
		s.writeServiceError(w, err, "failed to create trigger")
		return
	}
	s.logger.Info("message trigger created", "id", trigger.ID, "name", trigger.Name, "server", server)
	writeJSON(w, http.StatusCreated, trigger)
}

// handleUpdateTrigger replaces a trigger definition; counters are kept.
func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var trigger automation.Trigger
	if !decodeJSON(w, r, &trigger) {
		return
	}
	trigger.ID = id
	trigger.ServerName = server

	if err := s.triggers.Update(r.Context(), &trigger); err != nil {
		s.writeServiceError(w, err, "failed to update trigger")
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}

// handleDeleteTrigger removes a trigger.
func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.triggers.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, err, "failed to delete trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleTrigger enables or disables a trigger.
func (s *Server) handleToggleTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	trigger, err := s.triggers.Toggle(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "failed to toggle trigger")
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}
