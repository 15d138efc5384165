package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/events"
)

// handleListServers returns every server profile, without passwords.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.servers.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "failed to list servers")
		return
	}
	out := make([]broker.Server, 0, len(servers))
	for _, p := range servers {
		out = append(out, p.Redacted())
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out, "count": len(out)})
}

// handleCreateServer stores a new server profile.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var profile broker.Server
	if !decodeJSON(w, r, &profile) {
		return
	}
	if err := broker.Validate(&profile); err != nil {
		s.writeServiceError(w, err, "invalid server")
		return
	}
	if err := s.servers.Create(r.Context(), &profile); err != nil {
		s.writeServiceError(w, err, "failed to create server")
		return
	}

	s.logger.Info("server profile created", "name", profile.Name, "broker", profile.Broker)
	s.notify("Server added", "Server "+profile.Name+" added", events.TypeSuccess)
	s.session.BroadcastState(r.Context())
	writeJSON(w, http.StatusCreated, profile.Redacted())
}

// handleUpdateServer replaces a server profile. An empty password keeps
// the stored one.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	existing, err := s.servers.Get(ctx, name)
	if err != nil {
		s.writeServiceError(w, err, "failed to get server")
		return
	}

	var profile broker.Server
	if !decodeJSON(w, r, &profile) {
		return
	}
	if profile.Name == "" {
		profile.Name = existing.Name
	}
	if profile.Password == "" {
		profile.Password = existing.Password
	}
	if err := broker.Validate(&profile); err != nil {
		s.writeServiceError(w, err, "invalid server")
		return
	}
	if err := s.servers.Update(ctx, name, &profile); err != nil {
		s.writeServiceError(w, err, "failed to update server")
		return
	}
	profile.ID = existing.ID

	s.logger.Info("server profile updated", "name", name, "new_name", profile.Name)
	s.session.BroadcastState(ctx)
	writeJSON(w, http.StatusOK, profile.Redacted())
}

// handleDeleteServer removes a server profile and every record scoped to
// it. The active connection is closed first when it uses the profile.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	if s.session.Server() == name {
		if err := s.session.Disconnect(); err != nil {
			s.logger.Debug("disconnect before delete", "server", name, "error", err)
		}
	}
	if err := s.servers.Delete(ctx, name); err != nil {
		s.writeServiceError(w, err, "failed to delete server")
		return
	}

	s.logger.Info("server profile deleted", "name", name)
	s.notify("Server removed", "Server "+name+" removed", events.TypeInfo)
	s.session.BroadcastState(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// notify pushes a new_notification event.
func (s *Server) notify(title, body, kind string) {
	s.hub.Broadcast(events.NewNotification, events.Notification{Title: title, Body: body, Type: kind})
}
