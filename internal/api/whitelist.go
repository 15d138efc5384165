package api

import (
	"net/http"

	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
)

// whitelistRequest is the body of POST and DELETE /whitelist.
type whitelistRequest struct {
	DeviceID string `json:"device_id"`
	Location string `json:"location"`
}

// handleListWhitelist returns the allow-list of the selected server.
func (s *Server) handleListWhitelist(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	entries, err := s.gate.List(r.Context(), server)
	if err != nil {
		s.writeServiceError(w, err, "failed to list whitelist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"whitelist": entries, "count": len(entries)})
}

// handleAddWhitelist admits a device on the selected server.
func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var req whitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	if err := s.gate.Add(ctx, server, req.DeviceID, req.Location); err != nil {
		s.writeServiceError(w, err, "failed to add whitelist entry")
		return
	}

	s.notify("Device whitelisted", device.Key(req.DeviceID, req.Location)+" added to whitelist", events.TypeSuccess)
	s.session.BroadcastState(ctx)
	writeJSON(w, http.StatusCreated, device.WhitelistEntry{
		Server:   server,
		DeviceID: req.DeviceID,
		Location: req.Location,
	})
}

// handleRemoveWhitelist drops a device from the allow-list.
func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var req whitelistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	if err := s.gate.Remove(ctx, server, req.DeviceID, req.Location); err != nil {
		s.writeServiceError(w, err, "failed to remove whitelist entry")
		return
	}

	s.notify("Device removed", device.Key(req.DeviceID, req.Location)+" removed from whitelist", events.TypeInfo)
	s.session.BroadcastState(ctx)
	w.WriteHeader(http.StatusNoContent)
}
