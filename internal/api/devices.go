package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/gateway"
)

// maxReadingLimit caps the readings returned with a device detail.
const maxReadingLimit = 500

// deviceDetail is the response of GET /devices/{id}/{location}.
type deviceDetail struct {
	*device.Detail
	Live     *device.Device         `json:"live,omitempty"`
	Readings []device.SensorReading `json:"readings"`
}

// commandRequest is the body of POST /devices/{id}/{location}/command.
type commandRequest struct {
	Cmd string `json:"cmd"`
}

// aliasRequest is the body of PUT /devices/{id}/{location}/alias.
type aliasRequest struct {
	Alias string `json:"alias"`
}

// selectedServer returns the server the session is bound to, writing a 400
// when none has been selected yet.
func (s *Server) selectedServer(w http.ResponseWriter) (string, bool) {
	server := s.session.Server()
	if server == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, gateway.ErrServerRequired.Error())
		return "", false
	}
	return server, true
}

// handleListDevices returns the runtime device map keyed by "id@location".
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleListKnownDevices returns every device registered on the selected
// server, admitted or not.
func (s *Server) handleListKnownDevices(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	known, err := s.devices.ListKnown(r.Context(), server)
	if err != nil {
		s.writeServiceError(w, err, "failed to list known devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": known, "count": len(known)})
}

// handlePingDevices runs an immediate presence probe of every device.
func (s *Server) handlePingDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.PingAll(r.Context()); err != nil {
		s.writeServiceError(w, err, "failed to ping devices")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pinging"})
}

// handleGetDevice returns the registration record, allow-list membership,
// presence events, runtime state and latest readings of one device.
//
// Query parameters:
//   - limit: number of sensor readings (default 100, max 500)
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	id, location := chi.URLParam(r, "id"), chi.URLParam(r, "location")
	ctx := r.Context()

	detail, err := s.gate.Detail(ctx, server, id, location)
	if err != nil {
		s.writeServiceError(w, err, "failed to get device")
		return
	}

	limit := device.DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReadingLimit)
	}

	readings, err := s.devices.ListSensorReadings(ctx, id, location, limit)
	if err != nil {
		s.writeServiceError(w, err, "failed to list sensor readings")
		return
	}

	resp := deviceDetail{Detail: detail, Readings: readings}
	if live, found := s.tracker.Get(id, location); found {
		resp.Live = &live
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceCommand publishes a PING, STATUS, GET_CONFIG or REBOOT
// command to one device.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, location := chi.URLParam(r, "id"), chi.URLParam(r, "location")

	if err := s.tracker.SendCommand(id, location, req.Cmd); err != nil {
		s.writeServiceError(w, err, "failed to send command")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"device": device.Key(id, location),
		"cmd":    req.Cmd,
	})
}

// handleSetAlias sets or clears the display alias of a registered device.
func (s *Server) handleSetAlias(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var req aliasRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, location := chi.URLParam(r, "id"), chi.URLParam(r, "location")
	ctx := r.Context()

	if err := s.tracker.SetAlias(ctx, id, location, req.Alias); err != nil {
		s.writeServiceError(w, err, "failed to set alias")
		return
	}
	known, err := s.devices.GetKnown(ctx, server, id, location)
	if err != nil {
		s.writeServiceError(w, err, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, known)
}
