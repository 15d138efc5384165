package api

import (
	"net/http"
)

// subscriptionRequest is the body of POST and DELETE /subscriptions.
type subscriptionRequest struct {
	Topic string `json:"topic"`
}

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`
	Retained bool   `json:"retained"`
}

// handleListSubscriptions returns the live subscription set.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	topics := s.session.Topics()
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics, "count": len(topics)})
}

// handleSubscribe adds a topic filter for the selected server.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.session.Subscribe(r.Context(), req.Topic); err != nil {
		s.writeServiceError(w, err, "failed to subscribe")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"topics": s.session.Topics()})
}

// handleUnsubscribe removes a topic filter.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.session.Unsubscribe(r.Context(), req.Topic); err != nil {
		s.writeServiceError(w, err, "failed to unsubscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": s.session.Topics()})
}

// handlePublish publishes a message at the default QoS.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.session.PublishMessage(req.Topic, req.Payload, req.Retained); err != nil {
		s.writeServiceError(w, err, "failed to publish")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"topic": req.Topic, "retained": req.Retained})
}

// handleGetHistory returns the message history, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, _ *http.Request) {
	entries := s.session.History()
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// handleClearHistory empties the message history.
func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	s.session.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}
