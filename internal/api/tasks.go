package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iotgateway-core/internal/automation"
)

// handleListTasks returns the tasks of the connected server with their
// schedule descriptions and next fire times.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.tasks.List()
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// handleCreateTask stores and schedules a task on the selected server.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var task automation.Task
	if !decodeJSON(w, r, &task) {
		return
	}
	task.ID = ""
	task.ServerName = server

	if err := s.tasks.Create(r.Context(), &task); err != nil {
		s.writeServiceError(w, err, "failed to create task")
		return
	}
	s.logger.Info("task created", "id", task.ID, "name", task.Name, "server", server)
	writeJSON(w, http.StatusCreated, task)
}

// handleUpdateTask replaces a task definition; run counters are kept.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	server, ok := s.selectedServer(w)
	if !ok {
		return
	}
	var task automation.Task
	if !decodeJSON(w, r, &task) {
		return
	}
	task.ID = chi.URLParam(r, "id")
	task.ServerName = server

	if err := s.tasks.Update(r.Context(), &task); err != nil {
		s.writeServiceError(w, err, "failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleDeleteTask removes a task and its schedule.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleTask pauses or resumes a task.
func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to toggle task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleRunTask executes a task immediately, outside its schedule.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.tasks.Run(r.Context(), id); err != nil {
		s.writeServiceError(w, err, "failed to run task")
		return
	}
	task, _ := s.tasks.Get(id)
	writeJSON(w, http.StatusOK, task)
}
