package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pomelolab/pomelo/internal/events"
	"github.com/pomelolab/pomelo/internal/result"
	"github.com/pomelolab/pomelo/internal/spec"
	"github.com/pomelolab/pomelo/internal/task"
)

// Server exposes specification runs over HTTP. Callers always receive
// well-formed JSON, never a stack trace.
type Server struct {
	registry   task.Registry
	dispatcher *task.Dispatcher
	hub        *events.Hub
	defaults   spec.Defaults
	http       *http.Server
}

func NewServer(addr string, registry task.Registry, dispatcher *task.Dispatcher, hub *events.Hub, defaults spec.Defaults) *Server {
	s := &Server{
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		defaults:   defaults,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleCreateRun)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Delete("/tasks/{id}", s.handleCancelTask)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("api server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then waits for dispatched runs.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return err
	}
	s.dispatcher.Wait()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRun accepts a specification document and runs it, either
// synchronously or, with ?async=1, on a background worker.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "reading request body")
		return
	}

	parsed, err := spec.ParseWithDefaults(body, s.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specification", err.Error())
		return
	}
	if err := parsed.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_specification", err.Error())
		return
	}

	if r.URL.Query().Get("async") == "1" {
		id := s.dispatcher.Dispatch(parsed)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": id,
			"status":  string(task.StatusPending),
		})
		return
	}

	id, res := s.dispatcher.Execute(r.Context(), parsed)
	writeJSON(w, http.StatusOK, runResponse{TaskID: id, Kind: failureKind(res), Result: res})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found", fmt.Sprintf("task %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task_not_found", fmt.Sprintf("task %s not found", id))
		return
	}
	if !s.dispatcher.Cancel(id) {
		writeError(w, http.StatusConflict, "task_not_running", fmt.Sprintf("task %s is not running", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "canceling"})
}

type runResponse struct {
	TaskID string                `json:"task_id"`
	Kind   string                `json:"kind,omitempty"`
	Result *result.Specification `json:"result"`
}

// failureKind surfaces the runner's typed failure classification. Empty for
// non-failed runs.
func failureKind(res *result.Specification) string {
	if res == nil || res.Status != result.StatusFailed {
		return ""
	}
	return string(res.Failure)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind})
}
