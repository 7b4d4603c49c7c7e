package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"tasktrack/internal/logging"
	"tasktrack/pkg/activity"
	"tasktrack/pkg/depgraph"
	"tasktrack/pkg/task"
	"tasktrack/pkg/tracker"
	"tasktrack/pkg/user"
)

// Server is the HTTP API server.
type Server struct {
	svc            *tracker.Service
	tasks          task.Store
	users          user.Store
	events         activity.Store
	bus            *activity.Bus
	streamInterval time.Duration
	log            *log.Logger
	mux            *http.ServeMux
}

// Options tunes the server. Zero values select defaults.
type Options struct {
	StreamInterval time.Duration // SSE poll / keepalive period
}

// New creates a new Server. When events is an *activity.Bus the event stream
// is pushed from it; otherwise the stream polls the store.
func New(svc *tracker.Service, tasks task.Store, users user.Store, events activity.Store, opts Options) *Server {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 2 * time.Second
	}
	s := &Server{
		svc:            svc,
		tasks:          tasks,
		users:          users,
		events:         events,
		streamInterval: opts.StreamInterval,
		log:            logging.New("api"),
		mux:            http.NewServeMux(),
	}
	if b, ok := events.(*activity.Bus); ok {
		s.bus = b
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tasks
	s.mux.HandleFunc("GET /api/v1/tasks", s.handleTaskList)
	s.mux.HandleFunc("POST /api/v1/tasks", s.handleTaskCreate)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTaskGet)
	s.mux.HandleFunc("PUT /api/v1/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}", s.handleTaskUpdate)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleTaskDelete)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}/status", s.handleTaskStatus)

	// Dependencies
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/dependencies", s.handleDependencyAttach)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}/dependencies/{dependsOn}", s.handleDependencyDetach)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/dependents", s.handleDependents)

	// Activity
	s.mux.HandleFunc("GET /api/v1/tasks/{id}/events", s.handleTaskEvents)
	s.mux.HandleFunc("GET /api/v1/events", s.handleEventList)
	s.mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)

	// Users
	s.mux.HandleFunc("GET /api/v1/users", s.handleUserList)
	s.mux.HandleFunc("POST /api/v1/users", s.handleUserCreate)
	s.mux.HandleFunc("GET /api/v1/users/{id}", s.handleUserGet)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/status", s.handleStatus)
}

// envelope is the body of every JSON response.
type envelope struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Errors    any       `json:"errors,omitempty"`
	Meta      any       `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write json", "err", err)
	}
}

func writeData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{
		Status:    "success",
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func writeList(w http.ResponseWriter, msg string, data any, count int) {
	writeJSON(w, http.StatusOK, envelope{
		Status:    "success",
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Meta:      map[string]int{"count": count},
	})
}

func writeError(w http.ResponseWriter, status int, msg string, errs any) {
	writeJSON(w, status, envelope{
		Status:    "error",
		Message:   msg,
		Timestamp: time.Now().UTC(),
		Errors:    errs,
	})
}

// writeFailure maps service and store errors onto status codes.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *tracker.ValidationError
	var derr *tracker.DecisionError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", verr.Fields)
	case errors.As(err, &derr):
		writeError(w, http.StatusUnprocessableEntity, derr.Message, map[string]any{
			derr.Field: []string{derr.Message},
			"reason":   derr.Decision.Reason,
			"task_ids": derr.Decision.Detail,
		})
	case errors.Is(err, task.ErrNotFound), errors.Is(err, depgraph.ErrUnknownTask):
		writeError(w, http.StatusNotFound, "Task not found", nil)
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found", nil)
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// decode reads a JSON body. It writes a 400 and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), nil)
		return false
	}
	return true
}

// actor resolves the optional X-User-ID header. An id that does not resolve
// is rejected so that events never name a user that does not exist.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return "", true
	}
	if _, err := s.users.Get(r.Context(), id); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusUnprocessableEntity, "Validation failed", map[string][]string{
				"X-User-ID": {"The acting user does not exist."},
			})
			return "", false
		}
		s.writeFailure(w, r, err)
		return "", false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.tasks.Count(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	byStatus := make(map[task.Status]int, len(task.Statuses()))
	for _, st := range task.Statuses() {
		n, err := s.tasks.CountByStatus(ctx, st)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		byStatus[st] = n
	}
	events, err := s.events.Count(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	chain := "valid"
	if err := s.events.VerifyChain(ctx); err != nil {
		s.log.Warn("activity chain verification failed", "err", err)
		chain = err.Error()
	}
	writeData(w, http.StatusOK, "Status retrieved successfully", map[string]any{
		"tasks":       total,
		"by_status":   byStatus,
		"events":      events,
		"event_chain": chain,
	})
}
