package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"quantflow/internal/domain"
	"quantflow/internal/scheduler"
	"quantflow/internal/taskqueue"
)

const defaultPriority = 100

// TaskService is the task queue as seen by HTTP callers.
type TaskService interface {
	CreateTask(ctx context.Context, userID string, taskType domain.TaskType, params json.RawMessage, priority int) (string, error)
	GetTaskStatus(ctx context.Context, id string) (domain.Task, error)
	GetUserTasks(ctx context.Context, userID string, limit int, status *domain.Status) ([]domain.Task, error)
	Stats(ctx context.Context) (taskqueue.Stats, error)
	TaskTypes() []domain.TaskType
}

type ScheduleLister interface {
	Entries() []scheduler.Entry
}

// HistoryReader returns the kind and payload of a saved analysis.
type HistoryReader interface {
	Get(ctx context.Context, id string) (string, json.RawMessage, error)
}

type Options struct {
	Schedules   ScheduleLister
	History     HistoryReader
	EnableDebug bool
}

type Server struct {
	r         *chi.Mux
	tasks     TaskService
	schedules ScheduleLister
	history   HistoryReader
	validate  *validator.Validate
}

func NewServer(tasks TaskService, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, tasks: tasks, schedules: opts.Schedules, history: opts.History, validate: validator.New()}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/task-types", s.taskTypes)
	r.Post("/api/tasks", s.submitTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/users/{userID}/tasks", s.userTasks)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/history/{id}", s.getHistory)

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	st, err := s.tasks.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to collect stats")
		http.Error(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "quantflow_up 1\n")
	fmt.Fprintf(w, "quantflow_workers %d\n", st.Workers)
	fmt.Fprintf(w, "quantflow_tasks_in_flight %d\n", st.InFlight)
	fmt.Fprintf(w, "quantflow_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(w, "quantflow_tasks_completed_total %d\n", st.Completed)
	fmt.Fprintf(w, "quantflow_tasks_failed_total %d\n", st.Failed)
}

func (s *Server) taskTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.TaskTypes())
}

type submitReq struct {
	UserID   string          `json:"user_id" validate:"required,max=128"`
	TaskType string          `json:"task_type" validate:"required,max=64"`
	Params   json.RawMessage `json:"input_params"`
	Priority *int            `json:"priority" validate:"omitempty,min=0,max=9000"`
}

type submitResp struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	priority := defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	id, err := s.tasks.CreateTask(r.Context(), req.UserID, domain.TaskType(req.TaskType), req.Params, priority)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, submitResp{ID: id, Status: domain.StatusPending})
	case errors.Is(err, domain.ErrInvalidTaskType) && id != "":
		writeJSON(w, http.StatusBadRequest, submitResp{ID: id, Status: domain.StatusFailed, Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidParams):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to create task")
		http.Error(w, "failed to create task", http.StatusInternalServerError)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.tasks.GetTaskStatus(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("failed to load task")
		http.Error(w, "failed to load task", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) userTasks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	var status *domain.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.Status(v)
		status = &st
	}

	tasks, err := s.tasks.GetUserTasks(r.Context(), userID, limit, status)
	if errors.Is(err, domain.ErrInvalidParams) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to list tasks")
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeJSON(w, http.StatusOK, []scheduler.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, s.schedules.Entries())
}

type historyResp struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.history == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	kind, payload, err := s.history.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("history_id", id).Msg("failed to load history")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, historyResp{ID: id, Kind: kind, Payload: payload})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
