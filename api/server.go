// Package api exposes the task wrapper over HTTP so channel adapters can
// submit messages and poll for results.
//
//	POST   /v1/pipelines/{pipeline}/runs   submit a message, returns a task id
//	GET    /v1/tasks/{id}                  poll a task
//	DELETE /v1/tasks/{id}                  cancel a task
//	GET    /v1/pipelines                   list loaded pipelines
//	GET    /metrics                        Prometheus metrics
//	GET    /healthz                        liveness
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/pipeline"
	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/task"
	"github.com/smallnest/chatpipe/telemetry"
)

// Pipelines resolves pipeline ids. *pipeline.Registry implements it.
type Pipelines interface {
	Get(id string) (*pipeline.Graph, bool)
	List() []*pipeline.Graph
}

// Tasks is the task wrapper surface. *task.Manager implements it.
type Tasks interface {
	Submit(ctx context.Context, in engine.Input) (string, error)
	Poll(ctx context.Context, id string) (*task.Status, error)
	Cancel(ctx context.Context, id string) error
}

// Server routes HTTP requests to the task wrapper.
type Server struct {
	pipelines Pipelines
	tasks     Tasks
	metrics   *telemetry.Metrics
	logger    log.Logger
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(logger log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the HTTP surface.
func NewServer(pipelines Pipelines, tasks Tasks, opts ...Option) *Server {
	s := &Server{
		pipelines: pipelines,
		tasks:     tasks,
		logger:    log.GetDefaultLogger(),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /v1/pipelines/{pipeline}/runs", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/pipelines", s.handleListPipelines)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handlePoll)
	s.mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleCancel)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.mux, "chatpipe.api")
}

// RunRequest is the body of a submit call.
type RunRequest struct {
	Message       string          `json:"message"`
	ParticipantID string          `json:"participant_id"`
	SessionID     string          `json:"session_id"`
	PriorHistory  []store.Message `json:"prior_history,omitempty"`
	SessionState  map[string]any  `json:"session_state,omitempty"`
}

// RunResponse is returned by a submit call.
type RunResponse struct {
	TaskID string `json:"task_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type pipelineInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes int    `json:"nodes"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("pipeline")
	g, ok := s.pipelines.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found: "+id)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id and session_id are required")
		return
	}

	taskID, err := s.tasks.Submit(r.Context(), engine.Input{
		Graph:   g,
		Message: req.Message,
		Session: engine.Session{
			ParticipantID: req.ParticipantID,
			SessionID:     req.SessionID,
			PriorHistory:  req.PriorHistory,
			SessionState:  req.SessionState,
		},
	})
	if err != nil {
		if errors.Is(err, task.ErrShutdown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("submit to pipeline %s failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{TaskID: taskID})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	status, err := s.tasks.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.taskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	graphs := s.pipelines.List()
	out := make([]pipelineInfo, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, pipelineInfo{ID: g.ID, Name: g.Name, Nodes: len(g.Nodes())})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrTaskComplete):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("task request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
