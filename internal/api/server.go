package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/influence-crawler/internal/crawler"
	"github.com/JakeFAU/influence-crawler/internal/metrics"
	"github.com/JakeFAU/influence-crawler/internal/orchestrator"
)

// JobService is the slice of the orchestrator the handlers need.
type JobService interface {
	CreateJob(ctx context.Context, req orchestrator.CreateRequest) (crawler.Job, error)
	GetJob(ctx context.Context, jobID string) (crawler.Job, error)
	CancelJob(ctx context.Context, jobID string) (crawler.Job, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options tune the server.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	Readiness      map[string]ReadinessCheck
}

// Server wires HTTP handlers to the job orchestrator.
type Server struct {
	router    chi.Router
	jobs      JobService
	readiness map[string]ReadinessCheck
	logger    *zap.Logger
}

// maxRequestBytes caps job submission bodies.
const maxRequestBytes = 64 << 10

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs JobService, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:      jobs,
		readiness: opts.Readiness,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Post("/analyze", s.legacySubmit)
		r.Get("/analyze/{job_id}", s.legacyGet)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.readiness {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Username     string `json:"username"`
	Depth        *int   `json:"depth"`
	MinFollowers *int64 `json:"min_followers"`
}

func (req submitRequest) toCreate() orchestrator.CreateRequest {
	return orchestrator.CreateRequest{
		Username:     req.Username,
		Depth:        req.Depth,
		MinFollowers: req.MinFollowers,
	}
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.create(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.CancelJob(r.Context(), jobID)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(job.Status),
		"cancel": "requested",
	})
}

func (s *Server) legacySubmit(w http.ResponseWriter, r *http.Request) {
	job, ok := s.create(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newLegacyView(job))
}

func (s *Server) legacyGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLegacyView(job))
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	var req submitRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return crawler.Job{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return crawler.Job{}, false
	}
	job, err := s.jobs.CreateJob(r.Context(), req.toCreate())
	if err != nil {
		s.writeJobError(w, err)
		return crawler.Job{}, false
	}
	return job, true
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job already finished")
	case errors.Is(err, orchestrator.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// jobView is the polled job snapshot.
type jobView struct {
	JobID          string                `json:"job_id"`
	Status         crawler.JobStatus     `json:"status"`
	TargetUsername string                `json:"target_username"`
	Depth          int                   `json:"depth"`
	MinFollowers   int64                 `json:"min_followers"`
	Results        []crawler.ResultEntry `json:"results"`
	Error          *crawler.JobError     `json:"error,omitempty"`
	Progress       string                `json:"progress"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
}

func newJobView(job crawler.Job) jobView {
	results := job.Results
	if results == nil {
		results = []crawler.ResultEntry{}
	}
	return jobView{
		JobID:          job.ID,
		Status:         job.Status,
		TargetUsername: job.TargetUsername,
		Depth:          job.Depth,
		MinFollowers:   job.MinFollowers,
		Results:        results,
		Error:          job.Error,
		Progress:       job.Progress,
		Version:        job.Version,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
}

// legacyView keeps the /analyze response shape: queued jobs read as
// "pending" and the error is a plain message.
type legacyView struct {
	JobID          string                `json:"job_id"`
	Status         string                `json:"status"`
	TargetUsername string                `json:"target_username"`
	Depth          int                   `json:"depth"`
	MinFollowers   int64                 `json:"min_followers"`
	Results        []crawler.ResultEntry `json:"results"`
	Error          *string               `json:"error"`
	Progress       *string               `json:"progress"`
}

func newLegacyView(job crawler.Job) legacyView {
	view := newJobView(job)
	out := legacyView{
		JobID:          view.JobID,
		Status:         string(view.Status),
		TargetUsername: view.TargetUsername,
		Depth:          view.Depth,
		MinFollowers:   view.MinFollowers,
		Results:        view.Results,
	}
	if job.Status == crawler.JobStatusQueued {
		out.Status = "pending"
	}
	if job.Error != nil {
		msg := job.Error.Message
		out.Error = &msg
	}
	if job.Progress != "" {
		progress := job.Progress
		out.Progress = &progress
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
