package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/config"
	"github.com/JakeFAU/sheet-similarity/internal/metrics"
	"github.com/JakeFAU/sheet-similarity/internal/sheets"
	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

const (
	serviceName      = "sheet-similarity"
	defaultListLimit = 50
	maxListLimit     = 500
	enqueueTimeout   = 5 * time.Second
	queuedMessage    = "Job queued for processing"
)

// Request defaults applied when a field is omitted.
const (
	DefaultSheetName     = "Sheet1"
	DefaultArticleColumn = "A"
	DefaultTargetColumn  = "B"
	DefaultOutputColumn  = "C"
)

// Enqueuer hands a job to the asynchronous pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, item sheetsim.QueueItem) error
}

// Server wires HTTP handlers to the job store and queue.
type Server struct {
	router   chi.Router
	jobStore sheetsim.JobStore
	enqueuer Enqueuer
	idGen    sheetsim.IDGenerator
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore sheetsim.JobStore,
	enqueuer Enqueuer,
	idGen sheetsim.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore: jobStore,
		enqueuer: enqueuer,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/", s.banner)
	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/webhook", s.submitJob)
		r.Get("/status/{job_id}", s.getJob)
		r.Get("/jobs", s.listJobs)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) banner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": serviceName, "status": "running"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitRequest is the body accepted by the submission routes.
type submitRequest struct {
	SpreadsheetID   string `json:"spreadsheet_id"`
	SheetName       string `json:"sheet_name"`
	ArticleColumn   string `json:"article_column"`
	TargetColumn    string `json:"target_column"`
	OutputColumn    string `json:"output_column"`
	ThresholdColumn string `json:"threshold_column"`
}

type submitResponse struct {
	JobID   string             `json:"job_id"`
	Status  sheetsim.JobStatus `json:"status"`
	Message string             `json:"message"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := toJobRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	ctx := r.Context()
	job, err := s.jobStore.CreateJob(ctx, jobID, sheetsim.JobMetadata{
		SpreadsheetID: req.SpreadsheetID,
		SheetName:     req.SheetName,
	})
	if err != nil {
		s.logger.Error("create job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create job")
		return
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := sheetsim.QueueItem{JobID: jobID, Request: req, Submitted: job.CreatedAt}
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		s.logger.Warn("enqueue job failed", zap.String("job_id", jobID), zap.Error(err))
		msg := fmt.Sprintf("enqueue: %v", err)
		if uerr := s.jobStore.UpdateJob(context.WithoutCancel(ctx), jobID, sheetsim.JobUpdate{
			Status: sheetsim.JobStatusFailed,
			Error:  &msg,
		}); uerr != nil {
			s.logger.Error("mark job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	s.logger.Info("job queued",
		zap.String("job_id", jobID),
		zap.String("spreadsheet_id", req.SpreadsheetID),
		zap.String("sheet", req.SheetName),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   jobID,
		Status:  sheetsim.JobStatusQueued,
		Message: queuedMessage,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, sheetsim.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := s.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.jobStore.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list jobs")
		return
	}
	if jobs == nil {
		jobs = []sheetsim.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) parseLimit(raw string) (int, error) {
	if raw == "" {
		if s.cfg.Jobs.ListLimit > 0 {
			return min(s.cfg.Jobs.ListLimit, maxListLimit), nil
		}
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

// toJobRequest applies defaults and validates the column letters.
func toJobRequest(body submitRequest) (sheetsim.JobRequest, error) {
	req := sheetsim.JobRequest{
		SpreadsheetID: strings.TrimSpace(body.SpreadsheetID),
		SheetName:     orDefault(body.SheetName, DefaultSheetName),
		ArticleColumn: strings.ToUpper(orDefault(body.ArticleColumn, DefaultArticleColumn)),
		TargetColumn:  strings.ToUpper(orDefault(body.TargetColumn, DefaultTargetColumn)),
		OutputColumn:  strings.ToUpper(orDefault(body.OutputColumn, DefaultOutputColumn)),
		LabelColumn:   strings.ToUpper(strings.TrimSpace(body.ThresholdColumn)),
	}
	if req.SpreadsheetID == "" {
		return sheetsim.JobRequest{}, errors.New("spreadsheet_id required")
	}
	cols := sheets.Columns{
		Article: req.ArticleColumn,
		Target:  req.TargetColumn,
		Output:  req.OutputColumn,
		Label:   req.LabelColumn,
	}
	if _, err := cols.Resolve(); err != nil {
		return sheetsim.JobRequest{}, err
	}
	return req, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
