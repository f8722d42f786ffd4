// Package api exposes record intake, batch control and instance status over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/health"
	"github.com/vietddude/writer/internal/infra/storage"
	"github.com/vietddude/writer/internal/ingest"
)

// Scheduler starts orchestrations for incoming work.
type Scheduler interface {
	ScheduleRecord(ctx context.Context, rec domain.Record, source string) (*durable.Instance, error)
	StartBatch(ctx context.Context, batchID string, records []domain.Record, limit int) (*durable.Instance, error)
}

// InstanceReader reads durable instance headers.
type InstanceReader interface {
	GetInstance(ctx context.Context, instanceID string) (*durable.Instance, error)
}

// Server serves the writer HTTP API.
type Server struct {
	scheduler Scheduler
	instances InstanceReader
	records   storage.RecordRepository
	monitor   *health.Monitor
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates an API server on port. monitor may be nil.
func NewServer(port int, scheduler Scheduler, instances InstanceReader, records storage.RecordRepository, monitor *health.Monitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		scheduler: scheduler,
		instances: instances,
		records:   records,
		monitor:   monitor,
		logger:    logger.With("component", "api"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if s.monitor != nil {
		r.Get("/health", s.monitor.HandleHealth)
		r.Get("/health/detailed", s.monitor.HandleDetailed)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/records", s.handleCreateRecord)
	r.Get("/records/{id}", s.handleGetRecord)
	r.Post("/batches", s.handleStartBatch)
	r.Get("/instances/{id}", s.handleGetInstance)
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type instanceResponse struct {
	InstanceID string                `json:"instance_id"`
	State      durable.InstanceState `json:"state"`
}

type batchRequest struct {
	ID      string          `json:"id"`
	Records []domain.Record `json:"records"`
	Limit   int             `json:"limit"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var rec domain.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "malformed body")
		return
	}

	inst, err := s.scheduler.ScheduleRecord(r.Context(), rec, "http")
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, instanceResponse{InstanceID: inst.ID, State: inst.State})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "malformed body")
			return
		}
	}

	inst, err := s.scheduler.StartBatch(r.Context(), req.ID, req.Records, req.Limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, instanceResponse{InstanceID: inst.ID, State: inst.State})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instances.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRecord):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrRecordNotFound), errors.Is(err, durable.ErrInstanceNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
