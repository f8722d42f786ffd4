// Package stubapi is a local stand-in for the downstream billing API.
package stubapi

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config controls the stub's behaviour.
type Config struct {
	// FailureRate is the probability in [0,1] of answering 503.
	FailureRate float64
}

type cdrRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// Server answers POST /submit-cdr.
type Server struct {
	cfg    Config
	random func() float64
	logger *slog.Logger
}

// NewServer creates a stub server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, random: rand.Float64, logger: logger.With("component", "stub-api")}
}

// Routes returns the stub's router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "vbill-stub"})
	})
	r.Post("/submit-cdr", s.handleSubmit)
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req cdrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	if strings.TrimSpace(req.Data) == "" {
		s.logger.Warn("rejecting cdr", "id", req.ID)
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "data is required"})
		return
	}

	if s.cfg.FailureRate > 0 && s.random() < s.cfg.FailureRate {
		s.logger.Debug("simulated outage", "id", req.ID)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	s.logger.Debug("cdr received", "id", req.ID)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cdr received"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
