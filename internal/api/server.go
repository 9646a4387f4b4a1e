// Package api implements the public-facing HTTP server for the annotation
// service: submission, polling, health, statistics, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inodb/vepcache/internal/service"
	"github.com/inodb/vepcache/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":5001"

// Server handles the HTTP requests for the annotation service.
type Server struct {
	svc    *service.Service
	logger *zap.Logger
	http   *http.Server
}

// NewServer creates the API server on top of a configured service façade.
func NewServer(svc *service.Service) *Server {
	return &Server{
		svc:    svc,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for request diagnostics.
func (s *Server) SetLogger(l *zap.Logger) {
	s.logger = l
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("GET /poll/{variant_key}", s.handlePoll)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type submitRequest struct {
	Chrom string `json:"chrom"`
	Pos   int64  `json:"pos"`
	Ref   string `json:"ref"`
	Alt   string `json:"alt"`
}

type submitResponse struct {
	State      string            `json:"state"`
	VariantKey string            `json:"variant_key"`
	Record     *store.Annotation `json:"record,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
}

type pollResponse struct {
	State    string            `json:"state"`
	Record   *store.Annotation `json:"record,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	res, err := s.svc.Submit(r.Context(), req.Chrom, req.Pos, req.Ref, req.Alt)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, service.ErrUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			s.logger.Error("submit failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		State:      res.Outcome,
		VariantKey: res.VariantKey,
		Record:     res.Record,
		Attempts:   res.Attempts,
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("variant_key")

	res, err := s.svc.Poll(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, service.ErrUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			s.logger.Error("poll failed", zap.String("variant", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, pollResponse{
		State:    res.Status,
		Record:   res.Record,
		Attempts: res.Attempts,
		Reason:   res.Reason,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Healthy(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(r.Context())
	if err != nil {
		s.logger.Error("statistics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe starts the HTTP server on the specified address and blocks
// until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("API server listening", zap.String("addr", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
