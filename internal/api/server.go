// Package api exposes the slicing kernel over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rcliao/slicegate/internal/batch"
	"github.com/rcliao/slicegate/internal/health"
	"github.com/rcliao/slicegate/internal/model"
	"github.com/rcliao/slicegate/internal/policy"
	"github.com/rcliao/slicegate/internal/slice"
	"github.com/rcliao/slicegate/internal/token"
)

// Config carries the server's dependencies and limits.
type Config struct {
	Registry *policy.Registry
	Builder  *slice.Builder
	Tokens   *token.Service
	Health   *health.Checker
	Logger   *zap.Logger

	BatchConcurrency int
	FetchRate        float64
	FetchBurst       int
}

// Server maps HTTP requests onto the kernel components.
type Server struct {
	registry *policy.Registry
	builder  *slice.Builder
	tokens   *token.Service
	health   *health.Checker
	batch    *batch.Coordinator
	logger   *zap.Logger
	router   chi.Router
}

// NewServer wires the route table. Routing is a closed match over the
// documented paths: anything unmatched produces a distinct not-found
// response by construction and never falls through into
// validation-error handling.
func NewServer(cfg Config) *Server {
	s := &Server{
		registry: cfg.Registry,
		builder:  cfg.Builder,
		tokens:   cfg.Tokens,
		health:   cfg.Health,
		logger:   cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.batch = batch.New(s.buildOne, cfg.BatchConcurrency, cfg.FetchRate, cfg.FetchBurst)

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, kindNotFound, "no such path: "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, kindNotFound, "method not allowed: "+req.Method)
	})

	r.Post("/api/slice", s.handleSlice)
	r.Post("/api/slice/batch", s.handleSliceBatch)
	r.Post("/api/verify_token", s.handleVerifyToken)
	r.Get("/api/policies", s.handleListPolicies)
	r.Post("/api/policies", s.handleRegisterPolicy)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Get("/health/startup", s.handleHealthStartup)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	s.router = r
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// buildOne processes a single slice request end to end. Used by the
// single-slice handler and by the batch coordinator.
func (s *Server) buildOne(ctx context.Context, req batch.Request) (*model.Slice, string, error) {
	pol, err := s.registry.Resolve(req.PolicyID, req.PolicyVersion)
	if err != nil {
		return nil, "", err
	}

	start := time.Now()
	sl, err := s.builder.Build(ctx, req.AnchorID, pol)
	if err != nil {
		return nil, "", err
	}
	metricSliceBuildSeconds.Observe(time.Since(start).Seconds())
	metricSlicesBuilt.WithLabelValues(pol.ID).Inc()

	tok, err := s.tokens.Issue(sl)
	if err != nil {
		return nil, "", err
	}
	metricTokensIssued.Inc()
	return sl, tok, nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
