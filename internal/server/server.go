// Package server exposes the scoring pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/config"
	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/monitoring"
	"github.com/sightline-legal/spendscope/internal/registry"
	"github.com/sightline-legal/spendscope/internal/scoring"
	"github.com/sightline-legal/spendscope/internal/store"
)

// Server bundles the router and its collaborators.
type Server struct {
	cfg          config.ServerConfig
	orchestrator *scoring.Orchestrator
	registry     *registry.Manager
	store        store.Store
	collector    *monitoring.Collector
	router       chi.Router
}

// New builds the HTTP server. collector may be nil to disable metrics.
func New(cfg config.ServerConfig, orch *scoring.Orchestrator, reg *registry.Manager, st store.Store, collector *monitoring.Collector) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		registry:     reg,
		store:        st,
		collector:    collector,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.collector != nil {
		r.Method(http.MethodGet, "/metrics", s.collector.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/score", s.handleScore)
		r.Get("/models", s.handleModels)
		r.Get("/vendors", s.handleVendors)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

// Handler returns the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_backed": s.orchestrator.ModelBacked(),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var payload model.InvoicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	assessment, err := s.orchestrator.Score(r.Context(), payload)
	if err != nil {
		var verr *scoring.ValidationError
		if eris.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		zap.L().Error("scoring failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scoring failed")
		return
	}

	if s.collector != nil {
		s.collector.ObserveAssessment(string(assessment.ScoringMethod), string(assessment.RiskLevel), time.Since(start))
	}

	if s.store != nil {
		run := model.ScoringRun{
			InvoiceID:  assessment.InvoiceID,
			Vendor:     payload.Vendor,
			Method:     assessment.ScoringMethod,
			RiskScore:  assessment.RiskScore,
			RiskLevel:  assessment.RiskLevel,
			Anomalies:  len(assessment.Anomalies),
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err := s.store.RecordScoringRun(r.Context(), run); err != nil {
			zap.L().Warn("failed to record scoring run", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]model.ArtifactInfo, len(model.AllModelTypes))
	for _, mt := range model.AllModelTypes {
		versions, err := s.registry.ListVersions(mt)
		if err != nil {
			zap.L().Error("listing model versions failed", zap.String("model_type", string(mt)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "listing models failed")
			return
		}
		out[string(mt)] = versions
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	metrics, err := s.store.ListVendorMetrics(r.Context())
	if err != nil {
		zap.L().Error("listing vendor metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing vendors failed")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	runs, err := s.store.ListScoringRuns(r.Context(), 100)
	if err != nil {
		zap.L().Error("listing scoring runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
