package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/model"
	"github.com/toolgate/toolgate/internal/pipeline"
)

// Config wires the reporting server. The pipeline is the only required
// collaborator; without an audit store the report routes return 503.
type Config struct {
	Addr     string
	Pipeline *pipeline.Pipeline
	Store    *audit.SQLStore
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// Server is the HTTP reporting surface. It sits beside the decision path,
// never on it: the hot path is in-process through the pipeline.
type Server struct {
	cfg    Config
	router chi.Router
	http   *http.Server
	logger *zap.Logger
}

// New creates the reporting server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8710"
	}

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger.Named("server"),
	}
	s.routes()

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/audit/denials", s.handleDenials)
		r.Get("/audit/{agent_id}", s.handleAuditByAgent)
		r.Get("/reports/budget", s.handleBudgetReport)
		r.Get("/reports/operations", s.handleOperationsReport)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("reporting server listening", zap.String("addr", s.cfg.Addr))
	return s.http.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleEvaluate runs the decision chain without executing anything.
// It is the advisory surface for dry-runs and tooling.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var hc model.HookContext
	if err := json.NewDecoder(r.Body).Decode(&hc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if hc.ToolName == "" {
		writeError(w, http.StatusBadRequest, "toolName is required")
		return
	}

	ev := s.cfg.Pipeline.Evaluate(r.Context(), hc)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    ev.State,
		"decision": ev.Decision,
		"stage":    ev.Stage,
	})
}

func (s *Server) handleAuditByAgent(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agentID := chi.URLParam(r, "agent_id")
	entries, err := store.ByAgent(r.Context(), agentID, limit)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "entries": entries})
}

func (s *Server) handleDenials(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := store.Denials(r.Context(), limit)
	if err != nil {
		s.logger.Error("denials query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"denials": entries})
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	summary, err := store.BudgetSummary(r.Context())
	if err != nil {
		s.logger.Error("budget report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": summary})
}

func (s *Server) handleOperationsReport(w http.ResponseWriter, r *http.Request) {
	store, ok := s.store(w)
	if !ok {
		return
	}
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw))
			return
		}
		window = d
	}
	freq, err := store.OperationFrequency(r.Context(), window)
	if err != nil {
		s.logger.Error("operations report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "operations": freq})
}

func (s *Server) store(w http.ResponseWriter) (*audit.SQLStore, bool) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return nil, false
	}
	return s.cfg.Store, true
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
