package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/routingrules/rules"
)

const maxBodyBytes = 1 << 20

// pinger reports store reachability for the health check.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	engine    *rules.Engine
	store     pinger // nil for the in-memory store
	storeName string
	router    *chi.Mux
	logger    *slog.Logger
}

// ServerOptions carries the HTTP-level settings.
type ServerOptions struct {
	StoreName      string
	Health         pinger
	RequestTimeout time.Duration
	SlowRequest    time.Duration
	Metrics        http.Handler // mounted at MetricsPath when non-nil
	MetricsPath    string
	Logger         *slog.Logger
}

func NewServer(engine *rules.Engine, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		engine:    engine,
		store:     opts.Health,
		storeName: opts.StoreName,
		logger:    opts.Logger.With("component", "http"),
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts ServerOptions) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger, opts.SlowRequest))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Rule management
	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Post("/simulate", s.handleSimulate)
		r.Put("/order", s.handleReorder)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Patch("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, opts.Metrics)
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Store:  s.storeName,
				Error:  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Store: s.storeName})
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.engine.Evaluate(r.Context(), req.Text)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newEvaluateResponse(result, time.Since(start), false))
}

// Simulation handler: same match as evaluate, answered with the full rule
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := s.engine.Simulate(r.Context(), req.Text)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newEvaluateResponse(result, time.Since(start), true))
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListRules(r.Context())
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}

	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(list))}
	for _, rule := range list {
		resp.Rules = append(resp.Rules, newRuleResponse(rule))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := s.engine.CreateRule(r.Context(), req.toInput())
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/rules/"+rule.ID)
	respondJSON(w, http.StatusCreated, newRuleResponse(rule))
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newRuleResponse(rule))
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule, err := s.engine.UpdateRule(r.Context(), chi.URLParam(r, "ruleId"), req.toPatch())
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newRuleResponse(rule))
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reorder handler
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.engine.Reorder(r.Context(), req.toUpdates()); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondEngineError maps the rules error taxonomy onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *rules.ValidationError
		nerr *rules.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  verr.Error(),
			Field:  verr.Field,
			Reason: verr.Reason,
		})
	case errors.As(err, &nerr):
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error: nerr.Error(),
			IDs:   nerr.IDs,
		})
	case errors.Is(err, rules.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "1")
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "rule store unavailable, try again",
		})
	default:
		s.logger.Error("unexpected engine error",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

// decodeJSON reads a bounded JSON body into dst, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if dec.More() {
		respondError(w, http.StatusBadRequest, "invalid request body", fmt.Errorf("unexpected data after JSON object"))
		return false
	}
	return true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
