// Package server exposes the assistant and the metrics summary over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shoplytics/insight-agent/pkg/agent"
	"github.com/shoplytics/insight-agent/pkg/gateway"
	"github.com/shoplytics/insight-agent/pkg/metrics"
	"github.com/shoplytics/insight-agent/pkg/storage"
)

const defaultHistoryLimit = 10

type Server struct {
	assistant *agent.Assistant
	metrics   *metrics.Store
	storage   storage.Storage
	gateway   gateway.Gateway
	logger    zerolog.Logger
	service   string
	version   string
}

func New(assistant *agent.Assistant, store *metrics.Store, st storage.Storage, gw gateway.Gateway, logger zerolog.Logger, service, version string) *Server {
	return &Server{
		assistant: assistant,
		metrics:   store,
		storage:   st,
		gateway:   gw,
		logger:    logger.With().Str("component", "server").Logger(),
		service:   service,
		version:   version,
	}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /metrics/summary", s.handleSummary)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /", s.handleRoot)
	return mux
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req agent.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_input", "request body is not valid JSON")
		return
	}

	resp, err := s.assistant.Ask(r.Context(), &req)
	if err != nil {
		status, code := faultStatus(err)
		s.writeError(w, status, code, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.GetSummary())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "no_storage", "audit storage is not configured")
		return
	}
	limit := queryInt(r, "limit", defaultHistoryLimit)
	offset := queryInt(r, "offset", 0)

	events, total, err := s.storage.GetToolEvents(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list tool events")
		s.writeError(w, http.StatusInternalServerError, "storage_error", "failed to list tool events")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"events": events,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": s.service,
		"version": s.version,
		"endpoints": map[string]string{
			"ask":     "/ask",
			"summary": "/metrics/summary",
			"history": "/history",
		},
	})
}

// Shutdown closes the gateway session and the audit storage.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			firstErr = err
		}
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// faultStatus maps the agent fault taxonomy to HTTP. Tool failures never
// reach here; they are folded into the turn.
func faultStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, agent.ErrInvalidPlan):
		return http.StatusBadGateway, "invalid_plan"
	case errors.Is(err, agent.ErrStepBudgetExceeded):
		return http.StatusGatewayTimeout, "step_budget_exceeded"
	default:
		return http.StatusBadGateway, "plan_generator_failure"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
