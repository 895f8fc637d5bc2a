// Package api exposes the gateway over HTTP: an OpenAI-compatible chat
// surface for callers and an admin surface for credits and usage.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ai-platform/llm-gateway/internal/auth"
	"github.com/ai-platform/llm-gateway/internal/circuitbreaker"
	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/metrics"
	"github.com/ai-platform/llm-gateway/internal/ratelimit"
	"github.com/ai-platform/llm-gateway/internal/registry"
	"github.com/ai-platform/llm-gateway/internal/session"
	"github.com/ai-platform/llm-gateway/internal/telemetry"
)

const version = "0.3.0"

type HandlerConfig struct {
	Auth        *auth.Authenticator
	RateLimiter ratelimit.RateLimiter
	Registry    *registry.Registry
	Ledger      credit.Ledger
	Sessions    *session.Runner
	Breakers    *circuitbreaker.Manager

	// Readiness dependency checks, optional.
	Checkers     []HealthChecker
	CheckTimeout time.Duration
}

type Handler struct {
	auth        *auth.Authenticator
	rateLimiter ratelimit.RateLimiter
	registry    *registry.Registry
	ledger      credit.Ledger
	sessions    *session.Runner
	breakers    *circuitbreaker.Manager
	mux         *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	checkTimeout := cfg.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	h := &Handler{
		auth:        cfg.Auth,
		rateLimiter: cfg.RateLimiter,
		registry:    cfg.Registry,
		ledger:      cfg.Ledger,
		sessions:    cfg.Sessions,
		breakers:    cfg.Breakers,
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /v1/credits", h.handleCredits)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, checkTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	caller, err := h.auth.Authenticate(ctx, auth.ExtractAPIKey(r))
	if err != nil {
		slog.Warn("authentication failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, caller.ID, caller.RateLimitRPM)
	if err != nil {
		slog.Error("rate limiter error", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(caller.RateLimitRPM))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		slog.Warn("rate limit exceeded", "caller_id", caller.ID, "request_id", requestID)
		metrics.RecordRateLimitHit(caller.ID)
		writeError(w, http.StatusTooManyRequests, domain.ErrRateLimitExceeded.Error())
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Model != "" && !caller.CanUse(req.Model) {
		metrics.RecordAdmissionDenial(caller.ID, "model_not_allowed")
		writeError(w, http.StatusForbidden, domain.ErrModelNotAllowed.Error())
		return
	}

	if req.Streaming() {
		h.streamChat(w, r, caller, req, requestID, start)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "chat.complete")
	defer span.End()

	outcome, rawBody, err := h.sessions.Complete(ctx, caller.ID, requestID, req)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		h.denyChat(w, caller.ID, requestID, err)
		return
	}

	telemetry.AddRequestAttributes(span, caller.ID, outcome.Provider, outcome.Model, requestID)
	telemetry.AddTokenAttributes(span, outcome.InputTokens, outcome.OutputTokens)
	telemetry.AddCostAttribute(span, outcome.Cost.String())

	latency := time.Since(start)
	metrics.RecordRequest(caller.ID, outcome.Provider, outcome.Model, outcome.State.String(), latency.Seconds())

	slog.Info("request completed",
		"request_id", requestID,
		"caller_id", caller.ID,
		"provider", outcome.Provider,
		"model", outcome.Model,
		"input_tokens", outcome.InputTokens,
		"output_tokens", outcome.OutputTokens,
		"cost", outcome.Cost,
		"latency_ms", latency.Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Credits-Charged", outcome.Cost.String())
	w.Header().Set("X-Credits-Balance", outcome.Balance.String())
	w.Write(rawBody)
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, caller *domain.Caller, req domain.ChatRequest, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	// Headers go out with the first relayed frame; until then an admission
	// or dispatch failure can still use a plain JSON error status.
	sink := &sseSink{w: w, flusher: flusher, requestID: requestID}

	ctx, span := telemetry.StartSpan(r.Context(), "chat.stream")
	defer span.End()

	outcome, err := h.sessions.Stream(ctx, caller.ID, requestID, req, sink)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		if !sink.started {
			h.denyChat(w, caller.ID, requestID, err)
		}
		return
	}

	telemetry.AddRequestAttributes(span, caller.ID, outcome.Provider, outcome.Model, requestID)
	telemetry.AddTokenAttributes(span, outcome.InputTokens, outcome.OutputTokens)
	telemetry.AddCostAttribute(span, outcome.Cost.String())

	latency := time.Since(start)
	metrics.RecordRequest(caller.ID, outcome.Provider, outcome.Model, outcome.State.String(), latency.Seconds())

	slog.Info("stream completed",
		"request_id", requestID,
		"caller_id", caller.ID,
		"provider", outcome.Provider,
		"model", outcome.Model,
		"state", outcome.State,
		"input_tokens", outcome.InputTokens,
		"output_tokens", outcome.OutputTokens,
		"cost", outcome.Cost,
		"latency_ms", latency.Milliseconds(),
	)
}

// denyChat maps session errors onto HTTP statuses before anything has been
// written to the caller.
func (h *Handler) denyChat(w http.ResponseWriter, callerID, requestID string, err error) {
	status := http.StatusInternalServerError
	reason := "internal"

	switch {
	case errors.Is(err, domain.ErrMissingModel), errors.Is(err, domain.ErrMissingMessages):
		status, reason = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrModelNotFound):
		status, reason = http.StatusBadRequest, "model_not_found"
	case errors.Is(err, domain.ErrModelNotAllowed):
		status, reason = http.StatusForbidden, "model_not_allowed"
	case errors.Is(err, domain.ErrInsufficientCredits):
		status, reason = http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, domain.ErrModelUnavailable), errors.Is(err, domain.ErrCircuitOpen):
		status, reason = http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, domain.ErrRateLimitExceeded):
		status, reason = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrUpstream):
		status, reason = http.StatusBadGateway, "upstream_error"
	}

	if status != http.StatusInternalServerError && status != http.StatusBadGateway {
		metrics.RecordAdmissionDenial(callerID, reason)
	}

	slog.Warn("request rejected",
		"request_id", requestID,
		"caller_id", callerID,
		"reason", reason,
		"error", err,
	)
	writeError(w, status, err.Error())
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	profiles := h.registry.ListAvailable()

	data := make([]domain.ModelInfo, 0, len(profiles))
	for _, p := range profiles {
		data = append(data, domain.ModelInfo{
			Provider:  p.Provider,
			Model:     p.ModelID,
			Available: p.Available,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{
		Object: "list",
		Data:   data,
	})
}

func (h *Handler) handleCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caller, err := h.auth.Authenticate(ctx, auth.ExtractAPIKey(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}

	balance, err := h.ledger.Balance(ctx, caller.ID)
	if err != nil {
		slog.Error("balance lookup failed", "caller_id", caller.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"caller_id": caller.ID,
		"balance":   balance.String(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": version,
	}
	if h.breakers != nil {
		resp["circuit_breakers"] = h.breakers.States()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sseSink writes relayed provider frames as the response body, sending SSE
// headers lazily on the first frame.
type sseSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	requestID string
	started   bool
}

func (s *sseSink) Write(p []byte) (int, error) {
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.Header().Set("X-Request-ID", s.requestID)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return s.w.Write(p)
}

func (s *sseSink) Flush() {
	if s.started {
		s.flusher.Flush()
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
