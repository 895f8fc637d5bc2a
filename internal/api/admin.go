package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ai-platform/llm-gateway/internal/audit"
	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/repository"
)

// AdminHandler manages caller accounts, credit top-ups and usage reporting.
// Mount it behind auth.AdminGuard.
type AdminHandler struct {
	callerRepo repository.CallerRepository
	ledger     credit.Ledger
	recorder   audit.Recorder
	mux        *http.ServeMux
}

func NewAdminHandler(callerRepo repository.CallerRepository, ledger credit.Ledger, recorder audit.Recorder) *AdminHandler {
	h := &AdminHandler{
		callerRepo: callerRepo,
		ledger:     ledger,
		recorder:   recorder,
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/callers", h.listCallers)
	h.mux.HandleFunc("POST /admin/callers", h.createCaller)
	h.mux.HandleFunc("GET /admin/callers/{id}", h.getCaller)
	h.mux.HandleFunc("POST /admin/credits", h.addCredits)
	h.mux.HandleFunc("GET /admin/usage", h.listUsage)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listCallers(w http.ResponseWriter, r *http.Request) {
	callers, err := h.callerRepo.List(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list callers")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"callers": callers,
		"count":   len(callers),
	})
}

type CreateCallerRequest struct {
	Name          string   `json:"name"`
	RateLimitRPM  int      `json:"rate_limit_rpm"`
	AllowedModels []string `json:"allowed_models,omitempty"`
	// InitialCredits is a decimal credit amount, e.g. "25.5".
	InitialCredits string `json:"initial_credits,omitempty"`
}

func (h *AdminHandler) createCaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeAdminError(w, http.StatusBadRequest, "name is required")
		return
	}

	var initial credit.Amount
	if req.InitialCredits != "" {
		var err error
		initial, err = credit.Parse(req.InitialCredits)
		if err != nil {
			writeAdminError(w, http.StatusBadRequest, "invalid initial_credits")
			return
		}
	}

	apiKey := generateAPIKey()
	now := time.Now().UTC()
	caller := &domain.Caller{
		ID:            uuid.New().String(),
		Name:          req.Name,
		APIKeyHash:    repository.HashAPIKey(apiKey),
		RateLimitRPM:  req.RateLimitRPM,
		AllowedModels: req.AllowedModels,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if caller.RateLimitRPM == 0 {
		caller.RateLimitRPM = 60
	}

	if err := h.callerRepo.Create(ctx, caller); err != nil {
		slog.Error("failed to create caller", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to create caller")
		return
	}

	if initial > 0 {
		if err := h.ledger.Credit(ctx, caller.ID, initial); err != nil {
			slog.Error("failed to seed credits", "caller_id", caller.ID, "error", err)
		}
	}

	slog.Info("caller created", "caller_id", caller.ID, "name", caller.Name)

	// The plaintext key is returned exactly once; only its hash is stored.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"caller":  caller,
		"api_key": apiKey,
	})
}

func (h *AdminHandler) getCaller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	caller, err := h.callerRepo.GetByID(ctx, id)
	if err != nil {
		writeAdminError(w, http.StatusNotFound, "caller not found")
		return
	}

	balance, err := h.ledger.Balance(ctx, id)
	if err != nil {
		slog.Error("balance lookup failed", "caller_id", id, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"caller":  caller,
		"balance": balance.String(),
	})
}

type AddCreditsRequest struct {
	CallerID string `json:"caller_id"`
	// Amount is a decimal credit amount, e.g. "10" or "0.25".
	Amount string `json:"amount"`
}

func (h *AdminHandler) addCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallerID == "" {
		writeAdminError(w, http.StatusBadRequest, "caller_id is required")
		return
	}

	amount, err := credit.Parse(req.Amount)
	if err != nil || amount <= 0 {
		writeAdminError(w, http.StatusBadRequest, "amount must be a positive decimal")
		return
	}

	if _, err := h.callerRepo.GetByID(ctx, req.CallerID); err != nil {
		if errors.Is(err, domain.ErrCallerNotFound) {
			writeAdminError(w, http.StatusNotFound, "caller not found")
			return
		}
		writeAdminError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.ledger.Credit(ctx, req.CallerID, amount); err != nil {
		slog.Error("credit top-up failed", "caller_id", req.CallerID, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to add credits")
		return
	}

	balance, err := h.ledger.Balance(ctx, req.CallerID)
	if err != nil {
		slog.Error("balance lookup failed", "caller_id", req.CallerID, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("credits added", "caller_id", req.CallerID, "amount", amount, "balance", balance)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"caller_id": req.CallerID,
		"added":     amount.String(),
		"balance":   balance.String(),
	})
}

func (h *AdminHandler) listUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callerID := r.URL.Query().Get("caller_id")

	var records []domain.UsageRecord
	var err error

	if callerID != "" {
		since := time.Now().Add(-24 * time.Hour)
		if s := r.URL.Query().Get("since"); s != "" {
			since, err = time.Parse(time.RFC3339, s)
			if err != nil {
				writeAdminError(w, http.StatusBadRequest, "since must be RFC3339")
				return
			}
		}
		records, err = h.recorder.ListByCaller(ctx, callerID, since)
	} else {
		limit := 100
		if l := r.URL.Query().Get("limit"); l != "" {
			limit, err = strconv.Atoi(l)
			if err != nil || limit <= 0 {
				writeAdminError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
		}
		records, err = h.recorder.Recent(ctx, limit)
	}

	if err != nil {
		slog.Error("usage query failed", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to query usage")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func generateAPIKey() string {
	return "gw-" + uuid.New().String()
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
