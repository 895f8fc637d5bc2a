// Package auth resolves API keys to caller accounts and guards the admin
// surface with a bcrypt-hashed token.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/repository"
)

// Authenticator looks up callers by API key. With auto-provisioning on, a
// previously unseen key becomes a new caller account seeded with the
// configured starting balance.
type Authenticator struct {
	repo           repository.CallerRepository
	ledger         credit.Ledger
	autoProvision  bool
	initialCredits credit.Amount
	defaultRPM     int
}

type Config struct {
	AutoProvision  bool
	InitialCredits credit.Amount
	DefaultRPM     int
}

func NewAuthenticator(repo repository.CallerRepository, ledger credit.Ledger, cfg Config) *Authenticator {
	return &Authenticator{
		repo:           repo,
		ledger:         ledger,
		autoProvision:  cfg.AutoProvision,
		initialCredits: cfg.InitialCredits,
		defaultRPM:     cfg.DefaultRPM,
	}
}

func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*domain.Caller, error) {
	if apiKey == "" {
		return nil, domain.ErrInvalidAPIKey
	}

	caller, err := a.repo.GetByAPIKey(ctx, apiKey)
	if err == nil {
		return caller, nil
	}
	if !errors.Is(err, domain.ErrCallerNotFound) {
		return nil, err
	}
	if !a.autoProvision {
		return nil, domain.ErrInvalidAPIKey
	}

	return a.provision(ctx, apiKey)
}

func (a *Authenticator) provision(ctx context.Context, apiKey string) (*domain.Caller, error) {
	now := time.Now().UTC()
	caller := &domain.Caller{
		ID:           uuid.NewString(),
		Name:         "auto-" + uuid.NewString()[:8],
		APIKeyHash:   repository.HashAPIKey(apiKey),
		RateLimitRPM: a.defaultRPM,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.repo.Create(ctx, caller); err != nil {
		// A concurrent request may have provisioned the same key first.
		if existing, lookupErr := a.repo.GetByAPIKey(ctx, apiKey); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	if a.initialCredits > 0 {
		if err := a.ledger.Credit(ctx, caller.ID, a.initialCredits); err != nil {
			slog.Error("seed initial credits", "caller_id", caller.ID, "error", err)
		}
	}

	slog.Info("provisioned caller", "caller_id", caller.ID, "initial_credits", a.initialCredits)
	return caller, nil
}

// ExtractAPIKey accepts both Authorization: Bearer and X-API-Key, matching
// what the official provider SDKs send.
func ExtractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

type contextKey string

const callerContextKey contextKey = "caller"

func WithCaller(ctx context.Context, caller *domain.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

func CallerFromContext(ctx context.Context) (*domain.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(*domain.Caller)
	return caller, ok
}

// AdminGuard verifies the admin token against its bcrypt hash. The plaintext
// token is never stored.
type AdminGuard struct {
	tokenHash string
}

func NewAdminGuard(tokenHash string) *AdminGuard {
	return &AdminGuard{tokenHash: tokenHash}
}

func (g *AdminGuard) Verify(token string) bool {
	if g.tokenHash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(g.tokenHash), []byte(token)) == nil
}

func (g *AdminGuard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractAPIKey(r)
		if !g.Verify(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashAdminToken produces the bcrypt hash to put in ADMIN_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
