// Package repository stores caller accounts. API keys are never persisted,
// only their SHA-256 hashes.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ai-platform/llm-gateway/internal/crypto"
	"github.com/ai-platform/llm-gateway/internal/domain"
)

type CallerRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Caller, error)
	GetByID(ctx context.Context, id string) (*domain.Caller, error)
	Create(ctx context.Context, caller *domain.Caller) error
	Update(ctx context.Context, caller *domain.Caller) error
	List(ctx context.Context) ([]*domain.Caller, error)
}

type InMemoryCallerRepository struct {
	mu      sync.RWMutex
	callers map[string]*domain.Caller
	byKey   map[string]string
}

func NewInMemoryCallerRepository() *InMemoryCallerRepository {
	return &InMemoryCallerRepository{
		callers: make(map[string]*domain.Caller),
		byKey:   make(map[string]string),
	}
}

func (r *InMemoryCallerRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Caller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[HashAPIKey(apiKey)]
	if !ok {
		return nil, domain.ErrCallerNotFound
	}

	caller, ok := r.callers[id]
	if !ok || !caller.Enabled {
		return nil, domain.ErrCallerNotFound
	}

	return caller, nil
}

func (r *InMemoryCallerRepository) GetByID(ctx context.Context, id string) (*domain.Caller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caller, ok := r.callers[id]
	if !ok {
		return nil, domain.ErrCallerNotFound
	}

	return caller, nil
}

func (r *InMemoryCallerRepository) Create(ctx context.Context, caller *domain.Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callers[caller.ID] = caller
	r.byKey[caller.APIKeyHash] = caller.ID

	return nil
}

func (r *InMemoryCallerRepository) Update(ctx context.Context, caller *domain.Caller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.callers[caller.ID]; !ok {
		return domain.ErrCallerNotFound
	}

	caller.UpdatedAt = time.Now()
	r.callers[caller.ID] = caller
	r.byKey[caller.APIKeyHash] = caller.ID

	return nil
}

func (r *InMemoryCallerRepository) List(ctx context.Context) ([]*domain.Caller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Caller, 0, len(r.callers))
	for _, c := range r.callers {
		out = append(out, c)
	}
	return out, nil
}

// HashAPIKey derives the stored lookup key for an API key.
func HashAPIKey(apiKey string) string {
	return crypto.HashAPIKey(apiKey)
}
