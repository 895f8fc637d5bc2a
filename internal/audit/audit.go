// Package audit is the append-only record of every call attempt that reached
// a provider, successful or not. Records are never mutated after creation.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

type Recorder interface {
	Record(ctx context.Context, record domain.UsageRecord) error
	ListByCaller(ctx context.Context, callerID string, since time.Time) ([]domain.UsageRecord, error)
	Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error)
}

type InMemoryRecorder struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{records: make([]domain.UsageRecord, 0)}
}

func (r *InMemoryRecorder) Record(ctx context.Context, record domain.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *InMemoryRecorder) ListByCaller(ctx context.Context, callerID string, since time.Time) ([]domain.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.UsageRecord
	for _, rec := range r.records {
		if rec.CallerID == callerID && rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *InMemoryRecorder) Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]domain.UsageRecord, limit)
	copy(out, r.records[len(r.records)-limit:])
	return out, nil
}

// All returns a copy of every record, oldest first. Test helper.
func (r *InMemoryRecorder) All() []domain.UsageRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.UsageRecord, len(r.records))
	copy(out, r.records)
	return out
}
