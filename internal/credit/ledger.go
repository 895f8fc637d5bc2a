package credit

import (
	"context"
	"sync"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

// DefaultSafetyFactor guards admission against token underestimation before
// the real count is known. Must be >= 2.
const DefaultSafetyFactor = 2

// Ledger is the only component allowed to mutate a caller's balance.
// Settle must be a single atomic read-modify-write; it may drive the balance
// negative when a settlement races past the admission check, but it must
// never lose an update or double-charge.
type Ledger interface {
	Balance(ctx context.Context, callerID string) (Amount, error)

	// TryReserve is advisory admission control, not escrow: it reports
	// whether balance >= estimated*safetyFactor without locking funds.
	TryReserve(ctx context.Context, callerID string, estimated Amount) (bool, error)

	// Settle decrements the balance by amount and returns the new balance.
	Settle(ctx context.Context, callerID string, amount Amount) (Amount, error)

	// Credit adds funds (top-up counterpart of Settle).
	Credit(ctx context.Context, callerID string, amount Amount) error
}

// InMemoryLedger keeps balances under a single mutex. Suitable for tests and
// single-instance deployments without a database.
type InMemoryLedger struct {
	mu           sync.Mutex
	balances     map[string]Amount
	safetyFactor int64
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		balances:     make(map[string]Amount),
		safetyFactor: DefaultSafetyFactor,
	}
}

// SetBalance seeds a caller balance. Intended for startup and tests.
func (l *InMemoryLedger) SetBalance(callerID string, balance Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[callerID] = balance
}

func (l *InMemoryLedger) Balance(ctx context.Context, callerID string) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[callerID]
	if !ok {
		return 0, domain.ErrCallerNotFound
	}
	return balance, nil
}

func (l *InMemoryLedger) TryReserve(ctx context.Context, callerID string, estimated Amount) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[callerID]
	if !ok {
		return false, domain.ErrCallerNotFound
	}
	return int64(balance) >= int64(estimated)*l.safetyFactor, nil
}

func (l *InMemoryLedger) Settle(ctx context.Context, callerID string, amount Amount) (Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[callerID]
	if !ok {
		return 0, domain.ErrCallerNotFound
	}
	balance -= amount
	l.balances[callerID] = balance
	return balance, nil
}

func (l *InMemoryLedger) Credit(ctx context.Context, callerID string, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[callerID] += amount
	return nil
}
