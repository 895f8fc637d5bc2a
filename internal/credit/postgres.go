package credit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

// PostgresLedger stores balances in the callers table as BIGINT micro-credits.
// Settle relies on a single UPDATE for atomicity, so concurrent settlements
// for the same caller serialize inside the database without the gateway
// holding any lock across the upstream call.
type PostgresLedger struct {
	db           *sql.DB
	safetyFactor int64
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, safetyFactor: DefaultSafetyFactor}
}

func (l *PostgresLedger) Balance(ctx context.Context, callerID string) (Amount, error) {
	var micros int64
	err := l.db.QueryRowContext(ctx,
		`SELECT credit_balance_micros FROM callers WHERE id = $1`, callerID,
	).Scan(&micros)

	if err == sql.ErrNoRows {
		return 0, domain.ErrCallerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return Amount(micros), nil
}

func (l *PostgresLedger) TryReserve(ctx context.Context, callerID string, estimated Amount) (bool, error) {
	balance, err := l.Balance(ctx, callerID)
	if err != nil {
		return false, err
	}
	return int64(balance) >= int64(estimated)*l.safetyFactor, nil
}

func (l *PostgresLedger) Settle(ctx context.Context, callerID string, amount Amount) (Amount, error) {
	var micros int64
	err := l.db.QueryRowContext(ctx,
		`UPDATE callers
		 SET credit_balance_micros = credit_balance_micros - $2, updated_at = now()
		 WHERE id = $1
		 RETURNING credit_balance_micros`,
		callerID, int64(amount),
	).Scan(&micros)

	if err == sql.ErrNoRows {
		return 0, domain.ErrCallerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("settle: %w", err)
	}
	return Amount(micros), nil
}

func (l *PostgresLedger) Credit(ctx context.Context, callerID string, amount Amount) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE callers
		 SET credit_balance_micros = credit_balance_micros + $2, updated_at = now()
		 WHERE id = $1`,
		callerID, int64(amount),
	)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrCallerNotFound
	}
	return nil
}
