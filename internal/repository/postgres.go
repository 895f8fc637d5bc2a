package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

const callerColumns = `id, name, api_key_hash, rate_limit_rpm, allowed_models, enabled, created_at, updated_at`

type PostgresCallerRepository struct {
	db *sql.DB
}

func NewPostgresCallerRepository(db *sql.DB) *PostgresCallerRepository {
	return &PostgresCallerRepository{db: db}
}

func (r *PostgresCallerRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Caller, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callerColumns+` FROM callers WHERE api_key_hash = $1 AND enabled = true`,
		HashAPIKey(apiKey),
	)
	return scanCaller(row)
}

func (r *PostgresCallerRepository) GetByID(ctx context.Context, id string) (*domain.Caller, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callerColumns+` FROM callers WHERE id = $1`,
		id,
	)
	return scanCaller(row)
}

func (r *PostgresCallerRepository) Create(ctx context.Context, caller *domain.Caller) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO callers (id, name, api_key_hash, rate_limit_rpm, allowed_models, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		caller.ID,
		caller.Name,
		caller.APIKeyHash,
		caller.RateLimitRPM,
		pq.Array(caller.AllowedModels),
		caller.Enabled,
		caller.CreatedAt,
		caller.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert caller: %w", err)
	}
	return nil
}

func (r *PostgresCallerRepository) Update(ctx context.Context, caller *domain.Caller) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE callers
		 SET name = $2, api_key_hash = $3, rate_limit_rpm = $4, allowed_models = $5, enabled = $6, updated_at = $7
		 WHERE id = $1`,
		caller.ID,
		caller.Name,
		caller.APIKeyHash,
		caller.RateLimitRPM,
		pq.Array(caller.AllowedModels),
		caller.Enabled,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update caller: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrCallerNotFound
	}
	return nil
}

func (r *PostgresCallerRepository) List(ctx context.Context) ([]*domain.Caller, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callerColumns+` FROM callers ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query callers: %w", err)
	}
	defer rows.Close()

	var callers []*domain.Caller
	for rows.Next() {
		caller, err := scanCaller(rows)
		if err != nil {
			return nil, err
		}
		callers = append(callers, caller)
	}
	return callers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCaller(row rowScanner) (*domain.Caller, error) {
	var caller domain.Caller
	var allowedModels pq.StringArray

	err := row.Scan(
		&caller.ID,
		&caller.Name,
		&caller.APIKeyHash,
		&caller.RateLimitRPM,
		&allowedModels,
		&caller.Enabled,
		&caller.CreatedAt,
		&caller.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCallerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan caller: %w", err)
	}

	caller.AllowedModels = []string(allowedModels)
	return &caller, nil
}
