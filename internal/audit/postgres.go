package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) Record(ctx context.Context, record domain.UsageRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_records
		 (caller_id, request_id, provider, model, input_tokens, output_tokens, cost_micros, status, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.CallerID,
		record.RequestID,
		record.Provider,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.CostMicros,
		string(record.Status),
		record.LatencyMs,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) ListByCaller(ctx context.Context, callerID string, since time.Time) ([]domain.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT caller_id, request_id, provider, model, input_tokens, output_tokens, cost_micros, status, latency_ms, created_at
		 FROM usage_records
		 WHERE caller_id = $1 AND created_at >= $2
		 ORDER BY created_at DESC`,
		callerID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT caller_id, request_id, provider, model, input_tokens, output_tokens, cost_micros, status, latency_ms, created_at
		 FROM usage_records
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]domain.UsageRecord, error) {
	var records []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		var status string
		if err := rows.Scan(
			&rec.CallerID,
			&rec.RequestID,
			&rec.Provider,
			&rec.Model,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.CostMicros,
			&status,
			&rec.LatencyMs,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Status = domain.CallStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}
