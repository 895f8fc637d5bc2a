package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

// SQSExporter decorates a Recorder, mirroring each record onto an SQS queue
// for downstream reporting pipelines. Export failures are logged, never
// surfaced: the local record is the source of truth.
type SQSExporter struct {
	next     Recorder
	client   *sqs.Client
	queueURL string
}

func NewSQSExporter(ctx context.Context, next Recorder, region, queueURL string) (*SQSExporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSExporter{
		next:     next,
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSExporterWithConfig(next Recorder, cfg aws.Config, queueURL string) *SQSExporter {
	return &SQSExporter{
		next:     next,
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

type exportedRecord struct {
	CallerID     string    `json:"caller_id"`
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostMicros   int64     `json:"cost_micros"`
	Status       string    `json:"status"`
	LatencyMs    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e *SQSExporter) Record(ctx context.Context, record domain.UsageRecord) error {
	if err := e.next.Record(ctx, record); err != nil {
		return err
	}

	body, err := json.Marshal(exportedRecord{
		CallerID:     record.CallerID,
		RequestID:    record.RequestID,
		Provider:     record.Provider,
		Model:        record.Model,
		InputTokens:  record.InputTokens,
		OutputTokens: record.OutputTokens,
		CostMicros:   record.CostMicros,
		Status:       string(record.Status),
		LatencyMs:    record.LatencyMs,
		Timestamp:    record.Timestamp,
	})
	if err != nil {
		slog.Error("marshal usage export", "error", err, "request_id", record.RequestID)
		return nil
	}

	_, err = e.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		slog.Error("export usage record", "error", err, "request_id", record.RequestID)
	}
	return nil
}

func (e *SQSExporter) ListByCaller(ctx context.Context, callerID string, since time.Time) ([]domain.UsageRecord, error) {
	return e.next.ListByCaller(ctx, callerID, since)
}

func (e *SQSExporter) Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	return e.next.Recent(ctx, limit)
}
