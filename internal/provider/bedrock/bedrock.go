// Package bedrock implements the wire adapter for Anthropic models hosted on
// AWS Bedrock. The transport is the SDK's binary event stream rather than
// SSE, so streamed chunks are re-framed as SSE data lines for the caller;
// usage comes from the invocation metrics Bedrock appends to the final chunk.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/provider"
	"github.com/ai-platform/llm-gateway/internal/registry"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 4096
)

type Adapter struct {
	client *bedrockruntime.Client
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Adapter{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{client: bedrockruntime.NewFromConfig(cfg)}
}

func (a *Adapter) WireFormat() registry.WireFormat {
	return registry.WireBedrock
}

// buildBody mirrors the Anthropic adapter's request split: system prompt out
// of band, max_tokens capped with a default, passthrough params (temperature,
// top_p, a caller max_tokens) forwarded as-is.
func buildBody(req domain.ChatRequest) ([]byte, error) {
	var system string
	messages := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	body := map[string]any{
		"anthropic_version": anthropicVersion,
		"max_tokens":        defaultMaxTokens,
		"messages":          messages,
	}
	if system != "" {
		body["system"] = system
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	return json.Marshal(body)
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Complete(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (*provider.Result, []byte, error) {
	body, err := buildBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(profile.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invoke model: %v", domain.ErrUpstream, err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, nil, fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &provider.Result{
		Content:      content.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, output.Body, nil
}

type streamChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Metrics *struct {
		InputTokenCount  int `json:"inputTokenCount"`
		OutputTokenCount int `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
}

func (a *Adapter) Stream(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (<-chan provider.Frame, <-chan error) {
	frames := make(chan provider.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		body, err := buildBody(req)
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		output, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(profile.ModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- fmt.Errorf("%w: invoke model stream: %v", domain.ErrUpstream, err)
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			// Re-frame the binary event stream chunk as an SSE data line so
			// callers see one consistent streaming shape per wire family.
			raw := make([]byte, 0, len(chunk.Value.Bytes)+8)
			raw = append(raw, "data: "...)
			raw = append(raw, chunk.Value.Bytes...)
			raw = append(raw, '\n', '\n')

			frame := provider.Frame{Raw: raw, Events: parseChunk(chunk.Value.Bytes)}

			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("%w: stream: %v", domain.ErrUpstream, err)
		}
	}()

	return frames, errs
}

func parseChunk(data []byte) []domain.StreamEvent {
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil
	}

	var events []domain.StreamEvent
	switch chunk.Type {
	case "content_block_delta":
		if chunk.Delta != nil && chunk.Delta.Text != "" {
			events = append(events, domain.StreamEvent{Type: domain.EventContentDelta, Text: chunk.Delta.Text})
		}
	case "message_start":
		if chunk.Message != nil && chunk.Message.Usage.InputTokens > 0 {
			events = append(events, domain.StreamEvent{
				Type:        domain.EventUsageFinal,
				InputTokens: chunk.Message.Usage.InputTokens,
			})
		}
	case "message_delta":
		if chunk.Usage != nil && chunk.Usage.OutputTokens > 0 {
			events = append(events, domain.StreamEvent{
				Type:         domain.EventUsageFinal,
				OutputTokens: chunk.Usage.OutputTokens,
			})
		}
	case "message_stop":
		events = append(events, domain.StreamEvent{Type: domain.EventDone})
	}

	// Invocation metrics ride on the final chunk and are authoritative for
	// both directions.
	if chunk.Metrics != nil {
		events = append(events, domain.StreamEvent{
			Type:         domain.EventUsageFinal,
			InputTokens:  chunk.Metrics.InputTokenCount,
			OutputTokens: chunk.Metrics.OutputTokenCount,
		})
	}
	return events
}
