// Package anthropic implements the wire adapter for the Anthropic Messages
// API. Unlike the OpenAI family it carries the system prompt out of band,
// requires an explicit max_tokens cap, and reports authoritative usage in
// message_start / message_delta stream events.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/provider"
	"github.com/ai-platform/llm-gateway/internal/registry"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type Adapter struct {
	client *http.Client
}

func New(client *http.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) WireFormat() registry.WireFormat {
	return registry.WireAnthropic
}

// buildRequest splits out the system message, applies the max_tokens default
// when the caller did not set one, and forwards remaining passthrough params.
func buildRequest(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest, stream bool) (*http.Request, error) {
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
		"model":      profile.ModelID,
		"messages":   messages,
		"max_tokens": defaultMaxTokens,
		"stream":     stream,
	}
	if system != "" {
		body["system"] = system
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := profile.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", profile.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (a *Adapter) Complete(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (*provider.Result, []byte, error) {
	httpReq, err := buildRequest(ctx, profile, req, false)
	if err != nil {
		return nil, nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read body: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: status=%d body=%s", domain.ErrUpstream, resp.StatusCode, body)
	}

	result, err := parseFinal(body)
	if err != nil {
		return nil, nil, err
	}
	return result, body, nil
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage usagePayload `json:"usage"`
}

type usagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func parseFinal(body []byte) (*provider.Result, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
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
	}, nil
}

func (a *Adapter) Stream(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (<-chan provider.Frame, <-chan error) {
	frames := make(chan provider.Frame)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		httpReq, err := buildRequest(ctx, profile, req, true)
		if err != nil {
			errs <- err
			return
		}

		resp, err := a.client.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", domain.ErrUpstream, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("%w: status=%d body=%s", domain.ErrUpstream, resp.StatusCode, body)
			return
		}

		if err := parseStream(ctx, resp.Body, frames); err != nil {
			errs <- err
		}
	}()

	return frames, errs
}

// parseStream relays raw lines verbatim while extracting normalized events.
// There is no [DONE] sentinel in this family; the stream ends on message_stop
// or transport close.
func parseStream(ctx context.Context, r io.Reader, frames chan<- provider.Frame) error {
	reader := bufio.NewReader(r)
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			frame := provider.Frame{Raw: raw, Events: parseLine(raw)}
			done := false
			for _, e := range frame.Events {
				if e.Type == domain.EventDone {
					done = true
				}
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				return nil
			}
			if done {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read stream: %v", domain.ErrUpstream, err)
		}
	}
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message *struct {
		Usage usagePayload `json:"usage"`
	} `json:"message"`
	Usage *usagePayload `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseLine(raw []byte) []domain.StreamEvent {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		// event: lines and keep-alives carry no accounting information.
		return nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

	var event streamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta != nil && event.Delta.Text != "" {
			return []domain.StreamEvent{{Type: domain.EventContentDelta, Text: event.Delta.Text}}
		}
	case "message_start":
		if event.Message != nil && event.Message.Usage.InputTokens > 0 {
			return []domain.StreamEvent{{
				Type:        domain.EventUsageFinal,
				InputTokens: event.Message.Usage.InputTokens,
			}}
		}
	case "message_delta":
		// Authoritative output count, emitted near the end of the stream.
		if event.Usage != nil && event.Usage.OutputTokens > 0 {
			return []domain.StreamEvent{{
				Type:         domain.EventUsageFinal,
				OutputTokens: event.Usage.OutputTokens,
			}}
		}
	case "message_stop":
		return []domain.StreamEvent{{Type: domain.EventDone}}
	case "error":
		if event.Error != nil {
			return []domain.StreamEvent{{Type: domain.EventError, Message: event.Error.Message}}
		}
	}
	return nil
}
