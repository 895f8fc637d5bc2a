// Package openai implements the wire adapter for OpenAI-compatible chat
// completion APIs (api.openai.com, DeepSeek, and other /v1 clones).
package openai

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

type Adapter struct {
	client *http.Client
}

func New(client *http.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) WireFormat() registry.WireFormat {
	return registry.WireOpenAI
}

// buildRequest is a pure transformation of the normalized request into the
// provider-native HTTP request. Messages stay flat; passthrough params are
// forwarded untouched.
func buildRequest(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest, stream bool) (*http.Request, error) {
	body := map[string]any{
		"model":    profile.ModelID,
		"messages": req.Messages,
		"stream":   stream,
	}
	for k, v := range req.Extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, profile.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+profile.APIKey)
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

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func parseFinal(body []byte) (*provider.Result, error) {
	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrUpstream, err)
	}

	result := &provider.Result{}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
	}
	if resp.Usage != nil {
		result.InputTokens = resp.Usage.PromptTokens
		result.OutputTokens = resp.Usage.CompletionTokens
	}
	return result, nil
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

// parseStream reads the SSE body line by line. Lines are relayed verbatim
// (partial lines are buffered across chunk boundaries by the reader), while
// a trimmed copy is parsed for accounting events. Keep-alive comments and
// malformed lines produce no events but are still relayed.
func parseStream(ctx context.Context, r io.Reader, frames chan<- provider.Frame) error {
	reader := bufio.NewReader(r)
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			frame := provider.Frame{Raw: raw, Events: parseLine(raw)}
			done := hasDone(frame.Events)

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

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseLine(raw []byte) []domain.StreamEvent {
	line := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

	if data == "[DONE]" {
		return []domain.StreamEvent{{Type: domain.EventDone}}
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Malformed line, skipped rather than fatal to the stream.
		return nil
	}

	var events []domain.StreamEvent
	if chunk.Error != nil {
		events = append(events, domain.StreamEvent{Type: domain.EventError, Message: chunk.Error.Message})
	}
	for _, c := range chunk.Choices {
		if c.Delta.Content != "" {
			events = append(events, domain.StreamEvent{Type: domain.EventContentDelta, Text: c.Delta.Content})
		}
	}
	// The protocol does not report usage mid-stream; a final usage chunk
	// (stream_options include_usage) is honored when one shows up.
	if chunk.Usage != nil {
		events = append(events, domain.StreamEvent{
			Type:         domain.EventUsageFinal,
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		})
	}
	return events
}

func hasDone(events []domain.StreamEvent) bool {
	for _, e := range events {
		if e.Type == domain.EventDone {
			return true
		}
	}
	return false
}
