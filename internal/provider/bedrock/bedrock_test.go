package bedrock

import (
	"encoding/json"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

func TestBuildBody(t *testing.T) {
	req := domain.ChatRequest{
		Model: "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []domain.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	}

	body, err := buildBody(req)
	if err != nil {
		t.Fatalf("buildBody() error = %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["anthropic_version"] != anthropicVersion {
		t.Errorf("anthropic_version = %v", payload["anthropic_version"])
	}
	if payload["system"] != "be brief" {
		t.Errorf("system = %v", payload["system"])
	}
	if payload["max_tokens"] != float64(defaultMaxTokens) {
		t.Errorf("max_tokens = %v, want %d", payload["max_tokens"], defaultMaxTokens)
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 1 {
		t.Errorf("messages = %v, system role should be split out", messages)
	}
}

func TestBuildBody_ForwardsPassthroughParams(t *testing.T) {
	req := domain.ChatRequest{
		Model:    "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
		Extra: map[string]json.RawMessage{
			"temperature": json.RawMessage("0.2"),
			"max_tokens":  json.RawMessage("256"),
		},
	}

	body, err := buildBody(req)
	if err != nil {
		t.Fatalf("buildBody() error = %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["temperature"] != float64(0.2) {
		t.Errorf("temperature = %v, want 0.2", payload["temperature"])
	}
	if payload["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v, want caller-supplied 256", payload["max_tokens"])
	}
}

func TestParseChunk(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []domain.StreamEvent
	}{
		{
			name: "content delta",
			data: `{"type":"content_block_delta","delta":{"type":"text_delta","text":"ok"}}`,
			want: []domain.StreamEvent{{Type: domain.EventContentDelta, Text: "ok"}},
		},
		{
			name: "final chunk with invocation metrics",
			data: `{"type":"message_stop","amazon-bedrock-invocationMetrics":{"inputTokenCount":11,"outputTokenCount":22}}`,
			want: []domain.StreamEvent{
				{Type: domain.EventDone},
				{Type: domain.EventUsageFinal, InputTokens: 11, OutputTokens: 22},
			},
		},
		{
			name: "malformed skipped",
			data: `{{{`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseChunk([]byte(tt.data))
			if len(got) != len(tt.want) {
				t.Fatalf("parseChunk() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
