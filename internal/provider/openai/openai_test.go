package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/provider"
	"github.com/ai-platform/llm-gateway/internal/registry"
)

func testProfile(baseURL string) registry.ModelProfile {
	return registry.ModelProfile{
		ModelID:    "gpt-4o",
		Provider:   "openai",
		WireFormat: registry.WireOpenAI,
		BaseURL:    baseURL,
		APIKey:     "sk-test",
		Available:  true,
	}
}

func TestBuildRequest(t *testing.T) {
	req := domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
		Extra:    map[string]json.RawMessage{"temperature": json.RawMessage("0.7")},
	}

	httpReq, err := buildRequest(context.Background(), testProfile("https://api.example.com/v1"), req, true)
	if err != nil {
		t.Fatalf("buildRequest() error = %v", err)
	}

	if httpReq.URL.String() != "https://api.example.com/v1/chat/completions" {
		t.Errorf("url = %s", httpReq.URL)
	}
	if got := httpReq.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("auth header = %q", got)
	}

	body, _ := io.ReadAll(httpReq.Body)
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["model"] != "gpt-4o" {
		t.Errorf("model = %v", payload["model"])
	}
	if payload["stream"] != true {
		t.Errorf("stream = %v", payload["stream"])
	}
	if payload["temperature"] != 0.7 {
		t.Errorf("passthrough temperature = %v", payload["temperature"])
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []domain.StreamEvent
	}{
		{
			name: "content delta",
			line: `data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n",
			want: []domain.StreamEvent{{Type: domain.EventContentDelta, Text: "Hello"}},
		},
		{
			name: "done sentinel",
			line: "data: [DONE]\n",
			want: []domain.StreamEvent{{Type: domain.EventDone}},
		},
		{
			name: "keep-alive comment ignored",
			line: ": keep-alive\n",
			want: nil,
		},
		{
			name: "blank line ignored",
			line: "\n",
			want: nil,
		},
		{
			name: "malformed json skipped",
			line: "data: {not json\n",
			want: nil,
		},
		{
			name: "usage chunk",
			line: `data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":34}}` + "\n",
			want: []domain.StreamEvent{{Type: domain.EventUsageFinal, InputTokens: 12, OutputTokens: 34}},
		},
		{
			name: "error payload",
			line: `data: {"error":{"message":"overloaded"}}` + "\n",
			want: []domain.StreamEvent{{Type: domain.EventError, Message: "overloaded"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLine([]byte(tt.line))
			if len(got) != len(tt.want) {
				t.Fatalf("parseLine() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// chunkedReader returns data in tiny reads so logical lines split across
// chunk boundaries.
type chunkedReader struct {
	data []byte
	pos  int
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func TestParseStream_SplitChunkBoundaries(t *testing.T) {
	stream := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	frames := make(chan provider.Frame, 32)
	err := parseStream(context.Background(), &chunkedReader{data: []byte(stream), size: 7}, frames)
	if err != nil {
		t.Fatalf("parseStream() error = %v", err)
	}
	close(frames)

	var text strings.Builder
	var relayed strings.Builder
	sawDone := false
	for f := range frames {
		relayed.Write(f.Raw)
		for _, e := range f.Events {
			switch e.Type {
			case domain.EventContentDelta:
				text.WriteString(e.Text)
			case domain.EventDone:
				sawDone = true
			}
		}
	}

	if text.String() != "Hello" {
		t.Errorf("concatenated deltas = %q, want Hello", text.String())
	}
	if !sawDone {
		t.Error("missing done event")
	}
	// Relay must be byte-identical to the provider stream, in order. The
	// parser stops at the DONE line, so the trailing blank line after it is
	// the only byte never forwarded.
	want := strings.TrimSuffix(stream, "\n")
	if relayed.String() != want {
		t.Errorf("relayed bytes differ from provider stream:\n%q\n%q", relayed.String(), want)
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":9,"completion_tokens":3}}`)
	}))
	defer srv.Close()

	adapter := New(srv.Client())
	req := domain.ChatRequest{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "hi"}}}

	result, raw, err := adapter.Complete(context.Background(), testProfile(srv.URL), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Content != "hi there" {
		t.Errorf("content = %q", result.Content)
	}
	if result.InputTokens != 9 || result.OutputTokens != 3 {
		t.Errorf("usage = %d/%d, want 9/3", result.InputTokens, result.OutputTokens)
	}
	if !strings.Contains(string(raw), "hi there") {
		t.Error("raw body not returned for relay")
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := New(srv.Client())
	req := domain.ChatRequest{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "hi"}}}

	_, _, err := adapter.Complete(context.Background(), testProfile(srv.URL), req)
	if err == nil {
		t.Fatal("Complete() expected error for 500 response")
	}
}

func TestStream_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"a"}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"b"}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter := New(srv.Client())
	req := domain.ChatRequest{Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "hi"}}}

	frames, errs := adapter.Stream(context.Background(), testProfile(srv.URL), req)

	var text strings.Builder
	for f := range frames {
		for _, e := range f.Events {
			if e.Type == domain.EventContentDelta {
				text.WriteString(e.Text)
			}
		}
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text.String() != "ab" {
		t.Errorf("deltas = %q, want ab", text.String())
	}
}
