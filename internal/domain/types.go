package domain

import (
	"encoding/json"
	"time"
)

// Caller is an authenticated account with a prepaid credit balance.
// The balance itself lives in the ledger; this struct carries identity
// and per-caller policy.
type Caller struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	APIKeyHash   string `json:"-"`
	RateLimitRPM int    `json:"rate_limit_rpm"`
	// AllowedModels restricts the caller to these model IDs. Empty means
	// every registered model.
	AllowedModels []string  `json:"allowed_models,omitempty"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanUse reports whether the caller may request the given model.
func (c *Caller) CanUse(model string) bool {
	if len(c.AllowedModels) == 0 {
		return true
	}
	for _, m := range c.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   *bool     `json:"stream,omitempty"`

	// Extra carries provider passthrough parameters (temperature, top_p, ...)
	// that the gateway forwards without interpreting.
	Extra map[string]json.RawMessage `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Streaming defaults to true when the caller leaves the field unset.
func (r ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Validate checks request shape only. Shape failures never touch the ledger.
func (r ChatRequest) Validate() error {
	if r.Model == "" {
		return ErrMissingModel
	}
	if len(r.Messages) == 0 {
		return ErrMissingMessages
	}
	return nil
}

// PromptText concatenates all message content for input token estimation.
func (r ChatRequest) PromptText() string {
	var n int
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	buf := make([]byte, 0, n)
	for _, m := range r.Messages {
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// UnmarshalJSON keeps unknown fields so the gateway can pass provider
// parameters through without enumerating them.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields["model"]; ok {
		if err := json.Unmarshal(raw, &r.Model); err != nil {
			return err
		}
		delete(fields, "model")
	}
	if raw, ok := fields["messages"]; ok {
		if err := json.Unmarshal(raw, &r.Messages); err != nil {
			return err
		}
		delete(fields, "messages")
	}
	if raw, ok := fields["stream"]; ok {
		if err := json.Unmarshal(raw, &r.Stream); err != nil {
			return err
		}
		delete(fields, "stream")
	}

	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

type EventType int

const (
	EventContentDelta EventType = iota
	EventUsageFinal
	EventError
	EventDone
)

func (t EventType) String() string {
	switch t {
	case EventContentDelta:
		return "content_delta"
	case EventUsageFinal:
		return "usage_final"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// StreamEvent is the normalized unit a wire adapter recovers from a provider
// stream. Ephemeral; consumed by the proxy session for accounting only.
type StreamEvent struct {
	Type         EventType
	Text         string // EventContentDelta
	InputTokens  int    // EventUsageFinal, 0 when the provider did not report it
	OutputTokens int    // EventUsageFinal
	Message      string // EventError
}

type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusFailed  CallStatus = "failed"
)

// UsageRecord is the append-only audit entry, one per call attempt that
// reached the provider boundary. Never mutated after creation.
type UsageRecord struct {
	CallerID     string     `json:"caller_id"`
	RequestID    string     `json:"request_id"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostMicros   int64      `json:"cost_micros"`
	Status       CallStatus `json:"status"`
	LatencyMs    int64      `json:"latency_ms"`
	Timestamp    time.Time  `json:"timestamp"`
}

type ModelInfo struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
