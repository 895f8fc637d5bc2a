// Package provider defines the wire adapter abstraction. One adapter exists
// per wire-format family; new providers are added by implementing an Adapter,
// never by branching inside the session orchestrator.
package provider

import (
	"context"

	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/registry"
)

// Frame is one provider-native stream frame plus the normalized events
// recovered from it. Raw is relayed to the caller verbatim, in arrival
// order; Events feed the session's accounting only.
type Frame struct {
	Raw    []byte
	Events []domain.StreamEvent
}

// Result is the normalized outcome of a non-streaming completion.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Adapter translates normalized chat requests into a provider's wire format
// and parses its responses back into normalized events. Implementations are
// stateless and safe for concurrent use; a stream is restartable only from
// the start of a call.
type Adapter interface {
	WireFormat() registry.WireFormat

	// Complete performs the non-streaming call and returns both the parsed
	// result and the provider's native body for verbatim relay.
	Complete(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (*Result, []byte, error)

	// Stream performs the streaming call. The frame channel closes when the
	// provider stream ends; a transport failure mid-stream arrives on the
	// error channel after whatever frames were already produced.
	Stream(ctx context.Context, profile registry.ModelProfile, req domain.ChatRequest) (<-chan Frame, <-chan error)
}
