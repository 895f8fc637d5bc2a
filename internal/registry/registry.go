// Package registry is the static model catalog: it maps a model identifier
// to the provider profile used for routing and pricing. Profiles are built
// once at startup from immutable configuration and never mutated, so the
// registry is freely shared across concurrent sessions.
package registry

import (
	"sort"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/domain"
)

type WireFormat string

const (
	WireOpenAI    WireFormat = "openai"
	WireAnthropic WireFormat = "anthropic"
	WireBedrock   WireFormat = "bedrock"
)

// ModelProfile is an immutable, process-lifetime catalog entry.
// Available is true only when the provider credential was configured;
// callers are never routed to an unavailable model.
type ModelProfile struct {
	ModelID     string
	Provider    string
	WireFormat  WireFormat
	BaseURL     string
	APIKey      string
	InputPer1K  credit.Amount
	OutputPer1K credit.Amount
	Available   bool
}

type Registry struct {
	profiles map[string]ModelProfile
}

func New(profiles []ModelProfile) *Registry {
	byID := make(map[string]ModelProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ModelID] = p
	}
	return &Registry{profiles: byID}
}

// Resolve looks up the profile for a model. Constant time, no network.
func (r *Registry) Resolve(modelID string) (ModelProfile, error) {
	p, ok := r.profiles[modelID]
	if !ok {
		return ModelProfile{}, domain.ErrModelNotFound
	}
	return p, nil
}

// ListAvailable returns configured profiles ordered by provider then model id.
// The ordering is informational only.
func (r *Registry) ListAvailable() []ModelProfile {
	out := make([]ModelProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		if p.Available {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

// List returns every profile, available or not, ordered like ListAvailable.
func (r *Registry) List() []ModelProfile {
	out := make([]ModelProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}
