package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ai-platform/llm-gateway/internal/credit"
)

// Credentials carries the provider-side configuration resolved at startup.
// A profile whose provider has no credential stays in the catalog but is
// marked unavailable.
type Credentials struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DeepSeekAPIKey   string
	DeepSeekBaseURL  string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	BedrockEnabled   bool
}

type catalogEntry struct {
	model       string
	provider    string
	wire        WireFormat
	inputPer1K  string // credits per 1K tokens, decimal
	outputPer1K string
}

var defaultCatalog = []catalogEntry{
	{"gpt-4o", "openai", WireOpenAI, "0.005", "0.015"},
	{"gpt-4o-mini", "openai", WireOpenAI, "0.00015", "0.0006"},
	{"gpt-4-turbo", "openai", WireOpenAI, "0.01", "0.03"},
	{"gpt-4", "openai", WireOpenAI, "0.03", "0.06"},
	{"gpt-3.5-turbo", "openai", WireOpenAI, "0.0005", "0.0015"},
	{"deepseek-chat", "deepseek", WireOpenAI, "0.00027", "0.0011"},
	{"deepseek-reasoner", "deepseek", WireOpenAI, "0.00055", "0.00219"},
	{"claude-3-5-sonnet-20241022", "anthropic", WireAnthropic, "0.003", "0.015"},
	{"claude-3-5-haiku-20241022", "anthropic", WireAnthropic, "0.001", "0.005"},
	{"claude-3-opus-20240229", "anthropic", WireAnthropic, "0.015", "0.075"},
	{"claude-3-haiku-20240307", "anthropic", WireAnthropic, "0.00025", "0.00125"},
	{"anthropic.claude-3-5-sonnet-20241022-v2:0", "bedrock", WireBedrock, "0.003", "0.015"},
	{"anthropic.claude-3-haiku-20240307-v1:0", "bedrock", WireBedrock, "0.00025", "0.00125"},
}

// DefaultProfiles builds the built-in catalog, attaching credentials and
// availability per provider.
func DefaultProfiles(creds Credentials) []ModelProfile {
	profiles := make([]ModelProfile, 0, len(defaultCatalog))
	for _, e := range defaultCatalog {
		in, err := credit.Parse(e.inputPer1K)
		if err != nil {
			panic(fmt.Sprintf("registry: bad catalog price %q: %v", e.inputPer1K, err))
		}
		out, err := credit.Parse(e.outputPer1K)
		if err != nil {
			panic(fmt.Sprintf("registry: bad catalog price %q: %v", e.outputPer1K, err))
		}

		p := ModelProfile{
			ModelID:     e.model,
			Provider:    e.provider,
			WireFormat:  e.wire,
			InputPer1K:  in,
			OutputPer1K: out,
		}

		switch e.provider {
		case "openai":
			p.APIKey = creds.OpenAIAPIKey
			p.BaseURL = creds.OpenAIBaseURL
			p.Available = creds.OpenAIAPIKey != ""
		case "deepseek":
			p.APIKey = creds.DeepSeekAPIKey
			p.BaseURL = creds.DeepSeekBaseURL
			p.Available = creds.DeepSeekAPIKey != ""
		case "anthropic":
			p.APIKey = creds.AnthropicAPIKey
			p.BaseURL = creds.AnthropicBaseURL
			p.Available = creds.AnthropicAPIKey != ""
		case "bedrock":
			p.Available = creds.BedrockEnabled
		}

		profiles = append(profiles, p)
	}
	return profiles
}

type catalogFileEntry struct {
	Model       string        `json:"model"`
	Provider    string        `json:"provider"`
	WireFormat  string        `json:"wire_format"`
	BaseURL     string        `json:"base_url,omitempty"`
	InputPer1K  credit.Amount `json:"input_per_1k"`
	OutputPer1K credit.Amount `json:"output_per_1k"`
}

// LoadProfiles reads a JSON catalog file and merges it over the defaults:
// entries for a known model replace the default, new models are appended.
func LoadProfiles(path string, creds Credentials) ([]ModelProfile, error) {
	profiles := DefaultProfiles(creds)
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var entries []catalogFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	byID := make(map[string]int, len(profiles))
	for i, p := range profiles {
		byID[p.ModelID] = i
	}

	for _, e := range entries {
		p := ModelProfile{
			ModelID:     e.Model,
			Provider:    e.Provider,
			WireFormat:  WireFormat(e.WireFormat),
			BaseURL:     e.BaseURL,
			InputPer1K:  e.InputPer1K,
			OutputPer1K: e.OutputPer1K,
		}
		switch p.WireFormat {
		case WireOpenAI, WireAnthropic, WireBedrock:
		default:
			return nil, fmt.Errorf("catalog model %s: unknown wire format %q", e.Model, e.WireFormat)
		}

		switch p.Provider {
		case "openai":
			p.APIKey = creds.OpenAIAPIKey
			if p.BaseURL == "" {
				p.BaseURL = creds.OpenAIBaseURL
			}
			p.Available = p.APIKey != ""
		case "deepseek":
			p.APIKey = creds.DeepSeekAPIKey
			if p.BaseURL == "" {
				p.BaseURL = creds.DeepSeekBaseURL
			}
			p.Available = p.APIKey != ""
		case "anthropic":
			p.APIKey = creds.AnthropicAPIKey
			if p.BaseURL == "" {
				p.BaseURL = creds.AnthropicBaseURL
			}
			p.Available = p.APIKey != ""
		case "bedrock":
			p.Available = creds.BedrockEnabled
		default:
			// Custom OpenAI-compatible endpoints carry their own base URL and
			// are available as long as one is set.
			p.APIKey = creds.OpenAIAPIKey
			p.Available = p.BaseURL != ""
		}

		if i, ok := byID[p.ModelID]; ok {
			profiles[i] = p
		} else {
			byID[p.ModelID] = len(profiles)
			profiles = append(profiles, p)
		}
	}

	return profiles, nil
}
