package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := New([]ModelProfile{
		{ModelID: "gpt-4o", Provider: "openai", WireFormat: WireOpenAI, Available: true},
		{ModelID: "claude-3-haiku-20240307", Provider: "anthropic", WireFormat: WireAnthropic},
	})

	p, err := reg.Resolve("gpt-4o")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.Provider != "openai" || !p.Available {
		t.Errorf("Resolve() = %+v, want openai available profile", p)
	}

	if _, err := reg.Resolve("no-such-model"); err != domain.ErrModelNotFound {
		t.Errorf("Resolve(unknown) error = %v, want ErrModelNotFound", err)
	}
}

func TestRegistry_ListAvailableOrdering(t *testing.T) {
	reg := New([]ModelProfile{
		{ModelID: "gpt-4o", Provider: "openai", Available: true},
		{ModelID: "claude-3-opus-20240229", Provider: "anthropic", Available: true},
		{ModelID: "claude-3-haiku-20240307", Provider: "anthropic", Available: true},
		{ModelID: "gpt-4", Provider: "openai", Available: false},
	})

	got := reg.ListAvailable()
	want := []string{"claude-3-haiku-20240307", "claude-3-opus-20240229", "gpt-4o"}

	if len(got) != len(want) {
		t.Fatalf("ListAvailable() returned %d profiles, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ModelID != id {
			t.Errorf("ListAvailable()[%d] = %s, want %s", i, got[i].ModelID, id)
		}
	}
}

func TestDefaultProfiles_Availability(t *testing.T) {
	profiles := DefaultProfiles(Credentials{AnthropicAPIKey: "sk-ant-test"})
	reg := New(profiles)

	p, err := reg.Resolve("claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Available {
		t.Error("anthropic model should be available with credential configured")
	}

	p, err = reg.Resolve("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if p.Available {
		t.Error("openai model should be unavailable without credential")
	}
}

func TestDefaultProfiles_BaseURLOverrides(t *testing.T) {
	profiles := DefaultProfiles(Credentials{
		AnthropicAPIKey:  "sk-ant-test",
		AnthropicBaseURL: "http://anthropic-proxy:8080/v1",
		DeepSeekAPIKey:   "sk-ds-test",
		DeepSeekBaseURL:  "https://api.deepseek.com/v1",
	})
	reg := New(profiles)

	p, err := reg.Resolve("claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseURL != "http://anthropic-proxy:8080/v1" {
		t.Errorf("anthropic base url = %q, want configured override", p.BaseURL)
	}

	p, err = reg.Resolve("deepseek-chat")
	if err != nil {
		t.Fatal(err)
	}
	if p.BaseURL != "https://api.deepseek.com/v1" {
		t.Errorf("deepseek base url = %q, want configured override", p.BaseURL)
	}
}

func TestLoadProfiles_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	catalog := `[
		{"model": "gpt-4o", "provider": "openai", "wire_format": "openai", "input_per_1k": 0.004, "output_per_1k": 0.012},
		{"model": "llama3", "provider": "local", "wire_format": "openai", "base_url": "http://localhost:11434/v1", "input_per_1k": 0, "output_per_1k": 0}
	]`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(path, Credentials{OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	reg := New(profiles)

	p, err := reg.Resolve("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if p.InputPer1K != 4000 {
		t.Errorf("overridden input price = %d micros, want 4000", p.InputPer1K)
	}

	p, err = reg.Resolve("llama3")
	if err != nil {
		t.Fatalf("custom model not merged: %v", err)
	}
	if !p.Available {
		t.Error("custom model with base_url should be available")
	}
}

func TestLoadProfiles_RejectsUnknownWireFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	catalog := `[{"model": "x", "provider": "y", "wire_format": "grpc", "input_per_1k": 0, "output_per_1k": 0}]`
	if err := os.WriteFile(path, []byte(catalog), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfiles(path, Credentials{}); err == nil {
		t.Error("LoadProfiles() should reject unknown wire format")
	}
}
