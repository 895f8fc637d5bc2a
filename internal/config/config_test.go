package config

import (
	"context"
	"os"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/crypto"
	"github.com/ai-platform/llm-gateway/internal/secrets"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "BEDROCK_ENABLED", "AWS_REGION",
		"MODELS_FILE", "AUTO_PROVISION", "INITIAL_CREDITS", "RATE_LIMIT_RPM",
		"LOW_BALANCE_THRESHOLD", "ADMIN_TOKEN_HASH", "ENCRYPTION_KEY",
		"SNS_TOPIC_ARN", "SQS_QUEUE_URL", "OTLP_ENDPOINT", "USE_DISTRIBUTED_CB",
		"SHUTDOWN_TIMEOUT", "DRAIN_TIMEOUT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, "https://api.openai.com/v1"},
		{"DeepSeekBaseURL", cfg.DeepSeekBaseURL, "https://api.deepseek.com/v1"},
		{"AnthropicBaseURL", cfg.AnthropicBaseURL, "https://api.anthropic.com/v1"},
		{"OpenAIAPIKey", cfg.OpenAIAPIKey, ""},
		{"ModelsFile", cfg.ModelsFile, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.expected {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
		}
	}

	if !cfg.AutoProvision {
		t.Error("AutoProvision should default to true")
	}
	if cfg.InitialCredits != 5*credit.Micro {
		t.Errorf("InitialCredits = %d, want 5 credits", cfg.InitialCredits)
	}
	if cfg.DefaultRateLimitRPM != 60 {
		t.Errorf("DefaultRateLimitRPM = %d, want 60", cfg.DefaultRateLimitRPM)
	}
	if cfg.LowBalanceThreshold != 1*credit.Micro {
		t.Errorf("LowBalanceThreshold = %d, want 1 credit", cfg.LowBalanceThreshold)
	}
	if cfg.BedrockEnabled {
		t.Error("BedrockEnabled should default to false")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)

	t.Setenv("ADDR", ":9090")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("DEEPSEEK_API_KEY", "sk-ds-key")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-key")
	t.Setenv("BEDROCK_ENABLED", "true")
	t.Setenv("INITIAL_CREDITS", "2.5")
	t.Setenv("RATE_LIMIT_RPM", "120")
	t.Setenv("AUTO_PROVISION", "false")
	t.Setenv("MODELS_FILE", "/etc/gateway/models.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.OpenAIAPIKey != "sk-test-key" || cfg.DeepSeekAPIKey != "sk-ds-key" || cfg.AnthropicAPIKey != "sk-ant-key" {
		t.Error("provider keys not loaded from env")
	}
	if !cfg.BedrockEnabled {
		t.Error("BedrockEnabled should be true")
	}
	if cfg.InitialCredits != 2_500_000 {
		t.Errorf("InitialCredits = %d, want 2500000 micros", cfg.InitialCredits)
	}
	if cfg.DefaultRateLimitRPM != 120 {
		t.Errorf("DefaultRateLimitRPM = %d, want 120", cfg.DefaultRateLimitRPM)
	}
	if cfg.AutoProvision {
		t.Error("AutoProvision should be false")
	}
	if cfg.ModelsFile != "/etc/gateway/models.json" {
		t.Errorf("ModelsFile = %q", cfg.ModelsFile)
	}
}

func TestLoad_RejectsBadCreditAmounts(t *testing.T) {
	clearEnv(t)
	t.Setenv("INITIAL_CREDITS", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("Load() should fail on unparseable INITIAL_CREDITS")
	}
}

func TestResolveSecrets_Encrypted(t *testing.T) {
	enc, err := crypto.NewEncryptor("test-master-key")
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	ciphertext, err := enc.Encrypt("sk-real-key")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	cfg := &Config{OpenAIAPIKey: "enc:" + ciphertext}
	if err := cfg.ResolveSecrets(context.Background(), enc, nil); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-real-key" {
		t.Errorf("OpenAIAPIKey = %q, want decrypted value", cfg.OpenAIAPIKey)
	}
}

func TestResolveSecrets_EncryptedWithoutKey(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "enc:deadbeef"}
	if err := cfg.ResolveSecrets(context.Background(), nil, nil); err == nil {
		t.Error("ResolveSecrets() should fail when no encryptor is configured")
	}
}

func TestResolveSecrets_SecretStore(t *testing.T) {
	store := secrets.NewInMemorySecretStore()
	store.SetSecret("prod/anthropic-key", "sk-ant-from-store")

	cfg := &Config{AnthropicAPIKey: "aws-secret:prod/anthropic-key"}
	if err := cfg.ResolveSecrets(context.Background(), nil, store); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.AnthropicAPIKey != "sk-ant-from-store" {
		t.Errorf("AnthropicAPIKey = %q, want value from store", cfg.AnthropicAPIKey)
	}
}

func TestResolveSecrets_PlainValuesUntouched(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "sk-plain"}
	if err := cfg.ResolveSecrets(context.Background(), nil, nil); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-plain" {
		t.Errorf("OpenAIAPIKey = %q, want unchanged", cfg.OpenAIAPIKey)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}
