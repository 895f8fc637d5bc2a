// Package config loads gateway settings from the environment. Credential
// values may be stored encrypted ("enc:...") or referenced from AWS Secrets
// Manager ("aws-secret:name"); ResolveSecrets turns them into plaintext at
// startup.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/crypto"
	"github.com/ai-platform/llm-gateway/internal/secrets"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DeepSeekAPIKey   string
	DeepSeekBaseURL  string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	BedrockEnabled   bool
	AWSRegion        string

	// ModelsFile points at a JSON catalog overriding the built-in model
	// pricing and endpoints.
	ModelsFile string

	AutoProvision       bool
	InitialCredits      credit.Amount
	DefaultRateLimitRPM int
	LowBalanceThreshold credit.Amount

	AdminTokenHash string
	EncryptionKey  string

	SNSTopicArn string
	SQSQueueURL string

	OTLPEndpoint string

	UseDistributedCircuitBreaker bool

	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	initialCredits, err := credit.Parse(getEnv("INITIAL_CREDITS", "5"))
	if err != nil {
		return nil, fmt.Errorf("INITIAL_CREDITS: %w", err)
	}
	lowBalance, err := credit.Parse(getEnv("LOW_BALANCE_THRESHOLD", "1"))
	if err != nil {
		return nil, fmt.Errorf("LOW_BALANCE_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Addr:     getEnv("ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		DeepSeekAPIKey:   getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekBaseURL:  getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		BedrockEnabled:   getBoolEnv("BEDROCK_ENABLED", false),
		AWSRegion:        getEnv("AWS_REGION", ""),

		ModelsFile: getEnv("MODELS_FILE", ""),

		AutoProvision:       getBoolEnv("AUTO_PROVISION", true),
		InitialCredits:      initialCredits,
		DefaultRateLimitRPM: getIntEnv("RATE_LIMIT_RPM", 60),
		LowBalanceThreshold: lowBalance,

		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),

		SNSTopicArn: getEnv("SNS_TOPIC_ARN", ""),
		SQSQueueURL: getEnv("SQS_QUEUE_URL", ""),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		UseDistributedCircuitBreaker: getBoolEnv("USE_DISTRIBUTED_CB", false),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:    getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	return cfg, nil
}

// ResolveSecrets rewrites credential fields that use the enc: or aws-secret:
// schemes. Either resolver may be nil when its scheme is not in use.
func (c *Config) ResolveSecrets(ctx context.Context, enc *crypto.Encryptor, store secrets.SecretStore) error {
	fields := []*string{
		&c.OpenAIAPIKey,
		&c.DeepSeekAPIKey,
		&c.AnthropicAPIKey,
		&c.AdminTokenHash,
	}

	for _, f := range fields {
		resolved, err := resolveSecret(ctx, *f, enc, store)
		if err != nil {
			return err
		}
		*f = resolved
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, enc *crypto.Encryptor, store secrets.SecretStore) (string, error) {
	switch {
	case strings.HasPrefix(value, "enc:"):
		if enc == nil {
			return "", fmt.Errorf("encrypted value present but ENCRYPTION_KEY not set")
		}
		plain, err := enc.Decrypt(strings.TrimPrefix(value, "enc:"))
		if err != nil {
			return "", fmt.Errorf("decrypt credential: %w", err)
		}
		return plain, nil

	case strings.HasPrefix(value, "aws-secret:"):
		if store == nil {
			return "", fmt.Errorf("aws-secret reference present but no secret store configured")
		}
		plain, err := store.GetSecret(ctx, strings.TrimPrefix(value, "aws-secret:"))
		if err != nil {
			return "", fmt.Errorf("fetch credential secret: %w", err)
		}
		return plain, nil

	default:
		return value, nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
