package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ai-platform/llm-gateway/internal/alerts"
	"github.com/ai-platform/llm-gateway/internal/api"
	"github.com/ai-platform/llm-gateway/internal/audit"
	"github.com/ai-platform/llm-gateway/internal/auth"
	"github.com/ai-platform/llm-gateway/internal/circuitbreaker"
	"github.com/ai-platform/llm-gateway/internal/config"
	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/crypto"
	"github.com/ai-platform/llm-gateway/internal/httputil"
	"github.com/ai-platform/llm-gateway/internal/notifications"
	"github.com/ai-platform/llm-gateway/internal/provider"
	"github.com/ai-platform/llm-gateway/internal/provider/anthropic"
	"github.com/ai-platform/llm-gateway/internal/provider/bedrock"
	"github.com/ai-platform/llm-gateway/internal/provider/openai"
	"github.com/ai-platform/llm-gateway/internal/ratelimit"
	"github.com/ai-platform/llm-gateway/internal/registry"
	"github.com/ai-platform/llm-gateway/internal/repository"
	"github.com/ai-platform/llm-gateway/internal/secrets"
	"github.com/ai-platform/llm-gateway/internal/session"
	"github.com/ai-platform/llm-gateway/internal/telemetry"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting llm-gateway", "addr", cfg.Addr, "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "llm-gateway", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	// Credential fields may be encrypted or point into Secrets Manager.
	var enc *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid encryption key", "error", err)
			os.Exit(1)
		}
	}
	var store secrets.SecretStore
	if cfg.AWSRegion != "" {
		sm, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("secrets manager unavailable", "error", err)
		} else {
			store = sm
		}
	}
	if err := cfg.ResolveSecrets(ctx, enc, store); err != nil {
		slog.Error("failed to resolve credentials", "error", err)
		os.Exit(1)
	}

	var ledger credit.Ledger
	var callerRepo repository.CallerRepository
	var recorder audit.Recorder

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			pingCancel()
			slog.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		pingCancel()
		defer db.Close()

		ledger = credit.NewPostgresLedger(db)
		callerRepo = repository.NewPostgresCallerRepository(db)
		recorder = audit.NewPostgresRecorder(db)
		slog.Info("using postgres storage")
	} else {
		ledger = credit.NewInMemoryLedger()
		callerRepo = repository.NewInMemoryCallerRepository()
		recorder = audit.NewInMemoryRecorder()
		slog.Info("using in-memory storage; balances reset on restart")
	}

	if cfg.SQSQueueURL != "" {
		exporter, err := audit.NewSQSExporter(ctx, recorder, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			slog.Warn("usage export disabled", "error", err)
		} else {
			recorder = exporter
			slog.Info("exporting usage records", "queue", cfg.SQSQueueURL)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			slog.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		pingCancel()
		defer redisClient.Close()
	}

	var rateLimiter ratelimit.RateLimiter
	if redisClient != nil {
		rateLimiter = ratelimit.NewRedisRateLimiterWithClient(redisClient)
		slog.Info("using redis rate limiter")
	} else {
		rateLimiter = ratelimit.NewInMemoryRateLimiter()
		slog.Info("using in-memory rate limiter")
	}

	var breakerOpts []circuitbreaker.ManagerOption
	if cfg.UseDistributedCircuitBreaker && cfg.RedisURL != "" {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedis(cfg.RedisURL))
		slog.Info("using distributed circuit breakers")
	}
	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)

	creds := registry.Credentials{
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		DeepSeekAPIKey:   cfg.DeepSeekAPIKey,
		DeepSeekBaseURL:  cfg.DeepSeekBaseURL,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		BedrockEnabled:   cfg.BedrockEnabled,
	}
	var profiles []registry.ModelProfile
	if cfg.ModelsFile != "" {
		profiles, err = registry.LoadProfiles(cfg.ModelsFile, creds)
		if err != nil {
			slog.Error("failed to load model catalog", "file", cfg.ModelsFile, "error", err)
			os.Exit(1)
		}
		slog.Info("loaded model catalog", "file", cfg.ModelsFile, "models", len(profiles))
	} else {
		profiles = registry.DefaultProfiles(creds)
	}
	reg := registry.New(profiles)

	available := reg.ListAvailable()
	if len(available) == 0 {
		slog.Error("no model providers configured")
		os.Exit(1)
	}
	for _, p := range available {
		slog.Info("registered model", "model", p.ModelID, "provider", p.Provider)
	}

	httpClient := httputil.DefaultClient()
	adapters := map[registry.WireFormat]provider.Adapter{
		registry.WireOpenAI:    openai.New(httpClient),
		registry.WireAnthropic: anthropic.New(httpClient),
	}
	if cfg.BedrockEnabled {
		b, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to init bedrock", "error", err)
			os.Exit(1)
		}
		adapters[registry.WireBedrock] = b
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicArn != "" {
		n, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			slog.Warn("sns notifier unavailable, alerts stay local", "error", err)
			notifier = notifications.NewInMemoryNotifier()
		} else {
			notifier = n
		}
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	var dedup alerts.Deduper
	if redisClient != nil {
		dedup = alerts.NewRedisDeduper(redisClient, 24*time.Hour)
	}
	monitor := alerts.NewMonitor(notifier, alerts.Config{LowBalance: cfg.LowBalanceThreshold}, dedup)

	sessions := session.New(session.Config{
		Registry: reg,
		Ledger:   ledger,
		Adapters: adapters,
		Recorder: recorder,
		Breakers: breakers,
		OnSettle: monitor.OnSettle,
	})

	authenticator := auth.NewAuthenticator(callerRepo, ledger, auth.Config{
		AutoProvision:  cfg.AutoProvision,
		InitialCredits: cfg.InitialCredits,
		DefaultRPM:     cfg.DefaultRateLimitRPM,
	})

	var checkers []api.HealthChecker
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisHealthCheckerWithClient(redisClient))
	}
	if cfg.DatabaseURL != "" {
		if db, err := sql.Open("postgres", cfg.DatabaseURL); err == nil {
			checkers = append(checkers, api.NewPostgresHealthChecker(db))
		}
	}

	handler := api.NewHandler(api.HandlerConfig{
		Auth:        authenticator,
		RateLimiter: rateLimiter,
		Registry:    reg,
		Ledger:      ledger,
		Sessions:    sessions,
		Breakers:    breakers,
		Checkers:    checkers,
	})

	mux := http.NewServeMux()
	if cfg.AdminTokenHash != "" {
		guard := auth.NewAdminGuard(cfg.AdminTokenHash)
		mux.Handle("/admin/", guard.RequireAdmin(api.NewAdminHandler(callerRepo, ledger, recorder)))
	} else {
		slog.Warn("ADMIN_TOKEN_HASH not set, admin API disabled")
	}
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
