package circuitbreaker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

// These tests need a live Redis; they are skipped unless REDIS_URL is set.
func redisBreaker(t *testing.T, provider string, cfg Config) *RedisCircuitBreaker {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	cb, err := NewRedis(url, provider, cfg)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() {
		cb.Reset(context.Background())
		cb.Close()
	})
	return cb
}

func TestRedisBreaker_StartsClosed(t *testing.T) {
	ctx := context.Background()
	cb := redisBreaker(t, "openai-closed", DefaultConfig())

	if got := cb.State(ctx); got != StateClosed {
		t.Errorf("State() = %v, want StateClosed", got)
	}
}

func TestRedisBreaker_OpensAtThresholdAndBlocks(t *testing.T) {
	ctx := context.Background()
	cb := redisBreaker(t, "openai-opens", Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	})

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}

	if got := cb.State(ctx); got != StateOpen {
		t.Fatalf("State() after 3 failures = %v, want StateOpen", got)
	}
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("Allow() error = %v, want ErrCircuitOpen", err)
	}
}

func TestRedisBreaker_HalfOpenAfterTimeout(t *testing.T) {
	ctx := context.Background()
	cb := redisBreaker(t, "openai-halfopen", Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	time.Sleep(1100 * time.Millisecond)

	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("Allow() after timeout error = %v", err)
	}
	if got := cb.State(ctx); got != StateHalfOpen {
		t.Errorf("State() = %v, want StateHalfOpen", got)
	}
}

func TestRedisBreaker_HalfOpenOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("successes close it", func(t *testing.T) {
		cb := redisBreaker(t, "openai-recovers", Config{
			FailureThreshold: 2,
			SuccessThreshold: 2,
			Timeout:          time.Second,
		})

		cb.RecordFailure(ctx)
		cb.RecordFailure(ctx)
		time.Sleep(1100 * time.Millisecond)
		cb.Allow(ctx)

		cb.RecordSuccess(ctx)
		cb.RecordSuccess(ctx)

		if got := cb.State(ctx); got != StateClosed {
			t.Errorf("State() = %v, want StateClosed", got)
		}
	})

	t.Run("a failure reopens it", func(t *testing.T) {
		cb := redisBreaker(t, "openai-relapses", Config{
			FailureThreshold: 2,
			SuccessThreshold: 2,
			Timeout:          time.Second,
		})

		cb.RecordFailure(ctx)
		cb.RecordFailure(ctx)
		time.Sleep(1100 * time.Millisecond)
		cb.Allow(ctx)

		cb.RecordFailure(ctx)

		if got := cb.State(ctx); got != StateOpen {
			t.Errorf("State() = %v, want StateOpen", got)
		}
	})
}

func TestRedisBreaker_Reset(t *testing.T) {
	ctx := context.Background()
	cb := redisBreaker(t, "openai-reset", Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	if got := cb.State(ctx); got != StateOpen {
		t.Fatalf("State() = %v, want StateOpen before reset", got)
	}

	if err := cb.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := cb.State(ctx); got != StateClosed {
		t.Errorf("State() after reset = %v, want StateClosed", got)
	}
}

func TestManager_WithRedisBuildsRedisBreakers(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	m := NewManager(DefaultConfig(), WithRedis(url))

	cb := m.Get("anthropic")
	if cb != m.Get("anthropic") {
		t.Error("Get() should return one instance per provider")
	}
	if _, ok := cb.(*RedisCircuitBreaker); !ok {
		t.Errorf("Get() built %T, want *RedisCircuitBreaker", cb)
	}
}
