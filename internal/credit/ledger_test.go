package credit

import (
	"context"
	"sync"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/domain"
)

func TestInMemoryLedger_TryReserve(t *testing.T) {
	ledger := NewInMemoryLedger()
	ledger.SetBalance("caller1", 10*Micro)
	ctx := context.Background()

	tests := []struct {
		name      string
		estimated Amount
		want      bool
	}{
		{name: "well under balance", estimated: 1000, want: true},
		{name: "exactly half balance", estimated: 5 * Micro, want: true},
		{name: "over half balance", estimated: 5*Micro + 1, want: false},
		{name: "over balance", estimated: 20 * Micro, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := ledger.TryReserve(ctx, "caller1", tt.estimated)
			if err != nil {
				t.Fatalf("TryReserve() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("TryReserve(%d) = %v, want %v", tt.estimated, ok, tt.want)
			}
		})
	}
}

func TestInMemoryLedger_TryReserveDoesNotMutate(t *testing.T) {
	ledger := NewInMemoryLedger()
	ledger.SetBalance("caller1", 10*Micro)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := ledger.TryReserve(ctx, "caller1", Micro); err != nil {
			t.Fatal(err)
		}
	}

	balance, err := ledger.Balance(ctx, "caller1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 10*Micro {
		t.Errorf("balance after reservations = %d, want %d", balance, 10*Micro)
	}
}

func TestInMemoryLedger_UnknownCaller(t *testing.T) {
	ledger := NewInMemoryLedger()
	ctx := context.Background()

	if _, err := ledger.Balance(ctx, "nobody"); err != domain.ErrCallerNotFound {
		t.Errorf("Balance() error = %v, want ErrCallerNotFound", err)
	}
	if _, err := ledger.Settle(ctx, "nobody", 1); err != domain.ErrCallerNotFound {
		t.Errorf("Settle() error = %v, want ErrCallerNotFound", err)
	}
}

func TestInMemoryLedger_SettleCanGoNegative(t *testing.T) {
	ledger := NewInMemoryLedger()
	ledger.SetBalance("caller1", 100)
	ctx := context.Background()

	after, err := ledger.Settle(ctx, "caller1", 150)
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if after != -50 {
		t.Errorf("balance after = %d, want -50", after)
	}
}

func TestInMemoryLedger_ConcurrentSettlements(t *testing.T) {
	ledger := NewInMemoryLedger()
	initial := Amount(1_000_000_000)
	ledger.SetBalance("caller1", initial)
	ctx := context.Background()

	const n = 100
	const each = Amount(1234)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Settle(ctx, "caller1", each); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	balance, err := ledger.Balance(ctx, "caller1")
	if err != nil {
		t.Fatal(err)
	}
	want := initial - n*each
	if balance != want {
		t.Errorf("balance after %d settlements = %d, want %d (lost updates)", n, balance, want)
	}
}

func TestInMemoryLedger_CreditThenSettle(t *testing.T) {
	ledger := NewInMemoryLedger()
	ledger.SetBalance("caller1", 0)
	ctx := context.Background()

	if err := ledger.Credit(ctx, "caller1", 5*Micro); err != nil {
		t.Fatal(err)
	}

	after, err := ledger.Settle(ctx, "caller1", 2*Micro)
	if err != nil {
		t.Fatal(err)
	}
	if after != 3*Micro {
		t.Errorf("balance after = %d, want %d", after, 3*Micro)
	}
}
