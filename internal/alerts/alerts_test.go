package alerts

import (
	"context"
	"testing"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/notifications"
)

func TestMonitor_FiresBelowThreshold(t *testing.T) {
	ctx := context.Background()
	notifier := notifications.NewInMemoryNotifier()
	m := NewMonitor(notifier, Config{LowBalance: 1 * credit.Micro}, nil)

	m.OnSettle(ctx, "c1", 500_000)

	got := notifier.GetNotifications()
	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	if got[0].Type != notifications.NotificationLowBalance {
		t.Errorf("type = %s, want low_balance", got[0].Type)
	}
	if got[0].CallerID != "c1" {
		t.Errorf("caller = %s, want c1", got[0].CallerID)
	}
}

func TestMonitor_SilentAboveThreshold(t *testing.T) {
	ctx := context.Background()
	notifier := notifications.NewInMemoryNotifier()
	m := NewMonitor(notifier, Config{LowBalance: 1 * credit.Micro}, nil)

	m.OnSettle(ctx, "c1", 10*credit.Micro)

	if n := len(notifier.GetNotifications()); n != 0 {
		t.Errorf("got %d notifications, want 0", n)
	}
}

func TestMonitor_FiresOncePerDrain(t *testing.T) {
	ctx := context.Background()
	notifier := notifications.NewInMemoryNotifier()
	m := NewMonitor(notifier, Config{LowBalance: 1 * credit.Micro}, nil)

	m.OnSettle(ctx, "c1", 800_000)
	m.OnSettle(ctx, "c1", 600_000)
	m.OnSettle(ctx, "c1", 400_000)

	if n := len(notifier.GetNotifications()); n != 1 {
		t.Errorf("got %d notifications, want 1 (deduped)", n)
	}
}

func TestMonitor_RearmsAfterRecovery(t *testing.T) {
	ctx := context.Background()
	notifier := notifications.NewInMemoryNotifier()
	m := NewMonitor(notifier, Config{LowBalance: 1 * credit.Micro}, nil)

	m.OnSettle(ctx, "c1", 800_000)
	// Admin tops the caller up, then it drains again.
	m.OnSettle(ctx, "c1", 20*credit.Micro)
	m.OnSettle(ctx, "c1", 700_000)

	if n := len(notifier.GetNotifications()); n != 2 {
		t.Errorf("got %d notifications, want 2 (re-armed after recovery)", n)
	}
}

func TestMonitor_DrainedBeatsLow(t *testing.T) {
	ctx := context.Background()
	notifier := notifications.NewInMemoryNotifier()
	m := NewMonitor(notifier, Config{LowBalance: 1 * credit.Micro}, nil)

	m.OnSettle(ctx, "c1", -200)

	got := notifier.GetNotifications()
	if len(got) != 1 || got[0].Type != notifications.NotificationBalanceDrained {
		t.Fatalf("got %+v, want one balance_drained", got)
	}
}

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeduper()

	first, err := d.MarkFired(ctx, "c1", "low_balance")
	if err != nil || !first {
		t.Fatalf("first MarkFired = (%v, %v), want (true, nil)", first, err)
	}

	again, _ := d.MarkFired(ctx, "c1", "low_balance")
	if again {
		t.Error("second MarkFired should report already fired")
	}

	other, _ := d.MarkFired(ctx, "c1", "balance_drained")
	if !other {
		t.Error("different alert type should fire independently")
	}

	if err := d.Clear(ctx, "c1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	rearmed, _ := d.MarkFired(ctx, "c1", "low_balance")
	if !rearmed {
		t.Error("MarkFired after Clear should fire again")
	}
}
