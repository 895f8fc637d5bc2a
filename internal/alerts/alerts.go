// Package alerts watches settled balances and raises low-balance
// notifications. Each threshold fires once per caller until the balance
// recovers above it, so a caller draining credits does not spam the topic.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/metrics"
	"github.com/ai-platform/llm-gateway/internal/notifications"
)

type Config struct {
	// LowBalance triggers a warning when a settled balance drops below it.
	LowBalance credit.Amount
}

// Monitor plugs into the session runner's settle hook.
type Monitor struct {
	notifier notifications.Notifier
	cfg      Config
	dedup    Deduper
}

func NewMonitor(notifier notifications.Notifier, cfg Config, dedup Deduper) *Monitor {
	if dedup == nil {
		dedup = NewMemoryDeduper()
	}
	return &Monitor{
		notifier: notifier,
		cfg:      cfg,
		dedup:    dedup,
	}
}

// OnSettle evaluates the caller's new balance. Safe to call concurrently.
func (m *Monitor) OnSettle(ctx context.Context, callerID string, balance credit.Amount) {
	switch {
	case balance <= 0:
		m.fire(ctx, callerID, balance, notifications.NotificationBalanceDrained,
			fmt.Sprintf("caller %s has exhausted its credits (balance %s)", callerID, balance))
	case balance < m.cfg.LowBalance:
		m.fire(ctx, callerID, balance, notifications.NotificationLowBalance,
			fmt.Sprintf("caller %s balance %s is below the %s threshold", callerID, balance, m.cfg.LowBalance))
	default:
		m.dedup.Clear(ctx, callerID)
	}
}

func (m *Monitor) fire(ctx context.Context, callerID string, balance credit.Amount, typ notifications.NotificationType, msg string) {
	first, err := m.dedup.MarkFired(ctx, callerID, string(typ))
	if err != nil {
		slog.Error("alert dedup", "caller_id", callerID, "error", err)
		return
	}
	if !first {
		return
	}

	n := notifications.Notification{
		Type:     typ,
		CallerID: callerID,
		Message:  msg,
		Data: map[string]interface{}{
			"balance": balance.String(),
		},
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		slog.Error("send low balance alert", "caller_id", callerID, "error", err)
		return
	}
	metrics.RecordLowBalanceAlert(callerID)
}

// Deduper remembers which alert types already fired per caller.
type Deduper interface {
	// MarkFired returns true when this is the first firing since the last
	// Clear.
	MarkFired(ctx context.Context, callerID, alertType string) (bool, error)
	Clear(ctx context.Context, callerID string) error
}

type MemoryDeduper struct {
	mu    sync.Mutex
	fired map[string]map[string]bool
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{fired: make(map[string]map[string]bool)}
}

func (d *MemoryDeduper) MarkFired(ctx context.Context, callerID, alertType string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	types, ok := d.fired[callerID]
	if !ok {
		types = make(map[string]bool)
		d.fired[callerID] = types
	}
	if types[alertType] {
		return false, nil
	}
	types[alertType] = true
	return true, nil
}

func (d *MemoryDeduper) Clear(ctx context.Context, callerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fired, callerID)
	return nil
}
