// Package session orchestrates one chat request end to end: admission
// control, adapter dispatch, stream relay, usage accrual, ledger settlement
// and audit logging. Sessions are single-use and share nothing with each
// other except the ledger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ai-platform/llm-gateway/internal/audit"
	"github.com/ai-platform/llm-gateway/internal/circuitbreaker"
	"github.com/ai-platform/llm-gateway/internal/credit"
	"github.com/ai-platform/llm-gateway/internal/domain"
	"github.com/ai-platform/llm-gateway/internal/metrics"
	"github.com/ai-platform/llm-gateway/internal/provider"
	"github.com/ai-platform/llm-gateway/internal/registry"
	"github.com/ai-platform/llm-gateway/internal/tokens"
)

// State tracks the request lifecycle for logging. Transitions only move
// forward: Admitted -> Dispatched -> Streaming -> Settling -> final.
type State int

const (
	StateAdmitted State = iota
	StateDispatched
	StateStreaming
	StateSettling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateDispatched:
		return "dispatched"
	case StateStreaming:
		return "streaming"
	case StateSettling:
		return "settling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives provider-native bytes for the caller. Write order is the
// relay order; Flush is called after every frame so deltas arrive live.
type Sink interface {
	Write(p []byte) (int, error)
	Flush()
}

// BalanceHook is invoked after every settlement with the caller's new
// balance (low-credit alerting).
type BalanceHook func(ctx context.Context, callerID string, balance credit.Amount)

type Config struct {
	Registry *registry.Registry
	Ledger   credit.Ledger
	Adapters map[registry.WireFormat]provider.Adapter
	Recorder audit.Recorder
	Breakers *circuitbreaker.Manager
	OnSettle BalanceHook
}

type Runner struct {
	registry *registry.Registry
	ledger   credit.Ledger
	adapters map[registry.WireFormat]provider.Adapter
	recorder audit.Recorder
	breakers *circuitbreaker.Manager
	onSettle BalanceHook
}

func New(cfg Config) *Runner {
	return &Runner{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		adapters: cfg.Adapters,
		recorder: cfg.Recorder,
		breakers: cfg.Breakers,
		onSettle: cfg.OnSettle,
	}
}

// Outcome summarizes a settled call for the transport layer.
type Outcome struct {
	State        State
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         credit.Amount
	Balance      credit.Amount
}

type admission struct {
	profile      registry.ModelProfile
	adapter      provider.Adapter
	breaker      circuitbreaker.CircuitBreaker
	estimatedIn  int
	estimatedFee credit.Amount
}

// admit performs validation and admission control. No upstream call is made
// and no usage record is written on any admit failure.
func (r *Runner) admit(ctx context.Context, callerID string, req domain.ChatRequest) (*admission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	profile, err := r.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if !profile.Available {
		return nil, domain.ErrModelUnavailable
	}

	adapter, ok := r.adapters[profile.WireFormat]
	if !ok {
		return nil, domain.ErrModelUnavailable
	}

	balance, err := r.ledger.Balance(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if balance <= 0 {
		return nil, domain.ErrInsufficientCredits
	}

	estimatedIn := tokens.Estimate(req.PromptText())
	estimatedFee := credit.Cost(estimatedIn, 0, profile.InputPer1K, profile.OutputPer1K)

	ok, err = r.ledger.TryReserve(ctx, callerID, estimatedFee)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInsufficientCredits
	}

	adm := &admission{
		profile:      profile,
		adapter:      adapter,
		estimatedIn:  estimatedIn,
		estimatedFee: estimatedFee,
	}
	if r.breakers != nil {
		adm.breaker = r.breakers.Get(profile.Provider)
		if err := adm.breaker.Allow(ctx); err != nil {
			return nil, err
		}
	}
	return adm, nil
}

// Complete runs the non-streaming path: one synchronous provider round trip,
// then settlement from the provider's authoritative usage, then the audit
// record, then the native body is handed back for relay.
func (r *Runner) Complete(ctx context.Context, callerID, requestID string, req domain.ChatRequest) (*Outcome, []byte, error) {
	start := time.Now()

	adm, err := r.admit(ctx, callerID, req)
	if err != nil {
		return nil, nil, err
	}

	result, rawBody, err := adm.adapter.Complete(ctx, adm.profile, req)
	if err != nil {
		if adm.breaker != nil {
			adm.breaker.RecordFailure(ctx)
		}
		// The call reached the provider boundary: a zero-cost failed record
		// is written even though the caller is not charged.
		r.record(ctx, callerID, requestID, adm.profile, 0, 0, 0, domain.StatusFailed, start)
		return nil, nil, err
	}
	if adm.breaker != nil {
		adm.breaker.RecordSuccess(ctx)
	}

	inTokens := result.InputTokens
	if inTokens == 0 {
		inTokens = adm.estimatedIn
	}
	outTokens := result.OutputTokens
	if outTokens == 0 {
		outTokens = tokens.Estimate(result.Content)
	}

	outcome := r.settle(ctx, callerID, requestID, adm.profile, inTokens, outTokens, domain.StatusSuccess, start)
	return outcome, rawBody, nil
}

// Stream runs the streaming path. Frames are relayed to the sink verbatim
// and in arrival order while events accrue usage on the side. Caller
// disconnect and mid-stream provider failures both fall through to
// settlement with whatever output was accumulated.
//
// An error is returned only when nothing was relayed yet, so the transport
// can still send a clean status; once bytes have flowed the outcome reports
// the terminal state instead.
func (r *Runner) Stream(ctx context.Context, callerID, requestID string, req domain.ChatRequest, sink Sink) (*Outcome, error) {
	start := time.Now()

	adm, err := r.admit(ctx, callerID, req)
	if err != nil {
		return nil, err
	}

	frames, errs := adm.adapter.Stream(ctx, adm.profile, req)

	var output strings.Builder
	var usageIn, usageOut int
	var streamErr error
	relayed := false

relay:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// Drain a trailing transport error, if any. The adapter
				// closes the error channel before the frame channel.
				if errs != nil {
					if err, ok := <-errs; ok && err != nil {
						streamErr = err
					}
				}
				break relay
			}

			if len(frame.Raw) > 0 {
				if _, err := sink.Write(frame.Raw); err != nil {
					streamErr = fmt.Errorf("caller write: %w", err)
					break relay
				}
				sink.Flush()
				relayed = true
			}

			for _, e := range frame.Events {
				switch e.Type {
				case domain.EventContentDelta:
					output.WriteString(e.Text)
				case domain.EventUsageFinal:
					if e.InputTokens > 0 {
						usageIn = e.InputTokens
					}
					if e.OutputTokens > 0 {
						usageOut = e.OutputTokens
					}
				case domain.EventError:
					streamErr = fmt.Errorf("%w: %s", domain.ErrUpstream, e.Message)
				}
			}

		case err, ok := <-errs:
			if ok && err != nil {
				streamErr = err
				break relay
			}
			errs = nil

		case <-ctx.Done():
			// Caller disconnect: stop consuming upstream, bill what was
			// produced. The shared ctx aborts the provider read.
			streamErr = ctx.Err()
			break relay
		}
	}

	if streamErr != nil && !relayed {
		if adm.breaker != nil && errors.Is(streamErr, domain.ErrUpstream) {
			adm.breaker.RecordFailure(ctx)
		}
		r.record(ctx, callerID, requestID, adm.profile, 0, 0, 0, domain.StatusFailed, start)
		return nil, streamErr
	}

	status := domain.StatusSuccess
	if streamErr != nil {
		status = domain.StatusFailed
	}
	if adm.breaker != nil {
		if streamErr != nil && errors.Is(streamErr, domain.ErrUpstream) {
			adm.breaker.RecordFailure(ctx)
		} else if streamErr == nil {
			adm.breaker.RecordSuccess(ctx)
		}
	}

	// Authoritative usage wins; the estimator covers providers that never
	// report usage mid-stream.
	inTokens := usageIn
	if inTokens == 0 {
		inTokens = adm.estimatedIn
	}
	outTokens := usageOut
	if outTokens == 0 {
		outTokens = tokens.Estimate(output.String())
	}

	outcome := r.settle(ctx, callerID, requestID, adm.profile, inTokens, outTokens, status, start)
	if streamErr != nil {
		slog.Warn("stream terminated early",
			"request_id", requestID,
			"caller_id", callerID,
			"error", streamErr,
			"output_tokens", outTokens,
		)
	}
	return outcome, nil
}

// settle performs the Settling transition: one atomic ledger decrement,
// then the audit record. Billing must survive caller disconnects, so both
// run on a context detached from cancellation.
func (r *Runner) settle(ctx context.Context, callerID, requestID string, profile registry.ModelProfile, inTokens, outTokens int, status domain.CallStatus, start time.Time) *Outcome {
	settleCtx := context.WithoutCancel(ctx)

	cost := credit.Cost(inTokens, outTokens, profile.InputPer1K, profile.OutputPer1K)

	balance, err := r.ledger.Settle(settleCtx, callerID, cost)
	if err != nil {
		// Never silent: the record below still carries the cost, and the
		// failure is loud enough for reconciliation.
		slog.Error("ledger settlement failed",
			"request_id", requestID,
			"caller_id", callerID,
			"cost", cost,
			"error", err,
		)
		metrics.RecordSettlementFailure(callerID)
	} else if r.onSettle != nil {
		r.onSettle(settleCtx, callerID, balance)
	}

	r.record(settleCtx, callerID, requestID, profile, inTokens, outTokens, cost, status, start)

	metrics.RecordTokens(callerID, profile.Provider, profile.ModelID, inTokens, outTokens)
	metrics.RecordCost(callerID, profile.Provider, profile.ModelID, cost.Micros())

	finalState := StateCompleted
	if status == domain.StatusFailed {
		finalState = StateFailed
	}
	return &Outcome{
		State:        finalState,
		Provider:     profile.Provider,
		Model:        profile.ModelID,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         cost,
		Balance:      balance,
	}
}

func (r *Runner) record(ctx context.Context, callerID, requestID string, profile registry.ModelProfile, inTokens, outTokens int, cost credit.Amount, status domain.CallStatus, start time.Time) {
	rec := domain.UsageRecord{
		CallerID:     callerID,
		RequestID:    requestID,
		Provider:     profile.Provider,
		Model:        profile.ModelID,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostMicros:   cost.Micros(),
		Status:       status,
		LatencyMs:    time.Since(start).Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	if err := r.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("write usage record", "request_id", requestID, "error", err)
	}
}
