package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_requests_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"caller_id", "provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"caller_id", "provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_tokens_total",
			Help: "Total number of tokens billed",
		},
		[]string{"caller_id", "provider", "model", "type"},
	)

	CreditsSpentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_credits_spent_total",
			Help: "Total credits charged against caller balances",
		},
		[]string{"caller_id", "provider", "model"},
	)

	SettlementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_settlement_failures_total",
			Help: "Ledger settlements that failed and need reconciliation",
		},
		[]string{"caller_id"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"caller_id"},
	)

	AdmissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_admission_denials_total",
			Help: "Requests rejected before any provider call",
		},
		[]string{"caller_id", "reason"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmgateway_active_streams",
			Help: "Number of active streaming relays",
		},
	)

	LowBalanceAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgateway_low_balance_alerts_total",
			Help: "Low balance alerts emitted",
		},
		[]string{"caller_id"},
	)
)

func RecordRequest(callerID, provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(callerID, provider, model, status).Inc()
	RequestDuration.WithLabelValues(callerID, provider, model).Observe(durationSec)
}

func RecordTokens(callerID, provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(callerID, provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(callerID, provider, model, "output").Add(float64(outputTokens))
}

// RecordCost takes the charge in micro-credits and exports whole credits,
// which keeps dashboards in the same unit the ledger API speaks.
func RecordCost(callerID, provider, model string, costMicros int64) {
	CreditsSpentTotal.WithLabelValues(callerID, provider, model).Add(float64(costMicros) / 1e6)
}

func RecordSettlementFailure(callerID string) {
	SettlementFailures.WithLabelValues(callerID).Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitHit(callerID string) {
	RateLimitHits.WithLabelValues(callerID).Inc()
}

func RecordAdmissionDenial(callerID, reason string) {
	AdmissionDenials.WithLabelValues(callerID, reason).Inc()
}

func RecordLowBalanceAlert(callerID string) {
	LowBalanceAlerts.WithLabelValues(callerID).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
