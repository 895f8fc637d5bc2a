package domain

import "errors"

var (
	ErrCallerNotFound      = errors.New("caller not found")
	ErrInvalidAPIKey       = errors.New("invalid API key")
	ErrMissingModel        = errors.New("missing required field: model")
	ErrMissingMessages     = errors.New("missing required field: messages")
	ErrModelNotFound       = errors.New("model not found")
	ErrModelNotAllowed     = errors.New("model not allowed for this caller")
	ErrModelUnavailable    = errors.New("model provider not configured")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrUpstream            = errors.New("upstream provider error")
	ErrCircuitOpen         = errors.New("provider circuit breaker open")
)
