package retry

import (
	"context"
	"errors"
	"time"
)

// ErrorKind classifies a failure for the purpose of retry decisions.
type ErrorKind int

const (
	// KindUnknown covers anything unclassified. Never retried.
	KindUnknown ErrorKind = iota
	KindTransientNetwork
	KindServerOverloaded
	KindConflict
	KindScopeViolation
	KindAuth
	KindMalformedResponse
	KindBadRequest
)

// String returns a string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindServerOverloaded:
		return "server_overloaded"
	case KindConflict:
		return "conflict"
	case KindScopeViolation:
		return "scope_violation"
	case KindAuth:
		return "auth"
	case KindMalformedResponse:
		return "malformed_response"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind are worth another attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindTransientNetwork || k == KindServerOverloaded
}

type kinded interface {
	Kind() ErrorKind
}

type delayHinter interface {
	RetryAfter() time.Duration
}

// KindOf classifies err by the first error in its chain that reports a Kind.
// Context cancellation is never retryable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// SuggestedDelay returns the server-advised delay carried by err, if any.
func SuggestedDelay(err error) (time.Duration, bool) {
	var h delayHinter
	if errors.As(err, &h) && h.RetryAfter() > 0 {
		return h.RetryAfter(), true
	}
	return 0, false
}

const (
	DefaultMaxAttempts = 5
	DefaultMaxDelay    = 30 * time.Second
)

// Policy decides whether and when a failed remote operation is attempted again.
// The zero value is usable and behaves like DefaultPolicy.
type Policy struct {
	// MaxAttempts is the hard ceiling on attempts, the first one included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleeper and OnRetry are passed through to Do.
	Sleeper func(time.Duration)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether another attempt is allowed after attempt
// attempts (1-based) have failed with an error of the given kind.
func (p Policy) ShouldRetry(attempt int, kind ErrorKind) bool {
	if attempt >= p.maxAttempts() {
		return false
	}
	return kind.Retryable()
}

// BackoffDuration returns the delay to wait after the given failed attempt (1-based).
func (p Policy) BackoffDuration(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt ceiling is reached. A server-suggested delay takes precedence
// over the policy backoff.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := 0
	return Do(ctx, Config{
		MaxRetries: p.maxAttempts(),
		BaseDelay:  p.BaseDelay,
		ShouldRetry: func(err error) bool {
			return p.ShouldRetry(attempts, KindOf(err))
		},
		DelayFunc: func(attempt int, err error) time.Duration {
			if d, ok := SuggestedDelay(err); ok {
				return d
			}
			return p.BackoffDuration(attempt + 1)
		},
		OnRetry: p.OnRetry,
		Sleeper: p.Sleeper,
	}, func(attempt int) error {
		attempts = attempt + 1
		return op(attempt)
	})
}
