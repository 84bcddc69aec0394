package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

const (
	defaultBackoffBase = time.Second
	maxBackoffExponent = 10
	jitterFraction     = 0.3
)

// FailureClass groups fetch errors by how the orchestrator reacts to them.
type FailureClass int

// Failure classes.
const (
	FailureNone FailureClass = iota
	FailureNotFound
	FailureTransient
	FailurePermanent
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureNotFound:
		return "not-found"
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps a fetch error onto a FailureClass.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case IsPermanent(err), errors.Is(err, ErrInvalidURL):
		return FailurePermanent
	default:
		return FailureTransient
	}
}

// ExponentialRetryPolicy computes jittered exponential backoff between attempts.
type ExponentialRetryPolicy struct {
	baseDelay time.Duration
}

// NewExponentialRetryPolicy builds a policy; a non-positive base falls back to one second.
func NewExponentialRetryPolicy(base time.Duration) *ExponentialRetryPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	return &ExponentialRetryPolicy{baseDelay: base}
}

// ShouldRetry decides whether the error is retryable at all.
func (p *ExponentialRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) == FailureTransient
}

// Backoff returns base * 2^min(attempt,10) plus up to 30% random jitter.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffExponent {
		attempt = maxBackoffExponent
	}
	delay := p.baseDelay << uint(attempt)
	return delay + p.randomJitter(time.Duration(float64(delay)*jitterFraction))
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
