package dashcore

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/nilstream/dashcore/pkg/httpclient"
)

// Default retry tuning for a Stream's segment fetches (spec.md §4.5
// "Failure"): 3 attempts, base 500ms, factor 2, full jitter.
const (
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = 500 * time.Millisecond
	DefaultRetryBackoffFactor = 2.0
)

// RetryPolicy drives a Stream's segment-fetch retry loop, pairing
// exponential backoff with full jitter against a per-StreamInfo circuit
// breaker (reusing the resilient-HTTP client's CircuitBreaker rather than
// re-implementing failure-threshold bookkeeping here).
type RetryPolicy struct {
	Attempts      int
	BaseDelay     time.Duration
	BackoffFactor float64
	Clock         Clock
	Breaker       *httpclient.CircuitBreaker
}

// NewRetryPolicy builds a policy with the given tuning, defaulting zero
// values to the spec's constants. breaker may be nil to disable circuit
// breaking (attempts are always retried up to Attempts regardless).
func NewRetryPolicy(attempts int, baseDelay time.Duration, backoffFactor float64, clock Clock, breaker *httpclient.CircuitBreaker) *RetryPolicy {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	if backoffFactor <= 0 {
		backoffFactor = DefaultRetryBackoffFactor
	}
	return &RetryPolicy{Attempts: attempts, BaseDelay: baseDelay, BackoffFactor: backoffFactor, Clock: clock, Breaker: breaker}
}

// Do invokes fn, retrying transient failures with exponential backoff and
// full jitter up to Attempts total tries. Returns the last error if every
// attempt fails, or immediately propagates a context cancellation without
// retrying (spec.md §5 "Cancellation": Aborted is swallowed by the caller,
// not retried here).
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			jittered := time.Duration(rand.Int63n(int64(delay) + 1))
			if err := p.sleep(ctx, jittered); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * p.BackoffFactor)
		}

		if p.Breaker != nil && !p.Breaker.Allow() {
			lastErr = httpclient.ErrCircuitOpen
			continue
		}

		err := fn(ctx)
		if err == nil {
			if p.Breaker != nil {
				p.Breaker.RecordSuccess()
			}
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted) {
			return err
		}

		if p.Breaker != nil {
			p.Breaker.RecordFailure()
		}
		lastErr = err
	}
	return lastErr
}

// sleep waits for d through p.Clock.AfterFunc, the same one-shot-timer
// primitive the live update loop uses (coordinator.go), so tests drive
// backoff deterministically via a fake clock's Advance instead of real
// wall-clock time. Falls back to a real timer if no Clock was supplied.
func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Clock == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}

	done := make(chan struct{})
	timer := p.Clock.AfterFunc(d.Seconds(), func() { close(done) })
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}
