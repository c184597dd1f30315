package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per batch, including the
	// first one.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt; it doubles on
	// every further attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff and any server supplied delay.
	MaxDelay time.Duration
	// BreakerFailures is the number of consecutive transient failures,
	// across all workers, that opens the circuit. 0 disables the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// DefaultRetryPolicy returns the policy used by the CLI.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		BaseDelay:       time.Second,
		MaxDelay:        65 * time.Second,
		BreakerFailures: 8,
		BreakerCooldown: 30 * time.Second,
	}
}

func (p RetryPolicy) effectiveMaxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

// pause extends the shared pause; it never shortens one already in effect.
func (r *rateLimitState) pause(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if end := time.Now().Add(d); end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		if remaining <= 0 {
			atomic.StoreInt32(&r.paused, 0)
		}
		r.mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		if err := sleep(ctx, min(remaining, 100*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Retrying translator
// ---------------------------------------------------------------------------

// Retrying wraps a Translator with retries, a pause shared by all callers
// on rate limiting and a circuit breaker. It is safe for concurrent use;
// the pipeline shares one instance across its workers.
type Retrying struct {
	next   Translator
	policy RetryPolicy
	rl     rateLimitState
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

// Option configures a Retrying translator.
type Option func(*Retrying)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retrying) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRetrying wraps t according to p.
func NewRetrying(t Translator, p RetryPolicy, opts ...Option) *Retrying {
	r := &Retrying{next: t, policy: p, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	if p.BreakerFailures > 0 {
		r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "translation-service",
			MaxRequests: 1,
			Timeout:     p.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= p.BreakerFailures
			},
			// Only service trouble counts against the circuit; a rejected
			// request says nothing about the service's health.
			IsSuccessful: func(err error) bool {
				return err == nil || !IsRetryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.log.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		})
	}
	return r
}

// Translate forwards req, retrying transient failures. The returned error
// is final: a transient error here means the attempts are exhausted or the
// circuit is open.
func (r *Retrying) Translate(ctx context.Context, req Request) ([]string, error) {
	maxAttempts := r.policy.effectiveMaxAttempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := r.rl.waitIfPaused(ctx); err != nil {
			return nil, err
		}

		out, err := r.call(ctx, req)
		if err == nil {
			if err := CheckResponse(req, out); err != nil {
				return nil, err
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, Transient(0, "circuit breaker open", err)
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		wait := r.policy.backoff(attempt)
		var ge *Error
		if errors.As(err, &ge) && ge.RetryAfter > 0 {
			wait = ge.RetryAfter
			if r.policy.MaxDelay > 0 && wait > r.policy.MaxDelay {
				wait = r.policy.MaxDelay
			}
			// Every worker hits the same limit, so all of them wait.
			r.rl.pause(wait)
		}
		r.log.Warn("retrying batch",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("texts", len(req.Texts)),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (r *Retrying) call(ctx context.Context, req Request) ([]string, error) {
	if r.cb == nil {
		return r.next.Translate(ctx, req)
	}
	res, err := r.cb.Execute(func() (interface{}, error) {
		return r.next.Translate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}
