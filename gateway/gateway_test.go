package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func echo(_ context.Context, req Request) ([]string, error) {
	return append([]string(nil), req.Texts...), nil
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{429, ErrTransient},
		{500, ErrTransient},
		{503, ErrTransient},
		{408, ErrTransient},
		{402, ErrQuotaExceeded},
		{400, ErrInvalidRequest},
		{403, ErrInvalidRequest},
		{413, ErrInvalidRequest},
	}
	for _, tt := range tests {
		err := FromStatus(tt.status, "x")
		if !errors.Is(err, tt.want) {
			t.Errorf("FromStatus(%d) = %v, want kind %v", tt.status, err, tt.want)
		}
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(Transient(0, "", cause))
	if !errors.Is(err, ErrTransient) || !errors.Is(err, cause) {
		t.Errorf("error %v does not unwrap to kind and cause", err)
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.StatusCode != 0 {
		t.Errorf("errors.As failed: %v", err)
	}
}

func TestRetrying_PassesThrough(t *testing.T) {
	r := NewRetrying(TranslatorFunc(echo), fastPolicy(), WithLogger(zaptest.NewLogger(t)))
	out, err := r.Translate(context.Background(), Request{TargetLang: "DE", Texts: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != "a" || out[1] != "b" {
		t.Errorf("out = %v", out)
	}
}

func TestRetrying_RetriesTransient(t *testing.T) {
	var calls int32
	next := TranslatorFunc(func(ctx context.Context, req Request) ([]string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, Transient(503, "unavailable", nil)
		}
		return echo(ctx, req)
	})
	r := NewRetrying(next, fastPolicy(), WithLogger(zaptest.NewLogger(t)))
	if _, err := r.Translate(context.Background(), Request{Texts: []string{"a"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrying_GivesUp(t *testing.T) {
	var calls int32
	next := TranslatorFunc(func(context.Context, Request) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Transient(500, "boom", nil)
	})
	r := NewRetrying(next, fastPolicy())
	_, err := r.Translate(context.Background(), Request{Texts: []string{"a"}})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrying_FatalNotRetried(t *testing.T) {
	for _, kind := range []*Error{Quota(456, "quota"), Invalid(403, "bad key")} {
		var calls int32
		next := TranslatorFunc(func(context.Context, Request) ([]string, error) {
			atomic.AddInt32(&calls, 1)
			return nil, kind
		})
		r := NewRetrying(next, fastPolicy())
		_, err := r.Translate(context.Background(), Request{Texts: []string{"a"}})
		if !errors.Is(err, kind.Kind) {
			t.Errorf("err = %v, want %v", err, kind.Kind)
		}
		if calls != 1 {
			t.Errorf("%v: calls = %d, want 1", kind.Kind, calls)
		}
	}
}

func TestRetrying_LengthMismatch(t *testing.T) {
	next := TranslatorFunc(func(context.Context, Request) ([]string, error) {
		return []string{"only one"}, nil
	})
	r := NewRetrying(next, fastPolicy())
	_, err := r.Translate(context.Background(), Request{Texts: []string{"a", "b"}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want invalid request", err)
	}
}

func TestRetrying_HonoursRetryAfter(t *testing.T) {
	var calls int32
	next := TranslatorFunc(func(ctx context.Context, req Request) ([]string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			e := Transient(429, "slow down", nil)
			e.RetryAfter = 30 * time.Millisecond
			return nil, e
		}
		return echo(ctx, req)
	})
	r := NewRetrying(next, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second})
	start := time.Now()
	if _, err := r.Translate(context.Background(), Request{Texts: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("retried after %v, want at least 30ms", elapsed)
	}
}

func TestRetrying_CircuitOpens(t *testing.T) {
	var calls int32
	next := TranslatorFunc(func(context.Context, Request) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Transient(502, "bad gateway", nil)
	})
	p := fastPolicy()
	p.MaxAttempts = 5
	p.BreakerFailures = 2
	p.BreakerCooldown = time.Minute
	r := NewRetrying(next, p, WithLogger(zaptest.NewLogger(t)))

	_, err := r.Translate(context.Background(), Request{Texts: []string{"a"}})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 before the circuit opened", calls)
	}

	// Later batches fail fast while the circuit is open.
	_, err = r.Translate(context.Background(), Request{Texts: []string{"b"}})
	if !errors.Is(err, ErrTransient) || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetrying_ContextCancelled(t *testing.T) {
	next := TranslatorFunc(func(context.Context, Request) ([]string, error) {
		return nil, Transient(503, "", nil)
	})
	r := NewRetrying(next, RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Translate(ctx, Request{Texts: []string{"a"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
