package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 60 * time.Second
)

// Policy bounds the retries of a single remote operation.
type Policy struct {
	// MaxRetries is the number of re-attempts after the first call.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter adds up to BaseDelay of random delay to throttled retries.
	Jitter bool
	// AttemptTimeout bounds each call. Zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		Jitter:         true,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Result is the outcome of an operation run through the executor.
type Result[T any] struct {
	Value    T
	Err      error
	Kind     FailureKind
	Attempts int
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Executor struct {
	policy Policy
	sleep  SleepFunc
	jitter func() float64
	logger *slog.Logger
}

type Option func(*Executor)

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithJitterSource replaces the [0,1) source used for jitter.
func WithJitterSource(fn func() float64) Option {
	return func(e *Executor) {
		e.jitter = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}

	e := &Executor{
		policy: policy,
		sleep:  sleepContext,
		jitter: rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Backoff returns the wait before retry number n (n >= 1).
func (e *Executor) Backoff(n int, kind FailureKind, hint time.Duration) time.Duration {
	delay := e.policy.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= e.policy.MaxDelay {
			delay = e.policy.MaxDelay
			break
		}
	}
	if kind == KindThrottle && e.policy.Jitter {
		delay += time.Duration(e.jitter() * float64(e.policy.BaseDelay))
	}
	if hint > delay {
		delay = hint
	}
	return min(delay, e.policy.MaxDelay)
}

// Run is Do for operations without a value.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context) error) Result[struct{}] {
	return Do(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Do calls fn until it succeeds, fails with a non-retryable kind, or the retry
// budget is spent. The returned result carries the last error and its kind.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) Result[T] {
	var (
		res  Result[T]
		prev time.Duration
	)

	for {
		res.Attempts++
		val, err := attempt(ctx, e.policy.AttemptTimeout, fn)
		if err == nil {
			res.Value = val
			res.Err = nil
			res.Kind = KindNone
			return res
		}

		res.Err = err
		res.Kind = Classify(err)
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			res.Kind = KindCanceled
			return res
		}

		if !res.Kind.Retryable() || res.Attempts > e.policy.MaxRetries {
			if res.Kind.Retryable() {
				e.logger.Warn("retry exhausted", "op", op, "attempts", res.Attempts, "kind", res.Kind, "error", err)
			}
			return res
		}

		delay := max(e.Backoff(res.Attempts, res.Kind, retryAfter(err)), prev)
		prev = delay
		e.logger.Warn("retry", "op", op, "attempt", res.Attempts, "kind", res.Kind, "wait", delay, "error", err)

		if err := e.sleep(ctx, delay); err != nil {
			res.Err = err
			res.Kind = KindCanceled
			return res
		}
	}
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
