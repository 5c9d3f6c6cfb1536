package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls how a step or provider call is re-attempted.
// Backoff doubles per attempt up to MaxBackoff, and each wait is drawn from
// the upper half of the current delay.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Default: 30s.
	MaxBackoff time.Duration

	// ShouldRetry overrides IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// DoVal runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts or ctx ends.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	val, _, err := DoCounted(ctx, cfg, fn)
	return val, err
}

// DoCounted is DoVal that also reports how many attempts ran. The count is
// recorded on run steps.
func DoCounted[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, int, error) {
	cfg = cfg.withDefaults()

	var (
		zero T
		err  error
	)
	for attempt := 1; ; attempt++ {
		var val T
		val, err = fn(ctx)
		switch {
		case err == nil:
			return val, attempt, nil
		case ctx.Err() != nil, !cfg.ShouldRetry(err), attempt >= cfg.MaxAttempts:
			return zero, attempt, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.backoff(attempt)) {
			return zero, attempt, err
		}
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	return cfg
}

// backoff returns the wait after the given failed attempt (1-based).
func (cfg RetryConfig) backoff(attempt int) time.Duration {
	delay := cfg.InitialBackoff
	for i := 1; i < attempt && delay < cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half+1)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry of a named
// step within a component.
func RetryLogger(component, step string) func(int, error) {
	log := zap.L().With(zap.String("component", component), zap.String("step", step))
	return func(attempt int, err error) {
		log.Warn("resilience: retrying after transient error",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
