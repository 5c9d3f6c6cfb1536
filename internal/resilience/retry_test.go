package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), DefaultRetryConfig(), func(_ context.Context) (string, error) {
		calls++
		return "combos", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || val != "combos" {
		t.Errorf("expected one call returning combos, got %d calls, %q", calls, val)
	}
}

func TestDoVal_SuccessAfterRetry(t *testing.T) {
	var calls int
	_, err := DoVal(context.Background(), fastRetry(3), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("temporary"), 503)
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoCounted_NonTransientError_NoRetry(t *testing.T) {
	_, attempts, err := DoCounted(context.Background(), fastRetry(3), func(_ context.Context) (int, error) {
		return 0, errors.New("audience: create query: status 400")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoCounted_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, attempts, err := DoCounted(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second}, func(_ context.Context) (int, error) {
		cancel()
		return 0, NewTransientError(errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt after cancel, got %d", attempts)
	}
}

func TestDoCounted_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, attempts, err := DoCounted(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: time.Minute}, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("busy"), 429)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff did not stop on context deadline")
	}
}

func TestDoCounted_OnRetryCalled(t *testing.T) {
	var retries []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	_, attempts, _ := DoCounted(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("busy"), 429)
	})
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected retry callbacks: %v", retries)
	}
}

func TestDoCounted_ReportsAttempts(t *testing.T) {
	var calls int
	val, attempts, err := DoCounted(context.Background(), fastRetry(4), func(_ context.Context) (string, error) {
		calls++
		if calls == 2 {
			return "ok", nil
		}
		return "", NewTransientError(errors.New("flaky"), 502)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "ok" || attempts != 2 {
		t.Errorf("expected ok after 2 attempts, got %q after %d", val, attempts)
	}
}

func TestDoVal_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(error) bool { return true }

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("any")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestStepPolicy(t *testing.T) {
	cfg := StepPolicy(2, 10, 100)
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 10*time.Millisecond || cfg.MaxBackoff != 100*time.Millisecond {
		t.Errorf("unexpected backoff: %v %v", cfg.InitialBackoff, cfg.MaxBackoff)
	}
	if StepPolicy(-1, 0, 0).MaxAttempts != 1 {
		t.Error("negative retries should still allow one attempt")
	}
}

func TestBackoff_DoublesWithinBounds(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second}.withDefaults()

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 50 * time.Millisecond, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, 200 * time.Millisecond},
		{3, 200 * time.Millisecond, 400 * time.Millisecond},
		{10, time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			d := cfg.backoff(tt.attempt)
			if d < tt.min || d > tt.max {
				t.Fatalf("attempt %d: backoff %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
			}
		}
	}
}

func TestWithDefaults_MaxBelowInitial(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.withDefaults()
	if cfg.MaxBackoff != time.Second {
		t.Errorf("expected max raised to initial, got %v", cfg.MaxBackoff)
	}
	if cfg.MaxAttempts != 3 || cfg.ShouldRetry == nil {
		t.Error("expected defaults for attempts and retry predicate")
	}
}
