// Package retry wraps single outbound calls (token refreshes, platform
// publishes) with bounded retries and exponential backoff, retrying only
// errors classified as transient.
package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
)

// Config bounds one retried operation.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the policy used for platform calls: at most three
// attempts with 500ms base backoff capped at 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// Do runs fn with the retry policy and returns the number of attempts made
// alongside the final outcome, so callers can report "failed after N attempts"
// instead of a bare error. Non-transient errors fail fast on attempt one.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) (int, error) {
	cfg = normalize(cfg)

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxAttempts - 1).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return models.IsRetryable(err)
		}).
		Build()

	attempts := 0
	err := failsafe.With(policy).WithContext(ctx).Run(func() error {
		attempts++
		return fn(ctx)
	})
	return attempts, err
}
