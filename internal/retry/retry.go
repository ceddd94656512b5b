// Package retry wraps fallible operations with bounded exponential
// backoff. Transient failures (network blips, 5xx, rate-limit replies)
// are retried; permanent failures surface immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pipeerr "mdetl/internal/errors"
)

// Default policy values. A full run of five attempts with a 4s base
// waits 4+8+16+32 = 60s before the final failure.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 4 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// ExhaustedError signals that every attempt failed. It carries the last
// underlying error for classification by the caller.
type ExhaustedError struct {
	Operation string
	Attempts  int
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Operation, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Policy configures bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a policy with the given caps, filling zero values
// with defaults.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
}

// Default returns the policy used when a source has no override.
func Default() *Policy {
	return NewPolicy(DefaultMaxAttempts, DefaultBaseDelay, DefaultMaxDelay)
}

// WithLogger sets the logger used for per-attempt reporting.
func (p *Policy) WithLogger(logger *slog.Logger) *Policy {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Do invokes op until it succeeds, fails permanently, or MaxAttempts is
// reached. A permanent error is returned as-is on the attempt it occurs;
// exhaustion returns *ExhaustedError wrapping the last transient error.
func (p *Policy) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !pipeerr.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		p.logger.Warn("operation failed, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Operation: operation, Attempts: p.MaxAttempts, LastErr: lastErr}
}

// Backoff returns the wait after the given 1-based attempt:
// base * 2^(attempt-1), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
