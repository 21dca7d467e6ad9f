package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted marks a transient failure that persisted through every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// rateLimited is satisfied by errors carrying a server-signalled wait.
type rateLimited interface {
	RetryAfter() time.Duration
}

// temporary is satisfied by errors that are worth retrying with backoff.
type temporary interface {
	Temporary() bool
}

// RetryConfig holds the parameters for the retry strategy.
//
// Rate-limit errors are waited out for exactly the signalled duration plus
// RateLimitPadding and never count against MaxAttempts. Temporary errors back
// off exponentially from BaseDelay. Any other error is returned immediately.
type RetryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	RateLimitPadding time.Duration
	Logger           *Logger

	// Sleep waits for d or until ctx is done. Nil means a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := r.BaseDelay
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var rl rateLimited
		if errors.As(err, &rl) {
			wait := rl.RetryAfter() + r.RateLimitPadding
			r.warn("[retry] %s rate limited — sleeping %v", operationName, wait)
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		var tmp temporary
		if !errors.As(err, &tmp) || !tmp.Temporary() {
			return err
		}

		attempt++
		if attempt >= maxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %w", operationName, ErrRetriesExhausted, attempt, err)
		}

		r.warn("[retry] %s failed (attempt %d/%d): %v — retrying in %v",
			operationName, attempt, maxAttempts, err, delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}
}

func (r *RetryConfig) warn(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Warn(format, args...)
	}
}

func (r *RetryConfig) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
