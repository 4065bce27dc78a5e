package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vonshlovens/wikiarchive/internal/mediawiki"
)

// Retrier runs operations with bounded exponential backoff. Only transient
// faults are retried; anything else is returned on the first attempt.
type Retrier struct {
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

// NewRetrier creates a retrier allowing attempts retries after the first try,
// waiting base, 2*base, 4*base... between them
func NewRetrier(attempts int, base time.Duration, logger *slog.Logger) *Retrier {
	if base <= 0 {
		base = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{attempts: attempts, base: base, logger: logger}
}

// Do calls fn until it succeeds, fails permanently or runs out of retries.
// A server Retry-After hint is waited out before the regular backoff.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(r.attempts), retry.NewExponential(r.base))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt > r.attempts {
			return err
		}

		r.logger.Warn("transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"max_retries", r.attempts,
			"error", err)

		if wait := mediawiki.RetryAfter(err); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		return retry.RetryableError(err)
	})
}
