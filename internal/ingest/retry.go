package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 500 * time.Millisecond
)

// isPermanent reports whether retrying cannot help. Dimension and naming
// errors stay wrong no matter how often the write is repeated.
func isPermanent(err error) bool {
	return errors.Is(err, vectorindex.ErrDimensionMismatch) ||
		errors.Is(err, vectorindex.ErrInvalidCollection)
}

// withRetry runs fn up to attempts times with doubling backoff, giving up
// early on permanent errors or context cancellation.
func withRetry(ctx context.Context, logger log.Logger, op string, attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if isPermanent(err) || attempt == attempts {
			return err
		}

		logger.Warn("operation failed, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
