package db

import (
	"context"
	"errors"
	"time"

	"lv-margin/internal/types"
)

const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// Retry re-runs fn on ErrUpstreamUnavailable with doubling backoff.
// Callers must only pass operations that are safe to repeat while the
// target entity remains in its pre-transition state.
func Retry(ctx context.Context, fn func() error) error {
	wait := retryBaseWait
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, types.ErrUpstreamUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
