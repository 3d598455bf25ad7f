package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const busyMaxTries = 3

// isConflictError reports SQLITE_BUSY and "database is locked" errors, both of
// which clear once the competing writer finishes.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryBusy runs op up to three times, backing off 100ms, 200ms on lock
// conflicts. Any other error is returned at once.
func retryBusy(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op()
		if err != nil && !isConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(busyMaxTries),
		backoff.WithNotify(func(_ error, delay time.Duration) {
			slog.Debug("SQLite write busy, retrying", "op", name, "attempt", attempt, "delay", delay)
		}),
	)
	return err
}
