package storage

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// PingWithRetry calls ping with exponential backoff until it succeeds, the
// attempts run out or ctx is done. Stores use it at startup so the service
// can come up before its databases finish booting.
func PingWithRetry(ctx context.Context, attempts uint64, ping func(context.Context) error) error {
	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	backoff = retry.WithCappedDuration(5*time.Second, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
