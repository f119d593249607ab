// Package transient holds short-lived keyed values (password reset tokens,
// pending second-factor challenges) that expire on their own.
package transient

import (
	"context"
	"time"
)

// Store is a keyed store with per-entry expiry. Expired entries are never
// returned. Get and Take return common.ErrorNotFound for absent or expired
// keys; Delete of a missing key is not an error.
//
// Take is an atomic get-and-delete: of several concurrent callers at most
// one receives the value.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Take(ctx context.Context, key string) ([]byte, error)
}

// Sweeper is implemented by stores that need periodic purging of
// expired entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RunSweeper calls sw.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, interval time.Duration, sw Sweeper, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
