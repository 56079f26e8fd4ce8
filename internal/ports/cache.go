package ports

import (
	"context"
	"time"
)

// RateLimiter is a fixed-window counter keyed by action and caller address.
// Allow reports whether the request fits within limit events per period; the
// backend owns window bookkeeping and expiry.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, period time.Duration) (bool, error)
}
