// Package replay prevents a code accepted once from being redeemed again
// while it could still fall inside someone's drift window.
//
// The guard is best-effort by design: when the backing cache is
// unavailable the error is logged, a metric is bumped, and verification
// proceeds WITHOUT replay protection (availability over strictness).
// Testers relying on replay rejection must have the cache up.
package replay

import (
	"context"
	"time"

	"github.com/edline/otpgate/internal/cache"
	"github.com/edline/otpgate/internal/metrics"
	"github.com/edline/otpgate/internal/observability/logger"
)

const keyPrefix = "otp:used:"

// Guard tracks (principal, code) pairs already accepted.
type Guard struct {
	cache cache.Client
}

// New creates a Guard over the given cache client.
func New(c cache.Client) *Guard {
	return &Guard{cache: c}
}

// TryAcceptOnce atomically claims the (principalID, code) pair. Returns
// true on the first claim within ttl; false when the pair was already
// redeemed. Cache failures return true (fail-open).
func (g *Guard) TryAcceptOnce(ctx context.Context, principalID, code string, ttl time.Duration) bool {
	if g == nil || g.cache == nil {
		return true
	}
	key := keyPrefix + principalID + ":" + code
	ok, err := g.cache.SetNX(ctx, key, "1", ttl)
	if err != nil {
		logger.From(ctx).Warn("replay guard unavailable, proceeding without replay protection",
			logger.Component("replay"), logger.Err(err))
		metrics.ReplayStoreFailures.Inc()
		return true
	}
	if !ok {
		metrics.ReplayRejections.Inc()
	}
	return ok
}
