package cache

import (
	"context"
	"time"

	"github.com/davidbz/lessonlab/internal/observability"
)

// Janitor sweeps expired entries every interval until ctx is done.
// A non-positive interval disables it.
func (c *Cache) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.SweepExpired(ctx); removed > 0 {
				observability.FromContext(ctx).Debug("swept expired cache entries",
					observability.Int("removed", removed))
			}
		}
	}
}
