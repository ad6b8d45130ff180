package payment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const dedupTTL = 24 * time.Hour

// dedupCache short-circuits repeat webhook deliveries. It is advisory only;
// the unique constraint on the ledger's source reference is what actually
// guarantees exactly-once granting, so cache misses and Redis outages are
// harmless.
type dedupCache struct {
	rdb *redis.Client
}

func newDedupCache(rdb *redis.Client) *dedupCache {
	return &dedupCache{rdb: rdb}
}

func (c *dedupCache) key(sourceRef string) string {
	return "webhook:seen:" + sourceRef
}

func (c *dedupCache) Seen(ctx context.Context, sourceRef string) bool {
	if c.rdb == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, c.key(sourceRef)).Result()
	if err != nil {
		log.Debug().Err(err).Msg("webhook dedup cache read failed")
		return false
	}
	return n > 0
}

func (c *dedupCache) Mark(ctx context.Context, sourceRef string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(sourceRef), "1", dedupTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("webhook dedup cache write failed")
	}
}
