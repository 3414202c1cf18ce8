package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/kainulj/helsinki-citybike-analysis/services"
)

// cacheResponse runs off the request path. A failed write only costs a
// later cache miss, so it is logged and dropped.
func cacheResponse(cache *services.CacheService, log *slog.Logger, key string, resp any, ttl time.Duration) {
	if err := cache.Set(context.Background(), key, resp, ttl); err != nil {
		log.Warn("cache write failed", "key", key, "error", err)
	}
}
