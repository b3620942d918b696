// Package cache stores Lightcast API responses in Redis.
//
// Everything served under /versions/{version}/ describes a published
// taxonomy snapshot and never changes, so those responses are kept for a
// fixed TTL (24h by default) regardless of what the Expires header says.
// Other responses, such as /meta, follow the Expires header and fall back to
// DefaultTTL.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, cache.Options{VersionedTTL: 24 * time.Hour})
//
//	key := cache.CacheKey{
//		Endpoint:    "/skills/versions/9.1/skills",
//		QueryParams: url.Values{"fields": []string{"id"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then manager.Set(ctx, key, entry)
//	}
//
// # Conditional Requests
//
// Entries remember ETag and Last-Modified. When an entry exists the client
// sends If-None-Match / If-Modified-Since and serves the cached body on 304.
//
// # Metrics
//
//   - lightcast_cache_hits_total
//   - lightcast_cache_misses_total
//   - lightcast_cache_size_bytes
//   - lightcast_304_responses_total
//   - lightcast_conditional_requests_total
//   - lightcast_cache_errors_total{operation}
package cache
