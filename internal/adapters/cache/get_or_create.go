package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Amund211/flashfetch/internal/logging"
)

// GetOrCreate returns the cached data for key, creating it if missing.
//
// Concurrent callers for a missing key share one call to create. If create
// fails the claim is released so a later caller can try again.
//
// Returns data, created, error
func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, create func(ctx context.Context) (T, error)) (T, bool, error) {
	logger := logging.FromContext(ctx).With(slog.String("cacheKey", key))

	claimed := false
	set := false
	defer func() {
		if claimed && !set {
			cache.delete(key)
		}
	}()

	for {
		result := cache.getOrClaim(key)

		if result.claimed {
			claimed = true

			logger.InfoContext(ctx, "Creating cache entry", "cache", "miss")

			data, err := create(ctx)
			if err != nil {
				var empty T
				return empty, false, fmt.Errorf("failed to create cache entry: %w", err)
			}

			cache.set(key, data)
			set = true

			return data, true, nil
		}

		if result.valid {
			logger.InfoContext(ctx, "Serving cache entry", "cache", "hit")
			return result.data, false, nil
		}

		logger.DebugContext(ctx, "Waiting for cache")
		if err := cache.wait(ctx); err != nil {
			var empty T
			return empty, false, fmt.Errorf("stopped waiting for cache: %w", err)
		}
	}
}
