package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/flashfetch/internal/adapters/cache"
	"github.com/Amund211/flashfetch/internal/domain"
)

// Number of posts shown in the news listing
const NewsLimit = 5

type GetNews func(ctx context.Context) (domain.Timestamped[[]domain.Post], error)

func buildGetNewsWithoutCache(fetcher jsonFetcher, nowFunc func() time.Time) GetNews {
	return func(ctx context.Context) (domain.Timestamped[[]domain.Post], error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var posts []domain.Post
		err := fetcher.Fetch(ctx, newsPath(), &posts)
		if err != nil {
			// NOTE: fetcher handles its own error reporting
			return domain.Timestamped[[]domain.Post]{}, fmt.Errorf("could not get news: %w", err)
		}

		return domain.Timestamped[[]domain.Post]{Value: posts, RetrievedAt: nowFunc()}, nil
	}
}

// BuildGetNewsWithCache serves the news listing from newsCache, so the
// upstream is asked at most once per cache ttl
func BuildGetNewsWithCache(newsCache cache.Cache[domain.Timestamped[[]domain.Post]], fetcher jsonFetcher, nowFunc func() time.Time) GetNews {
	getNewsWithoutCache := buildGetNewsWithoutCache(fetcher, nowFunc)

	return func(ctx context.Context) (domain.Timestamped[[]domain.Post], error) {
		news, _, err := cache.GetOrCreate(ctx, newsCache, newsPath(), func(ctx context.Context) (domain.Timestamped[[]domain.Post], error) {
			return getNewsWithoutCache(ctx)
		})
		if err != nil {
			return domain.Timestamped[[]domain.Post]{}, fmt.Errorf("failed to cache.GetOrCreate news: %w", err)
		}

		return news, nil
	}
}

func newsPath() string {
	return fmt.Sprintf("/posts?_limit=%d", NewsLimit)
}
