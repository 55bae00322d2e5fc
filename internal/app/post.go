package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/flashfetch/internal/adapters/cache"
	"github.com/Amund211/flashfetch/internal/domain"
)

type GetPost func(ctx context.Context, id int) (domain.Timestamped[domain.Post], error)

// BuildGetPost always asks the upstream
func BuildGetPost(fetcher jsonFetcher, nowFunc func() time.Time) GetPost {
	return func(ctx context.Context, id int) (domain.Timestamped[domain.Post], error) {
		if id <= 0 {
			return domain.Timestamped[domain.Post]{}, fmt.Errorf("%w: post id must be positive, got %d", domain.ErrInvalidInput, id)
		}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var post domain.Post
		err := fetcher.Fetch(ctx, postPath(id), &post)
		if err != nil {
			// NOTE: fetcher handles its own error reporting
			return domain.Timestamped[domain.Post]{}, fmt.Errorf("could not get post %d: %w", id, err)
		}

		return domain.Timestamped[domain.Post]{Value: post, RetrievedAt: nowFunc()}, nil
	}
}

// BuildGetPostWithCache serves posts from postCache, so each post is asked
// for at most once per cache ttl
func BuildGetPostWithCache(postCache cache.Cache[domain.Timestamped[domain.Post]], fetcher jsonFetcher, nowFunc func() time.Time) GetPost {
	getPost := BuildGetPost(fetcher, nowFunc)

	return func(ctx context.Context, id int) (domain.Timestamped[domain.Post], error) {
		if id <= 0 {
			return domain.Timestamped[domain.Post]{}, fmt.Errorf("%w: post id must be positive, got %d", domain.ErrInvalidInput, id)
		}

		post, _, err := cache.GetOrCreate(ctx, postCache, postPath(id), func(ctx context.Context) (domain.Timestamped[domain.Post], error) {
			return getPost(ctx, id)
		})
		if err != nil {
			return domain.Timestamped[domain.Post]{}, fmt.Errorf("failed to cache.GetOrCreate post: %w", err)
		}

		return post, nil
	}
}

func postPath(id int) string {
	return fmt.Sprintf("/posts/%d", id)
}
