package app

import (
	"context"
	"fmt"

	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/swr"
)

const UsersKey = "/users"

type GetUsers func(ctx context.Context) ([]domain.User, error)

// BuildGetUsers serves users stale-while-revalidate: a cached list is
// returned at once and refreshed in the background
func BuildGetUsers(usersCache *swr.Cache[[]domain.User], config swr.Config) GetUsers {
	return func(ctx context.Context) ([]domain.User, error) {
		users, err := usersCache.Get(ctx, UsersKey, swr.WithConfig(config))
		if err != nil {
			return nil, fmt.Errorf("could not get users: %w", err)
		}
		return users, nil
	}
}

type RevalidateUsers func(ctx context.Context) ([]domain.User, error)

// BuildRevalidateUsers refetches users regardless of the deduping interval
func BuildRevalidateUsers(usersCache *swr.Cache[[]domain.User]) RevalidateUsers {
	return func(ctx context.Context) ([]domain.User, error) {
		users, err := usersCache.Mutate(ctx, UsersKey)
		if err != nil {
			return nil, fmt.Errorf("could not revalidate users: %w", err)
		}
		return users, nil
	}
}
