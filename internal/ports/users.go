package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/flashfetch/internal/app"
	"github.com/Amund211/flashfetch/internal/domain"
)

type usersResponse struct {
	Success bool          `json:"success"`
	Users   []domain.User `json:"users"`
}

func MakeGetUsersHandler(
	getUsers app.GetUsers,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("users", upstreamLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		users, err := getUsers(ctx)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, usersResponse{Success: true, Users: users})
	})
}

// MakeRevalidateUsersHandler refetches the users and returns the fresh list
func MakeRevalidateUsersHandler(
	revalidateUsers app.RevalidateUsers,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("users_revalidate", upstreamLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		users, err := revalidateUsers(ctx)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, usersResponse{Success: true, Users: users})
	})
}
