package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
)

type userIDResponse struct {
	ID string `json:"id"`
}

// MakeGetUserIDHandler echoes the id path parameter back
func MakeGetUserIDHandler(
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("user", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("id", id))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"id": id})

		if id == "" {
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Missing id")
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, userIDResponse{ID: id})
	})
}
