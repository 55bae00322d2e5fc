package ports

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Amund211/flashfetch/internal/logging"
)

const maxFormSize = 1 << 16

func MakeSubmitFormHandler(
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("form", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
		if err := r.ParseForm(); err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid form. Returning error", "statusCode", http.StatusBadRequest, "error", err)
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Invalid form")
			return
		}

		name := strings.TrimSpace(r.PostForm.Get("name"))
		if name == "" {
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Missing name")
			return
		}

		logging.FromContext(ctx).InfoContext(ctx, "Received form", slog.String("name", name))

		w.WriteHeader(http.StatusNoContent)
	})
}
