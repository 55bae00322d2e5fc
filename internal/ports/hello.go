package ports

import (
	"log/slog"
	"net/http"
)

type helloResponse struct {
	Message string `json:"message"`
}

func MakeHelloHandler(
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("hello", defaultLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(r.Context(), w, http.StatusOK, helloResponse{Message: "Hello from API"})
	})
}
