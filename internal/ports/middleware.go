package ports

import (
	"log/slog"
	"net/http"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/ratelimiting"
	"github.com/Amund211/flashfetch/internal/reporting"
)

func NewRateLimitMiddleware(rateLimiter ratelimiting.RequestRateLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Consume(r) {
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}

type handlerLimits struct {
	refillPerSecond ratelimiting.RefillPerSecond
	burstSize       ratelimiting.BurstSize
}

// Generous limits for cheap endpoints
var defaultLimits = handlerLimits{refillPerSecond: 8, burstSize: 480}

// Endpoints that reach the upstream
var upstreamLimits = handlerLimits{refillPerSecond: 2, burstSize: 120}

// buildHandlerMiddleware is the middleware stack shared by every endpoint
func buildHandlerMiddleware(
	name string,
	limits handlerLimits,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) func(http.HandlerFunc) http.HandlerFunc {
	ipLimiter := ratelimiting.NewTokenBucketRateLimiter(limits.refillPerSecond, limits.burstSize)
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	onLimitExceeded := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		statusCode := http.StatusTooManyRequests

		logging.FromContext(ctx).InfoContext(ctx, "Rate limit exceeded", "statusCode", statusCode, "reason", "ratelimit exceeded", "key", ipRateLimiter.KeyFor(r))

		writeErrorResponse(ctx, w, statusCode, "Rate limit exceeded")
	}

	return ComposeMiddlewares(
		buildMetricsMiddleware(name),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware(name),
		NewRateLimitMiddleware(ipRateLimiter, onLimitExceeded),
	)
}
