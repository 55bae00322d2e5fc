package ports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/flashfetch/internal/app"
	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
)

const excerptLength = 80

type newsItem struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

type newsResponse struct {
	Success     bool       `json:"success"`
	GeneratedAt time.Time  `json:"generatedAt"`
	News        []newsItem `json:"news"`
}

type postResponse struct {
	Success     bool        `json:"success"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Post        domain.Post `json:"post"`
}

// The time-revalidated endpoints tell shared caches how long the response
// stays fresh
func cacheControlMaxAge(ttl time.Duration) string {
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", int(ttl.Seconds()), int(ttl.Seconds()))
}

func MakeGetNewsHandler(
	getNews app.GetNews,
	ttl time.Duration,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("news", upstreamLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		posts, err := getNews(ctx)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		news := make([]newsItem, 0, len(posts.Value))
		for _, post := range posts.Value {
			news = append(news, newsItem{
				ID:      post.ID,
				Title:   post.Title,
				Excerpt: post.Excerpt(excerptLength),
			})
		}

		w.Header().Set("Cache-Control", cacheControlMaxAge(ttl))
		writeJSONResponse(ctx, w, http.StatusOK, newsResponse{
			Success:     true,
			GeneratedAt: posts.RetrievedAt.UTC(),
			News:        news,
		})
	})
}

// MakeGetPostHandler serves a single post fresh on every request
func MakeGetPostHandler(
	getPost app.GetPost,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("news_post", upstreamLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rawID := r.PathValue("id")
		ctx = logging.AddMetaToContext(ctx, slog.String("rawID", rawID))
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"rawID": rawID})

		id, err := strconv.Atoi(rawID)
		if err != nil || id <= 0 {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid id. Returning error", "statusCode", http.StatusBadRequest, "reason", "invalid id")
			writeErrorResponse(ctx, w, http.StatusBadRequest, "Invalid id")
			return
		}

		post, err := getPost(ctx, id)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSONResponse(ctx, w, http.StatusOK, postResponse{
			Success:     true,
			GeneratedAt: post.RetrievedAt.UTC(),
			Post:        post.Value,
		})
	})
}

// MakeRevalidatedPostHandler serves one fixed post, refreshed at most once
// per ttl
func MakeRevalidatedPostHandler(
	getPost app.GetPost,
	postID int,
	ttl time.Duration,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildHandlerMiddleware("revalidate", upstreamLimits, rootLogger, sentryMiddleware)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		post, err := getPost(ctx, postID)
		if err != nil {
			writeDomainError(ctx, w, err)
			return
		}

		w.Header().Set("Cache-Control", cacheControlMaxAge(ttl))
		writeJSONResponse(ctx, w, http.StatusOK, postResponse{
			Success:     true,
			GeneratedAt: post.RetrievedAt.UTC(),
			Post:        post.Value,
		})
	})
}
