package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/flashfetch/internal/adapters/cache"
	"github.com/Amund211/flashfetch/internal/adapters/fetcher"
	"github.com/Amund211/flashfetch/internal/adapters/productrepository"
	"github.com/Amund211/flashfetch/internal/app"
	"github.com/Amund211/flashfetch/internal/config"
	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/ports"
	"github.com/Amund211/flashfetch/internal/reporting"
	"github.com/Amund211/flashfetch/internal/swr"
	"github.com/Amund211/flashfetch/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

const (
	newsTTL            = 5 * time.Second
	revalidatedPostTTL = 10 * time.Second
	revalidatedPostID  = 3
)

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.AddToContext(ctx, logger)

	if config.OTelEnabled() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "flashfetch")
		if err != nil {
			fail("Failed to initialize OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	upstream, err := fetcher.New(httpClient, config.UpstreamBaseURL(), time.Now, time.After)
	if err != nil {
		fail("Failed to initialize upstream fetcher", "error", err.Error())
	}
	logger.Info("Initialized upstream fetcher", "baseURL", config.UpstreamBaseURL())

	swrConfig := swr.NewConfig(
		swr.WithDedupingInterval(config.DedupingInterval()),
		swr.WithFocusThrottleInterval(config.FocusThrottleInterval()),
		swr.WithRevalidateOnFocus(config.RevalidateOnFocus()),
		swr.WithRevalidateOnReconnect(config.RevalidateOnReconnect()),
	)

	usersCache := swr.NewCache(fetcher.Retriever[[]domain.User](upstream), swr.WithName("users"))
	defer usersCache.Close()
	rawCache := swr.NewCache(fetcher.Retriever[json.RawMessage](upstream), swr.WithName("raw"))
	defer rawCache.Close()

	newsCache, stopNewsCache := cache.NewTTLCache[domain.Timestamped[[]domain.Post]](newsTTL)
	defer stopNewsCache()
	postCache, stopPostCache := cache.NewTTLCache[domain.Timestamped[domain.Post]](revalidatedPostTTL)
	defer stopPostCache()

	productRepo := productrepository.NewMemory(
		domain.NewProduct{Name: "Mechanical keyboard", Price: 89.99},
		domain.NewProduct{Name: "Wireless mouse", Price: 24.5},
	)

	allowedOrigins, err := ports.NewDomainSuffixes(config.CORSDomainSuffixes()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	getUsers := app.BuildGetUsers(usersCache, swrConfig)
	revalidateUsers := app.BuildRevalidateUsers(usersCache)
	getNews := app.BuildGetNewsWithCache(newsCache, upstream, time.Now)
	getPost := app.BuildGetPost(upstream, time.Now)
	getRevalidatedPost := app.BuildGetPostWithCache(postCache, upstream, time.Now)
	listProducts := app.BuildListProducts(productRepo)
	addProduct := app.BuildAddProduct(productRepo)
	deleteProduct := app.BuildDeleteProduct(productRepo)
	isSubscribableKey := app.BuildIsSubscribableKey()

	cors := ports.BuildCORSMiddleware(allowedOrigins)

	mux := http.NewServeMux()

	mux.HandleFunc("OPTIONS /api/", ports.BuildCORSHandler(allowedOrigins))

	mux.HandleFunc(
		"GET /api/hello",
		cors(ports.MakeHelloHandler(logger.With("port", "hello"), sentryMiddleware)),
	)

	mux.HandleFunc(
		"GET /api/products",
		cors(ports.MakeListProductsHandler(listProducts, logger.With("port", "listproducts"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"POST /api/products",
		cors(ports.MakeAddProductHandler(addProduct, logger.With("port", "addproduct"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"DELETE /api/products",
		cors(ports.MakeDeleteProductHandler(deleteProduct, logger.With("port", "deleteproduct"), sentryMiddleware)),
	)

	mux.HandleFunc(
		"GET /api/users",
		cors(ports.MakeGetUsersHandler(getUsers, logger.With("port", "users"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"POST /api/users/revalidate",
		cors(ports.MakeRevalidateUsersHandler(revalidateUsers, logger.With("port", "revalidateusers"), sentryMiddleware)),
	)

	mux.HandleFunc(
		"GET /api/news",
		cors(ports.MakeGetNewsHandler(getNews, newsTTL, logger.With("port", "news"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"GET /api/news/{id}",
		cors(ports.MakeGetPostHandler(getPost, logger.With("port", "post"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"GET /api/revalidate",
		cors(ports.MakeRevalidatedPostHandler(
			getRevalidatedPost,
			revalidatedPostID,
			revalidatedPostTTL,
			logger.With("port", "revalidate"),
			sentryMiddleware,
		)),
	)

	mux.HandleFunc(
		"GET /api/user/{id}",
		cors(ports.MakeGetUserIDHandler(logger.With("port", "user"), sentryMiddleware)),
	)
	mux.HandleFunc(
		"POST /api/form",
		cors(ports.MakeSubmitFormHandler(logger.With("port", "form"), sentryMiddleware)),
	)

	mux.HandleFunc(
		"GET /ws",
		ports.MakeSubscriptionHandler(
			rawCache,
			swrConfig,
			isSubscribableKey,
			allowedOrigins,
			logger.With("port", "subscriptions"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete")
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
