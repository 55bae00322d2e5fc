package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/flashfetch/internal/constants"
	"github.com/Amund211/flashfetch/internal/domain"
	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/ratelimiting"
	"github.com/Amund211/flashfetch/internal/reporting"
	"github.com/Amund211/flashfetch/internal/resource"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxOperationTime = 2 * time.Second

// Upstream bodies larger than this are rejected
const maxBodySize = 10 << 20

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type fetcherMetricsCollection struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func setupFetcherMetrics(meter metric.Meter) (fetcherMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("fetcher/request_count")
	if err != nil {
		return fetcherMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"fetcher/request_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return fetcherMetricsCollection{}, fmt.Errorf("failed to create request duration metric: %w", err)
	}

	return fetcherMetricsCollection{
		requestCount:    requestCount,
		requestDuration: requestDuration,
	}, nil
}

// JSONFetcher GETs JSON documents from one upstream.
type JSONFetcher struct {
	httpClient HttpClient
	baseURL    string
	limiter    ratelimiting.RequestLimiter
	nowFunc    func() time.Time

	metrics fetcherMetricsCollection
	tracer  trace.Tracer
}

func New(
	httpClient HttpClient,
	baseURL string,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*JSONFetcher, error) {
	const name = "flashfetch/fetcher"

	meter := otel.Meter(name)
	tracer := otel.Tracer(name)

	metrics, err := setupFetcherMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	// jsonplaceholder does not publish a limit, stay well below anything reasonable
	limiter := ratelimiting.NewWindowLimiter(300, time.Minute, nowFunc, afterFunc)

	return &JSONFetcher{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
		nowFunc:    nowFunc,

		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Fetch GETs path relative to the base url and decodes the JSON body into out.
//
// Returns domain.ErrNotFound for 404, domain.ErrTemporarilyUnavailable for
// throttling and gateway failures, domain.ErrResponse for any other unusable
// response and domain.ErrTransport when the upstream could not be reached.
func (f *JSONFetcher) Fetch(ctx context.Context, path string, out any) error {
	ctx, span := f.tracer.Start(ctx, "JSONFetcher.Fetch", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	err := f.fetch(ctx, path, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (f *JSONFetcher) fetch(ctx context.Context, path string, out any) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path must start with /: %s", domain.ErrInvalidInput, path)
	}
	url := f.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err := fmt.Errorf("%w: failed to create request: %w", domain.ErrInvalidInput, err)
		reporting.Report(ctx, err)
		return err
	}

	req.Header.Set("User-Agent", constants.USER_AGENT)
	req.Header.Set("Accept", "application/json")

	var statusCode int
	var data []byte
	start := f.nowFunc()
	ran := f.limiter.Limit(ctx, maxOperationTime, func(ctx context.Context) {
		var resp *http.Response
		resp, err = f.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("%w: failed to send request: %w", domain.ErrTransport, err)
			return
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if err != nil {
			err = fmt.Errorf("%w: failed to read response body: %w", domain.ErrTransport, err)
			return
		}
	})
	if !ran {
		logging.FromContext(ctx).WarnContext(ctx, "Did not fetch due to rate limiting", "path", path, "ctx_error", ctx.Err())
		return fmt.Errorf("%w: too many requests to upstream", domain.ErrTemporarilyUnavailable)
	}

	f.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status_code", strconv.Itoa(statusCode)),
		attribute.Bool("transport_error", err != nil),
	))
	f.metrics.requestDuration.Record(ctx, f.nowFunc().Sub(start).Seconds())

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			reporting.Report(ctx, err, map[string]string{"url": url})
		}
		return err
	}

	logging.FromContext(ctx).InfoContext(ctx, "Upstream request completed", "url", url, "status", statusCode, "duration", f.nowFunc().Sub(start).String())

	err = decodeResponse(statusCode, data, out)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTemporarilyUnavailable):
		// Expected failure modes, nothing to report
		return err
	default:
		reporting.Report(ctx, err, map[string]string{
			"url":    url,
			"status": strconv.Itoa(statusCode),
			"data":   truncate(string(data), 1000),
		})
		return err
	}
}

func decodeResponse(statusCode int, data []byte, out any) error {
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: upstream returned status code %d", domain.ErrResponse, domain.ErrNotFound, statusCode)
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w: upstream returned status code %d", domain.ErrResponse, domain.ErrTemporarilyUnavailable, statusCode)
	}

	if statusCode < 200 || statusCode > 299 {
		return fmt.Errorf("%w: upstream returned status code %d", domain.ErrResponse, statusCode)
	}

	if len(data) > maxBodySize {
		return fmt.Errorf("%w: response body exceeds %d bytes", domain.ErrResponse, maxBodySize)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %w", domain.ErrResponse, err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Retriever adapts f to a resource.Retriever, using the key as the path
func Retriever[T any](f *JSONFetcher) resource.Retriever[T] {
	return func(ctx context.Context, key string) (T, error) {
		var value T
		if err := f.Fetch(ctx, key, &value); err != nil {
			var zero T
			return zero, err
		}
		return value, nil
	}
}
