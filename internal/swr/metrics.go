package swr

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type swrMetricsCollection struct {
	retrievalCount    metric.Int64Counter
	dedupCount        metric.Int64Counter
	revalidationCount metric.Int64Counter
	supersededCount   metric.Int64Counter
}

var metrics swrMetricsCollection

func init() {
	const name = "flashfetch/swr"
	meter := otel.Meter(name)

	retrievalCount, err := meter.Int64Counter(
		"swr/retrieval_count",
		metric.WithDescription("Retrievals started by the cache"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create retrieval count metric: %w", err))
	}

	dedupCount, err := meter.Int64Counter(
		"swr/dedup_count",
		metric.WithDescription("Requests served by an in-flight or recent retrieval"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create dedup count metric: %w", err))
	}

	revalidationCount, err := meter.Int64Counter(
		"swr/revalidation_count",
		metric.WithDescription("Revalidations requested by loaders, by trigger"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create revalidation count metric: %w", err))
	}

	supersededCount, err := meter.Int64Counter(
		"swr/superseded_count",
		metric.WithDescription("Retrievals whose result was discarded because a newer one was started"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create superseded count metric: %w", err))
	}

	metrics = swrMetricsCollection{
		retrievalCount:    retrievalCount,
		dedupCount:        dedupCount,
		revalidationCount: revalidationCount,
		supersededCount:   supersededCount,
	}
}
