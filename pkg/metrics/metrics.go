// Package metrics exposes the exporter's Prometheus metrics.
// The metrics themselves are defined in the packages that update them
// (client, ratelimit, pagination, model) and registered via promauto.
//
// This package provides the gatherer, the HTTP handler and a catalogue of
// all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Path is where Serve exposes the metrics.
const Path = "/metrics"

// Handler returns the Prometheus exposition handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr until ctx is cancelled. It returns once the
// listener is bound, with the bound address, so ":0" works in tests.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return ln.Addr().String(), nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - goodreads_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - goodreads_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - goodreads_errors_total{class} (Counter): Transport errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client, only with max attempts > 1):
//   - goodreads_retries_total{error_class} (Counter): Retry attempts by error class
//   - goodreads_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - goodreads_retry_exhausted_total{error_class} (Counter): Requests that used up every attempt
//
// Pacing Metrics (pkg/ratelimit):
//   - goodreads_pacer_waits_total{backend} (Counter): Request slots acquired (local, redis)
//   - goodreads_pacer_wait_seconds{backend} (Histogram): Time spent waiting for a slot
//
// Pagination Metrics (pkg/pagination):
//   - goodreads_pages_fetched_total{collection} (Counter): Listing pages fetched
//   - goodreads_items_collected_total{collection} (Counter): Items collected across pages
//   - goodreads_collection_declared_total{collection} (Gauge): Total declared by page 1 of the last fetch
//
// Parse Metrics (pkg/model):
//   - goodreads_reviews_parsed_total (Counter): Reviews parsed from export documents
//   - goodreads_review_parse_failures_total{kind} (Counter): Failures by kind (cardinality, format, missing_field, document)
//
// Example Prometheus Queries:
//
//   # Export completeness
//   goodreads_items_collected_total{collection="reviews"} - goodreads_collection_declared_total{collection="reviews"}
//
//   # Request Error Rate
//   rate(goodreads_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(goodreads_request_duration_seconds_bucket[5m]))
//
//   # Average pacing delay
//   rate(goodreads_pacer_wait_seconds_sum[5m]) / rate(goodreads_pacer_waits_total[5m])
