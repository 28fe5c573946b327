package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goodreads_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the backoff schedule for one error class.
type RetryConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// RetryConfigForErrorClass returns the backoff schedule for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		return RetryConfig{InitialBackoff: 1 * time.Second, MaxBackoff: 10 * time.Second, BackoffMultiplier: 2.0}
	case ErrorClassRateLimit:
		// the API asks for one request per second, back off well beyond that
		return RetryConfig{InitialBackoff: 5 * time.Second, MaxBackoff: 60 * time.Second, BackoffMultiplier: 2.0}
	case ErrorClassNetwork:
		return RetryConfig{InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0}
	default:
		return RetryConfig{InitialBackoff: 1 * time.Second, MaxBackoff: 30 * time.Second, BackoffMultiplier: 2.0}
	}
}

// retryWithBackoff runs fn up to maxAttempts times. Only *TransportError values
// of a retryable class are retried; the last error is returned unchanged.
// initialOverride, when positive, replaces the class's initial backoff.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, maxAttempts int, initialOverride time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var backoff time.Duration
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return nil
		}

		var class ErrorClass
		var te *TransportError
		if errors.As(err, &te) {
			class = te.ErrorClass
		}
		if !shouldRetry(class) {
			return err
		}
		if attempt >= maxAttempts {
			if maxAttempts > 1 {
				retryExhaustedTotal.WithLabelValues(string(class)).Inc()
				logger.Warn().
					Str("error_class", string(class)).
					Int("max_attempts", maxAttempts).
					Msg("Retry attempts exhausted")
			}
			return err
		}

		cfg := RetryConfigForErrorClass(class)
		if initialOverride > 0 {
			cfg.InitialBackoff = initialOverride
		}
		if backoff == 0 {
			backoff = cfg.InitialBackoff
		} else {
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		}
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}
}
