// Package ratelimit paces requests to the Goodreads API.
//
// The API terms allow at most one request per second per key. A LocalPacer
// enforces that inside one process; a RedisPacer shares the slot between every
// process using the same key, e.g. a cron export running next to an ad hoc one.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between two API requests.
const DefaultInterval = time.Second

var (
	pacerWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_pacer_waits_total",
		Help: "Total number of pacing waits by backend",
	}, []string{"backend"})

	pacerWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goodreads_pacer_wait_seconds",
		Help:    "Time spent waiting for a request slot by backend",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"backend"})
)

// Pacer blocks until the caller may issue the next request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// LocalPacer paces requests within a single process.
type LocalPacer struct {
	limiter *rate.Limiter
}

// NewLocalPacer returns a pacer allowing one request per interval.
// An interval <= 0 disables pacing.
func NewLocalPacer(interval time.Duration) *LocalPacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &LocalPacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait implements Pacer.
func (p *LocalPacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	observeWait("local", time.Since(start))
	return nil
}

func observeWait(backend string, d time.Duration) {
	pacerWaitsTotal.WithLabelValues(backend).Inc()
	pacerWaitSeconds.WithLabelValues(backend).Observe(d.Seconds())
}
