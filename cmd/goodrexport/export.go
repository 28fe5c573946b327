package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/goodreads-export/pkg/client"
	"github.com/Sternrassler/goodreads-export/pkg/logging"
	"github.com/Sternrassler/goodreads-export/pkg/metrics"
	"github.com/Sternrassler/goodreads-export/pkg/pagination"
	"github.com/Sternrassler/goodreads-export/pkg/ratelimit"
)

type exportOptions struct {
	output      string
	perPage     int
	retries     int
	redisURL    string
	interval    time.Duration
	metricsAddr string
}

func newExportCmd(a *app) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export [--output <file.xml>]",
		Short: "Fetch every review and write the aggregated XML document.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("per-page") {
				a.cfg.PerPage = opts.perPage
			}
			if cmd.Flags().Changed("retries") {
				a.cfg.MaxAttempts = opts.retries
			}
			if cmd.Flags().Changed("redis") {
				a.cfg.RedisURL = opts.redisURL
			}
			return runExport(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "file to write; stdout when empty or -")
	cmd.Flags().IntVar(&opts.perPage, "per-page", pagination.DefaultPerPage, "reviews per request (1-200)")
	cmd.Flags().IntVar(&opts.retries, "retries", 1, "attempts per request; 1 disables retries")
	cmd.Flags().StringVar(&opts.redisURL, "redis", "", "redis URL for pacing shared with other exporters (default from REDIS_URL)")
	cmd.Flags().DurationVar(&opts.interval, "interval", ratelimit.DefaultInterval, "minimum time between requests")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while exporting")

	return cmd
}

func runExport(ctx context.Context, a *app, opts *exportOptions, stdout io.Writer) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		if _, err := metrics.Serve(ctx, opts.metricsAddr, a.logger); err != nil {
			return err
		}
	}

	pacer, closePacer, err := newPacer(ctx, cfg.RedisURL, opts.interval)
	if err != nil {
		return err
	}
	defer closePacer()

	c, err := client.New(client.Config{
		BaseURL:     cfg.BaseURL,
		UserAgent:   cfg.UserAgent,
		Timeout:     30 * time.Second,
		MaxAttempts: cfg.MaxAttempts,
		Pacer:       pacer,
	})
	if err != nil {
		return err
	}

	fetcher, err := pagination.NewFetcher(c, pagination.Config{
		UserID:  cfg.UserID,
		Key:     cfg.Key,
		PerPage: cfg.PerPage,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	doc, err := pagination.NewExporter(fetcher).ExportXML(ctx)
	if err != nil {
		return err
	}

	if err := dump(doc, opts.output, stdout); err != nil {
		return err
	}

	a.logger.Info().
		Str("output", outputName(opts.output)).
		Int("bytes", len(doc)).
		Dur("duration", time.Since(start)).
		Msg("Export written")
	return nil
}

// newPacer returns a Redis backed pacer when redisURL is set, a local one otherwise.
func newPacer(ctx context.Context, redisURL string, interval time.Duration) (ratelimit.Pacer, func(), error) {
	if redisURL == "" {
		return ratelimit.NewLocalPacer(interval), func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	pacer, err := ratelimit.NewRedisPacer(rdb, ratelimit.DefaultRedisKey, interval, logging.NewLogger("pacer"))
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return pacer, func() { rdb.Close() }, nil
}

// dump writes doc to stdout, or atomically to path via a temp file in the same directory.
func dump(doc []byte, path string, stdout io.Writer) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(doc)
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

func outputName(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}
