// Package client is the HTTP transport to the Goodreads XML API.
//
// It knows nothing about pagination or the review schema: it turns an
// endpoint and a query into a response body, or into a *TransportError.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/goodreads-export/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Goodreads API root.
const DefaultBaseURL = "https://www.goodreads.com/"

// maxErrorBody bounds how much of an error response ends up in TransportError.Message.
const maxErrorBody = 512

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_requests_total",
		Help: "Total Goodreads API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goodreads_request_duration_seconds",
		Help:    "Goodreads API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_errors_total",
		Help: "Total Goodreads API transport errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root; endpoints are resolved against it.
	BaseURL string

	// UserAgent identifies the exporter to the API.
	UserAgent string

	// Timeout bounds a single HTTP request including reading headers.
	Timeout time.Duration

	// MaxAttempts is the number of tries per request. 1 disables retries.
	MaxAttempts int

	// InitialBackoff overrides the per-class initial retry backoff when positive.
	InitialBackoff time.Duration

	// Pacer is waited on before every request. Nil disables pacing.
	Pacer ratelimit.Pacer
}

// DefaultConfig returns a configuration with a one second request pacer and no retries.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		UserAgent:   userAgent,
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
		Pacer:       ratelimit.NewLocalPacer(ratelimit.DefaultInterval),
	}
}

// Client performs paced GET requests against the API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "goodreads-client").Logger(),
	}, nil
}

// FetchPage GETs endpoint+".xml" with the given query and returns the response
// body of a 200 response. The caller must close it.
func (c *Client) FetchPage(ctx context.Context, endpoint string, query url.Values) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := retryWithBackoff(ctx, c.logger, c.config.MaxAttempts, c.config.InitialBackoff, func() error {
		var err error
		body, err = c.do(ctx, endpoint, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values) (io.ReadCloser, error) {
	if c.config.Pacer != nil {
		if err := c.config.Pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for request slot: %w", err)
		}
	}

	u := c.resolve(endpoint, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/xml")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", redactQuery(query)).
		Msg("Executing request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		class := c.classifyError(nil, err)
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &TransportError{
			Endpoint:   endpoint,
			ErrorClass: class,
			Message:    "request failed",
			Err:        stripKey(err, query),
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, resp.Body)

		class := c.classifyError(resp, nil)
		if class == "" {
			// 1xx/2xx/3xx other than 200 carry no review payload either
			class = ErrorClassClient
		}
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Goodreads request error")

		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    msg,
		}
	}

	return &responseBody{ReadCloser: resp.Body, endpoint: endpoint}, nil
}

// responseBody reports failed reads of a 200 body as network transport errors.
type responseBody struct {
	io.ReadCloser
	endpoint string
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return n, &TransportError{
			Endpoint:   b.endpoint,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	return n, err
}

// resolve builds base/endpoint.xml?query.
func (c *Client) resolve(endpoint string, query url.Values) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(endpoint, "/") + ".xml"
	u.RawQuery = query.Encode()
	return &u
}

// classifyError categorizes a failure for metrics and retry decisions.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// redactQuery encodes query with the API key masked.
func redactQuery(query url.Values) string {
	if query.Get("key") == "" {
		return query.Encode()
	}
	masked := url.Values{}
	for k, v := range query {
		masked[k] = v
	}
	masked.Set("key", "REDACTED")
	return masked.Encode()
}

// stripKey removes the API key from errors that embed the request URL (*url.Error).
func stripKey(err error, query url.Values) error {
	key := query.Get("key")
	if key == "" {
		return err
	}
	if ue, ok := err.(*url.Error); ok {
		return &url.Error{
			Op:  ue.Op,
			URL: strings.ReplaceAll(ue.URL, url.QueryEscape(key), "REDACTED"),
			Err: ue.Err,
		}
	}
	return err
}
