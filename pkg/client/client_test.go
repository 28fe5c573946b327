package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
)

// countingPacer records how often it was waited on.
type countingPacer struct {
	waits atomic.Int32
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits.Add(1)
	return ctx.Err()
}

func newTestClient(t *testing.T, baseURL string, maxAttempts int) *Client {
	t.Helper()

	cfg := Config{
		BaseURL:        baseURL,
		UserAgent:      "goodrexport-test/1.0",
		Timeout:        5 * time.Second,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: Config{BaseURL: DefaultBaseURL, UserAgent: "TestApp/1.0", MaxAttempts: 1},
		},
		{
			name:     "missing base url",
			config:   Config{UserAgent: "TestApp/1.0", MaxAttempts: 1},
			errorMsg: "base url is required",
		},
		{
			name:     "non http base url",
			config:   Config{BaseURL: "ftp://goodreads.com/", UserAgent: "TestApp/1.0", MaxAttempts: 1},
			errorMsg: `base url must be http or https (got "ftp://goodreads.com/")`,
		},
		{
			name:     "empty user agent",
			config:   Config{BaseURL: DefaultBaseURL, MaxAttempts: 1},
			errorMsg: "user-agent is required",
		},
		{
			name:     "zero attempts",
			config:   Config{BaseURL: DefaultBaseURL, UserAgent: "TestApp/1.0"},
			errorMsg: "max_attempts must be >= 1 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.errorMsg != "" {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0")

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.UserAgent != "TestApp/1.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1 (no retries by default)", cfg.MaxAttempts)
	}
	if cfg.Pacer == nil {
		t.Error("Pacer should be set by default")
	}
}

func TestClassifyError(t *testing.T) {
	c := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{name: "network error", err: io.EOF, expected: ErrorClassNetwork},
		{name: "client error 404", statusCode: 404, expected: ErrorClassClient},
		{name: "client error 401", statusCode: 401, expected: ErrorClassClient},
		{name: "rate limit 429", statusCode: 429, expected: ErrorClassRateLimit},
		{name: "server error 500", statusCode: 500, expected: ErrorClassServer},
		{name: "server error 503", statusCode: 503, expected: ErrorClassServer},
		{name: "success 200", statusCode: 200, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			if got := c.classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFetchPage_Success(t *testing.T) {
	var gotPath, gotUA, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<GoodreadsResponse><reviews total="0"/></GoodreadsResponse>`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/", 1)
	query := url.Values{"v": {"2"}, "page": {"1"}}

	body, err := c.FetchPage(context.Background(), "review/list", query)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), `total="0"`) {
		t.Errorf("body = %q", data)
	}
	if gotPath != "/review/list.xml" {
		t.Errorf("path = %q, want /review/list.xml", gotPath)
	}
	if gotUA != "goodrexport-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotQuery != "page=1&v=2" {
		t.Errorf("query = %q, want page=1&v=2", gotQuery)
	}
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Invalid API key."))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)

	_, err := c.FetchPage(context.Background(), "review/list", url.Values{})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusUnauthorized || te.ErrorClass != ErrorClassClient {
		t.Errorf("got status %d class %q", te.StatusCode, te.ErrorClass)
	}
	if te.Message != "Invalid API key." {
		t.Errorf("Message = %q", te.Message)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestFetchPage_ServerErrorRetried(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<reviews total="0"/>`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 3)

	body, err := c.FetchPage(context.Background(), "review/list", url.Values{})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	body.Close()

	if n := requests.Load(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestFetchPage_NoRetryByDefault(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)

	_, err := c.FetchPage(context.Background(), "review/list", url.Values{})
	var te *TransportError
	if !errors.As(err, &te) || te.ErrorClass != ErrorClassServer {
		t.Fatalf("error = %v, want server TransportError", err)
	}
	if te.Message != "500 Internal Server Error" {
		t.Errorf("Message = %q, want status text for empty body", te.Message)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestFetchPage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	c := newTestClient(t, baseURL, 1)

	query := url.Values{"key": {"s3cret"}}
	_, err := c.FetchPage(context.Background(), "review/list", query)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", te.ErrorClass)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("error leaks API key: %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetchPage_BodyReadError(t *testing.T) {
	reset := errors.New("connection reset by peer")
	c := newTestClient(t, "http://goodreads.test/", 1)
	c.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Body:       io.NopCloser(io.MultiReader(strings.NewReader(`<reviews total="3"><review>`), iotest.ErrReader(reset))),
			Request:    r,
		}, nil
	})})

	body, err := c.FetchPage(context.Background(), "review/list", url.Values{"page": {"1"}})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if string(data) != `<reviews total="3"><review>` {
		t.Errorf("partial body = %q", data)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("read error = %v, want *TransportError", err)
	}
	if te.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", te.ErrorClass)
	}
	if te.Endpoint != "review/list" {
		t.Errorf("Endpoint = %q, want review/list", te.Endpoint)
	}
	if !errors.Is(err, reset) {
		t.Errorf("read error does not wrap the cause: %v", err)
	}
}

func TestFetchPage_UsesPacer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<reviews total="0"/>`))
	}))
	defer server.Close()

	pacer := &countingPacer{}
	c, err := New(Config{
		BaseURL:     server.URL,
		UserAgent:   "TestApp/1.0",
		MaxAttempts: 1,
		Pacer:       pacer,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		body, err := c.FetchPage(context.Background(), "review/list", url.Values{})
		if err != nil {
			t.Fatalf("FetchPage() error = %v", err)
		}
		body.Close()
	}
	if n := pacer.waits.Load(); n != 3 {
		t.Errorf("pacer waits = %d, want 3", n)
	}
}

func TestFetchPage_PacerCancelled(t *testing.T) {
	c, err := New(Config{
		BaseURL:     "http://127.0.0.1:1",
		UserAgent:   "TestApp/1.0",
		MaxAttempts: 3,
		Pacer:       &countingPacer{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.FetchPage(ctx, "review/list", url.Values{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestFetchPage_LogsRedactedKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "s3cret" {
			t.Errorf("server did not receive the real key")
		}
		w.Write([]byte(`<reviews total="0"/>`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 1)
	buf := &bytes.Buffer{}
	c.logger = zerolog.New(buf).Level(zerolog.DebugLevel)

	body, err := c.FetchPage(context.Background(), "review/list", url.Values{"key": {"s3cret"}, "id": {"42"}})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	body.Close()

	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Errorf("log output leaks API key: %s", out)
	}
	if !strings.Contains(out, "key=REDACTED") {
		t.Errorf("log output missing redacted query: %s", out)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base     string
		endpoint string
		want     string
	}{
		{"https://www.goodreads.com/", "review/list", "https://www.goodreads.com/review/list.xml?id=1"},
		{"https://www.goodreads.com", "/review/list/", "https://www.goodreads.com/review/list.xml?id=1"},
		{"http://localhost:8080/api/", "review/list", "http://localhost:8080/api/review/list.xml?id=1"},
	}

	for _, tt := range tests {
		t.Run(tt.base+tt.endpoint, func(t *testing.T) {
			c := newTestClient(t, tt.base, 1)
			got := c.resolve(tt.endpoint, url.Values{"id": {"1"}}).String()
			if got != tt.want {
				t.Errorf("resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
