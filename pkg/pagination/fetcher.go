package pagination

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPerPage is the server's upper bound for per_page.
	DefaultPerPage = 200

	// APIVersion is sent as v= on every listing request.
	APIVersion = "2"
)

var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_pages_fetched_total",
		Help: "Total listing pages fetched by collection",
	}, []string{"collection"})

	itemsCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_items_collected_total",
		Help: "Total listing items collected by collection",
	}, []string{"collection"})

	declaredTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "goodreads_collection_declared_total",
		Help: "Item count declared by the first page of the last fetch, by collection",
	}, []string{"collection"})
)

// Collection describes one paged listing.
type Collection struct {
	// Name is the wrapper element carrying the total attribute, and the
	// element name used in the export document.
	Name string

	// Endpoint is the API path without the .xml suffix.
	Endpoint string

	// Item is the element name of one record inside the wrapper.
	Item string
}

// Reviews is the user's review list, the only collection exported today.
var Reviews = Collection{Name: "reviews", Endpoint: "review/list", Item: "review"}

// PageFetcher is the transport the Fetcher drives; *client.Client implements it.
type PageFetcher interface {
	// FetchPage returns the body of a successful response. The caller closes it.
	FetchPage(ctx context.Context, endpoint string, query url.Values) (io.ReadCloser, error)
}

// Config scopes every listing request.
type Config struct {
	// UserID is the Goodreads user whose listing is exported (sent as id=).
	UserID string

	// Key is the developer API key.
	Key string

	// PerPage is the page size requested. Zero means DefaultPerPage.
	PerPage int
}

// Fetcher walks a paged listing sequentially.
type Fetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewFetcher creates a fetcher. It validates the request scope up front so
// that a bad configuration never reaches the network.
func NewFetcher(fetcher PageFetcher, cfg Config) (*Fetcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.PerPage == 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.PerPage < 0 || cfg.PerPage > DefaultPerPage {
		return nil, fmt.Errorf("per_page must be between 1 and %d (got %d)", DefaultPerPage, cfg.PerPage)
	}

	return &Fetcher{
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With().Str("component", "pagination").Logger(),
	}, nil
}

// FetchAll returns the raw XML of every item of the collection, in page order.
//
// Every page must declare a total, but only page 1's decides when to stop:
// after each page the running count is compared with it, so total=0 costs exactly one request and
// a final page with more items than expected is kept whole. Transport errors
// are returned as the PageFetcher produced them.
func (f *Fetcher) FetchAll(ctx context.Context, c Collection) ([][]byte, error) {
	start := time.Now()

	var (
		items [][]byte
		total int
	)
	for pageNum := 1; ; pageNum++ {
		p, err := f.fetchPage(ctx, c, pageNum)
		if err != nil {
			return nil, err
		}

		if p.total == nil {
			return nil, &SchemaError{Collection: c.Name, Page: pageNum, Reason: "missing total attribute"}
		}

		if pageNum == 1 {
			total = *p.total
			declaredTotal.WithLabelValues(c.Name).Set(float64(total))

			f.logger.Info().
				Str("endpoint", c.Endpoint).
				Int("total", total).
				Int("per_page", f.config.PerPage).
				Msg("Starting paged fetch")
		} else if *p.total != total {
			f.logger.Warn().
				Str("endpoint", c.Endpoint).
				Int("page", pageNum).
				Int("declared", *p.total).
				Int("total", total).
				Msg("Page declares a different total, keeping the first")
		}

		if len(p.items) == 0 && len(items) < total {
			return nil, &SchemaError{
				Collection: c.Name,
				Page:       pageNum,
				Reason:     fmt.Sprintf("empty page with %d of %d items collected", len(items), total),
			}
		}

		items = append(items, p.items...)
		pagesFetchedTotal.WithLabelValues(c.Name).Inc()
		itemsCollectedTotal.WithLabelValues(c.Name).Add(float64(len(p.items)))

		f.logger.Debug().
			Str("endpoint", c.Endpoint).
			Int("page", pageNum).
			Int("on_page", len(p.items)).
			Int("collected", len(items)).
			Int("total", total).
			Msg("Fetched page")

		if len(items) >= total {
			f.logger.Info().
				Str("endpoint", c.Endpoint).
				Int("pages", pageNum).
				Int("collected", len(items)).
				Dur("duration", time.Since(start)).
				Msg("Fetch complete")
			return items, nil
		}
	}
}

// fetchPage requests and decodes one page, closing the body on every path.
func (f *Fetcher) fetchPage(ctx context.Context, c Collection, pageNum int) (*page, error) {
	body, err := f.fetcher.FetchPage(ctx, c.Endpoint, f.query(pageNum))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return parsePage(body, c, pageNum)
}

func (f *Fetcher) query(pageNum int) url.Values {
	return url.Values{
		"v":        {APIVersion},
		"key":      {f.config.Key},
		"per_page": {strconv.Itoa(f.config.PerPage)},
		"page":     {strconv.Itoa(pageNum)},
		"id":       {f.config.UserID},
	}
}
