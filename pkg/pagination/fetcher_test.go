package pagination

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Sternrassler/goodreads-export/internal/testutil"
)

// fakeFetcher serves canned pages and tracks closed bodies.
type fakeFetcher struct {
	pages   map[int]string
	bodies  map[int]io.Reader
	errs    map[int]error
	queries []url.Values
	opened  int
	closed  int
}

type trackedBody struct {
	io.Reader
	f *fakeFetcher
}

func (b *trackedBody) Close() error {
	b.f.closed++
	return nil
}

func (f *fakeFetcher) FetchPage(ctx context.Context, endpoint string, query url.Values) (io.ReadCloser, error) {
	f.queries = append(f.queries, query)
	page, _ := strconv.Atoi(query.Get("page"))
	if err := f.errs[page]; err != nil {
		return nil, err
	}
	f.opened++
	if body, ok := f.bodies[page]; ok {
		return &trackedBody{Reader: body, f: f}, nil
	}
	return &trackedBody{Reader: strings.NewReader(f.pages[page]), f: f}, nil
}

func items(ids ...string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<review><id>" + id + "</id></review>"
	}
	return out
}

func newTestFetcher(t *testing.T, pf PageFetcher, perPage int) *Fetcher {
	t.Helper()
	f, err := NewFetcher(pf, Config{UserID: "42", Key: "k", PerPage: perPage})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}
	return f
}

func TestNewFetcher_Validation(t *testing.T) {
	pf := &fakeFetcher{}

	tests := []struct {
		name     string
		fetcher  PageFetcher
		config   Config
		errorMsg string
	}{
		{name: "valid", fetcher: pf, config: Config{UserID: "1", Key: "k"}},
		{name: "nil fetcher", config: Config{UserID: "1", Key: "k"}, errorMsg: "page fetcher is required"},
		{name: "missing user", fetcher: pf, config: Config{Key: "k"}, errorMsg: "user id is required"},
		{name: "missing key", fetcher: pf, config: Config{UserID: "1"}, errorMsg: "api key is required"},
		{name: "per page too large", fetcher: pf, config: Config{UserID: "1", Key: "k", PerPage: 201}, errorMsg: "per_page must be between 1 and 200 (got 201)"},
		{name: "negative per page", fetcher: pf, config: Config{UserID: "1", Key: "k", PerPage: -1}, errorMsg: "per_page must be between 1 and 200 (got -1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFetcher(tt.fetcher, tt.config)
			if tt.errorMsg != "" {
				if err == nil || err.Error() != tt.errorMsg {
					t.Fatalf("error = %v, want %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.config.PerPage != DefaultPerPage {
				t.Errorf("PerPage = %d, want default %d", f.config.PerPage, DefaultPerPage)
			}
		})
	}
}

func TestFetchAll_EmptyCollection(t *testing.T) {
	pf := &fakeFetcher{pages: map[int]string{
		1: testutil.ListResponse(nil, 0, 0, 0, false),
		2: testutil.ListResponse(items("should-not-be-requested"), 1, 1, 0, false),
	}}
	f := newTestFetcher(t, pf, 10)

	got, err := f.FetchAll(context.Background(), Reviews)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d items, want 0", len(got))
	}
	if len(pf.queries) != 1 {
		t.Errorf("requests = %d, want exactly 1", len(pf.queries))
	}
}

func TestFetchAll_RequestCount(t *testing.T) {
	tests := []struct {
		total        int
		perPage      int
		wantRequests int
	}{
		{total: 1, perPage: 10, wantRequests: 1},
		{total: 10, perPage: 10, wantRequests: 1},
		{total: 11, perPage: 10, wantRequests: 2},
		{total: 25, perPage: 10, wantRequests: 3},
		{total: 7, perPage: 1, wantRequests: 7},
		{total: 401, perPage: 200, wantRequests: 3},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.total)+"/"+strconv.Itoa(tt.perPage), func(t *testing.T) {
			mock := testutil.NewMockGoodreads()
			defer mock.Close()
			mock.SetReviews(testutil.ReviewFragments(tt.total))

			pf := &httpFetcher{base: mock.URL()}
			f := newTestFetcher(t, pf, tt.perPage)

			got, err := f.FetchAll(context.Background(), Reviews)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(got) != tt.total {
				t.Errorf("got %d items, want %d", len(got), tt.total)
			}

			pages := mock.RequestedPages()
			if len(pages) != tt.wantRequests {
				t.Fatalf("requests = %d, want %d", len(pages), tt.wantRequests)
			}
			for i, p := range pages {
				if p != i+1 {
					t.Errorf("request %d asked for page %d, want %d", i, p, i+1)
				}
			}

			// item order across pages equals server order
			for i, item := range got {
				want := testutil.NewReviewFixture(i).ID
				if !strings.Contains(string(item), "<id>"+want+"</id>") {
					t.Errorf("item %d = %.40q..., want review %s", i, item, want)
				}
			}
		})
	}
}

func TestFetchAll_QueryParameters(t *testing.T) {
	pf := &fakeFetcher{pages: map[int]string{
		1: testutil.ListResponse(items("1"), 1, 1, 2, false),
		2: testutil.ListResponse(items("2"), 2, 2, 2, false),
	}}
	f, err := NewFetcher(pf, Config{UserID: "12345", Key: "secret", PerPage: 1})
	if err != nil {
		t.Fatalf("NewFetcher() error = %v", err)
	}

	if _, err := f.FetchAll(context.Background(), Reviews); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	for i, q := range pf.queries {
		want := url.Values{
			"v":        {"2"},
			"key":      {"secret"},
			"per_page": {"1"},
			"page":     {strconv.Itoa(i + 1)},
			"id":       {"12345"},
		}
		if q.Encode() != want.Encode() {
			t.Errorf("request %d query = %s, want %s", i, q.Encode(), want.Encode())
		}
	}
}

func TestFetchAll_ExtraItemsKept(t *testing.T) {
	// total says 3, page 2 carries two more than the remainder
	pf := &fakeFetcher{pages: map[int]string{
		1: testutil.ListResponse(items("a", "b"), 1, 2, 3, false),
		2: testutil.ListResponse(items("c", "d", "e"), 3, 5, 3, false),
		3: testutil.ListResponse(items("f"), 6, 6, 3, false),
	}}
	f := newTestFetcher(t, pf, 2)

	got, err := f.FetchAll(context.Background(), Reviews)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 5 {
		t.Errorf("got %d items, want 5 (no truncation)", len(got))
	}
	if len(pf.queries) != 2 {
		t.Errorf("requests = %d, want 2", len(pf.queries))
	}
}

func TestFetchAll_TotalFromFirstPage(t *testing.T) {
	// later pages shrinking the total must not end the fetch early
	pf := &fakeFetcher{pages: map[int]string{
		1: testutil.ListResponse(items("a"), 1, 1, 3, false),
		2: testutil.ListResponse(items("b"), 2, 2, 1, false),
		3: testutil.ListResponse(items("c"), 3, 3, 1, false),
	}}
	f := newTestFetcher(t, pf, 1)

	got, err := f.FetchAll(context.Background(), Reviews)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d items, want 3", len(got))
	}
}

func TestFetchAll_SchemaErrors(t *testing.T) {
	tests := []struct {
		name     string
		pages    map[int]string
		wantPage int
		reason   string
	}{
		{
			name:     "missing wrapper",
			pages:    map[int]string{1: `<GoodreadsResponse><shelves total="1"/></GoodreadsResponse>`},
			wantPage: 1,
			reason:   "no <reviews> element",
		},
		{
			name:     "missing total",
			pages:    map[int]string{1: testutil.ListResponse(items("a"), 1, 1, 0, true)},
			wantPage: 1,
			reason:   "missing total attribute",
		},
		{
			name:     "non numeric total",
			pages:    map[int]string{1: `<reviews total="many"><review/></reviews>`},
			wantPage: 1,
			reason:   `invalid total attribute "many"`,
		},
		{
			name:     "two wrappers",
			pages:    map[int]string{1: `<r><reviews total="1"/><reviews total="1"/></r>`},
			wantPage: 1,
			reason:   "more than one <reviews> element",
		},
		{
			name:     "malformed xml",
			pages:    map[int]string{1: `<reviews total="1"><review>`},
			wantPage: 1,
			reason:   "malformed <review> element",
		},
		{
			name: "total missing on later page",
			pages: map[int]string{
				1: testutil.ListResponse(items("a"), 1, 1, 2, false),
				2: testutil.ListResponse(items("b"), 2, 2, 0, true),
			},
			wantPage: 2,
			reason:   "missing total attribute",
		},
		{
			name: "wrapper missing on later page",
			pages: map[int]string{
				1: testutil.ListResponse(items("a"), 1, 1, 2, false),
				2: `<GoodreadsResponse/>`,
			},
			wantPage: 2,
			reason:   "no <reviews> element",
		},
		{
			name: "empty page before total",
			pages: map[int]string{
				1: testutil.ListResponse(items("a"), 1, 1, 5, false),
				2: testutil.ListResponse(nil, 2, 1, 5, false),
			},
			wantPage: 2,
			reason:   "empty page with 1 of 5 items collected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := &fakeFetcher{pages: tt.pages}
			f := newTestFetcher(t, pf, 1)

			_, err := f.FetchAll(context.Background(), Reviews)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *SchemaError", err)
			}
			if se.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", se.Page, tt.wantPage)
			}
			if se.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", se.Reason, tt.reason)
			}
			if pf.opened != pf.closed {
				t.Errorf("opened %d bodies, closed %d", pf.opened, pf.closed)
			}
		})
	}
}

func TestFetchAll_TransportErrorUnchanged(t *testing.T) {
	boom := errors.New("connection reset")
	pf := &fakeFetcher{
		pages: map[int]string{1: testutil.ListResponse(items("a"), 1, 1, 2, false)},
		errs:  map[int]error{2: boom},
	}
	f := newTestFetcher(t, pf, 1)

	got, err := f.FetchAll(context.Background(), Reviews)
	if err != boom {
		t.Fatalf("error = %v, want the transport error itself", err)
	}
	if got != nil {
		t.Errorf("got %d items on failure, want none", len(got))
	}
	if pf.opened != pf.closed {
		t.Errorf("opened %d bodies, closed %d", pf.opened, pf.closed)
	}
}

func TestFetchAll_BodyReadErrorUnchanged(t *testing.T) {
	boom := errors.New("connection reset mid-body")
	tests := []struct {
		name    string
		partial string
	}{
		{name: "inside item", partial: `<reviews total="2"><review><id>a`},
		{name: "between items", partial: `<reviews total="2"><review><id>a</id></review>`},
		{name: "before wrapper", partial: `<GoodreadsResponse>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := &fakeFetcher{bodies: map[int]io.Reader{
				1: io.MultiReader(strings.NewReader(tt.partial), iotest.ErrReader(boom)),
			}}
			f := newTestFetcher(t, pf, 1)

			_, err := f.FetchAll(context.Background(), Reviews)
			if !errors.Is(err, boom) {
				t.Fatalf("error = %v, want the read error", err)
			}
			var se *SchemaError
			if errors.As(err, &se) {
				t.Errorf("read error reported as schema error: %v", se)
			}
			if pf.opened != pf.closed {
				t.Errorf("opened %d bodies, closed %d", pf.opened, pf.closed)
			}
		})
	}
}
