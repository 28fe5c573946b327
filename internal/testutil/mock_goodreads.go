// Package testutil provides a fake Goodreads API and review fixtures for tests.
package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReviewListPath is the path the exporter requests for the review collection.
const ReviewListPath = "/review/list.xml"

// MockGoodreads is a paged review/list endpoint backed by a slice of review fragments.
type MockGoodreads struct {
	server *httptest.Server

	mu        sync.Mutex
	reviews   []string
	total     *int
	omitTotal bool
	key       string
	handlers  map[string]http.HandlerFunc
	requests  []url.Values
}

// NewMockGoodreads starts the mock server.
func NewMockGoodreads() *MockGoodreads {
	mock := &MockGoodreads{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, r.URL.Query())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		if r.URL.Path == ReviewListPath {
			mock.reviewList(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the server root with a trailing slash, like client.DefaultBaseURL.
func (m *MockGoodreads) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockGoodreads) Close() {
	m.server.Close()
}

// SetReviews replaces the served review fragments.
func (m *MockGoodreads) SetReviews(reviews []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = reviews
}

// SetDeclaredTotal makes every page declare n instead of the real count.
func (m *MockGoodreads) SetDeclaredTotal(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = &n
}

// OmitTotal drops the total attribute from every page.
func (m *MockGoodreads) OmitTotal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitTotal = true
}

// RequireKey makes requests with any other key fail with 401.
func (m *MockGoodreads) RequireKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
}

// SetHandler overrides the handler for one path.
func (m *MockGoodreads) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Requests returns the query of every request received, in order.
func (m *MockGoodreads) Requests() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]url.Values, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestedPages returns the page parameter of every request received, in order.
func (m *MockGoodreads) RequestedPages() []int {
	var pages []int
	for _, q := range m.Requests() {
		n, _ := strconv.Atoi(q.Get("page"))
		pages = append(pages, n)
	}
	return pages
}

func (m *MockGoodreads) reviewList(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reviews := m.reviews
	total := len(reviews)
	if m.total != nil {
		total = *m.total
	}
	omitTotal := m.omitTotal
	key := m.key
	m.mu.Unlock()

	q := r.URL.Query()
	if key != "" && q.Get("key") != key {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Invalid API key."))
		return
	}

	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 {
		perPage = 20
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}

	from := (page - 1) * perPage
	if from > len(reviews) {
		from = len(reviews)
	}
	to := from + perPage
	if to > len(reviews) {
		to = len(reviews)
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprint(w, ListResponse(reviews[from:to], from+1, to, total, omitTotal))
}

// ListResponse renders one review/list page the way the API does.
func ListResponse(items []string, start, end, total int, omitTotal bool) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString("<GoodreadsResponse>\n")
	b.WriteString("  <Request>\n    <authentication>true</authentication>\n    <method><![CDATA[review_list]]></method>\n  </Request>\n")
	if omitTotal {
		fmt.Fprintf(&b, "  <reviews start=\"%d\" end=\"%d\">\n", start, end)
	} else {
		fmt.Fprintf(&b, "  <reviews start=\"%d\" end=\"%d\" total=\"%d\">\n", start, end, total)
	}
	for _, item := range items {
		b.WriteString(item)
		b.WriteString("\n")
	}
	b.WriteString("  </reviews>\n</GoodreadsResponse>\n")
	return b.String()
}

// DateLayout is the API's timestamp format.
const DateLayout = "Mon Jan 02 15:04:05 -0700 2006"

// ReviewFixture is the data of one review fragment.
type ReviewFixture struct {
	ID        string
	BookID    string
	ISBN      string
	Title     string
	Authors   []string
	Shelves   []string
	DateAdded string
	StartedAt string
	ReadAt    string
}

// NewReviewFixture returns a deterministic, fully valid review. Even numbered
// fixtures are finished, odd ones are only started.
func NewReviewFixture(i int) ReviewFixture {
	added := time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	f := ReviewFixture{
		ID:        strconv.Itoa(1000 + i),
		BookID:    strconv.Itoa(5000 + i),
		ISBN:      fmt.Sprintf("0%09d", i),
		Title:     fmt.Sprintf("Book %d", i),
		Authors:   []string{fmt.Sprintf("Author %d", i)},
		Shelves:   []string{"to-read"},
		DateAdded: added.Format(DateLayout),
		StartedAt: added.Add(24 * time.Hour).Format(DateLayout),
	}
	if i%2 == 0 {
		f.Shelves = []string{"read", "favorites"}
		f.ReadAt = added.Add(72 * time.Hour).Format(DateLayout)
	}
	return f
}

// XML renders the fixture as a <review> element. Absent dates are emitted as
// empty elements, which is what the API does.
func (f ReviewFixture) XML() string {
	var b strings.Builder
	b.WriteString("<review>\n")
	fmt.Fprintf(&b, "  <id>%s</id>\n", html.EscapeString(f.ID))
	b.WriteString("  <book>\n")
	if f.BookID != "" {
		fmt.Fprintf(&b, "    <id type=\"integer\">%s</id>\n", html.EscapeString(f.BookID))
	}
	if f.ISBN != "" {
		fmt.Fprintf(&b, "    <isbn>%s</isbn>\n", f.ISBN)
	} else {
		b.WriteString("    <isbn nil=\"true\"/>\n")
	}
	fmt.Fprintf(&b, "    <title>%s</title>\n", html.EscapeString(f.Title))
	b.WriteString("    <authors>\n")
	for i, a := range f.Authors {
		fmt.Fprintf(&b, "      <author><id>%d</id><name>%s</name></author>\n", 900+i, html.EscapeString(a))
	}
	b.WriteString("    </authors>\n")
	b.WriteString("  </book>\n")
	b.WriteString("  <rating>0</rating>\n")
	b.WriteString("  <shelves>\n")
	for _, s := range f.Shelves {
		fmt.Fprintf(&b, "    <shelf name=\"%s\" exclusive=\"false\" />\n", html.EscapeString(s))
	}
	b.WriteString("  </shelves>\n")
	fmt.Fprintf(&b, "  <started_at>%s</started_at>\n", f.StartedAt)
	fmt.Fprintf(&b, "  <read_at>%s</read_at>\n", f.ReadAt)
	if f.DateAdded != "" {
		fmt.Fprintf(&b, "  <date_added>%s</date_added>\n", f.DateAdded)
	}
	b.WriteString("</review>")
	return b.String()
}

// ReviewFragments returns n fixture fragments, numbered from 0.
func ReviewFragments(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = NewReviewFixture(i).XML()
	}
	return out
}

// ExportDocument wraps fragments the way pagination.Exporter does.
func ExportDocument(fragments []string) string {
	var b strings.Builder
	b.WriteString("<export>\n<reviews>\n")
	for _, f := range fragments {
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("</reviews>\n</export>\n")
	return b.String()
}
