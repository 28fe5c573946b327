package model

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DateLayout is the API's timestamp format, e.g. "Wed Jan 01 12:00:00 +0000 2020".
// The day is always two digits; "Wed Jan 1 ..." does not parse.
const DateLayout = "Mon Jan 02 15:04:05 -0700 2006"

var (
	reviewsParsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goodreads_reviews_parsed_total",
		Help: "Total reviews parsed from export documents",
	})

	parseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goodreads_review_parse_failures_total",
		Help: "Total export document parse failures by kind",
	}, []string{"kind"})
)

// ParseDate parses s with DateLayout. The numeric offset is mandatory, so the
// result always carries its zone.
func ParseDate(s string) (time.Time, error) {
	return parseDate("", s)
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &FormatError{Field: field, Value: s, Err: err}
	}
	return t, nil
}

// ParseReviews returns every <review> element of the document, at any depth,
// as a lazily parsed sequence in document order. The document is decoded
// again each time the sequence is ranged over.
//
// The first failure is yielded with a zero Review and ends the sequence.
func ParseReviews(data []byte) iter.Seq2[Review, error] {
	return func(yield func(Review, error) bool) {
		parseDocument(bytes.NewReader(data), yield)
	}
}

// parseDocument drives yield over the reviews of one document.
func parseDocument(r io.Reader, yield func(Review, error) bool) {
	root, err := readTree(r)
	if err != nil {
		parseFailuresTotal.WithLabelValues(errorKind(err)).Inc()
		yield(Review{}, err)
		return
	}

	for i, e := range root.descendants("review") {
		review, err := parseReview(e)
		if err != nil {
			parseFailuresTotal.WithLabelValues(errorKind(err)).Inc()
			yield(Review{}, fmt.Errorf("review %d: %w", i+1, err))
			return
		}
		reviewsParsedTotal.Inc()
		if !yield(review, nil) {
			return
		}
	}
}

// parseReview builds one Review from a <review> subtree.
func parseReview(r *node) (Review, error) {
	idElem, err := oneElement(r, "id")
	if err != nil {
		return Review{}, err
	}
	if idElem.text == "" {
		return Review{}, &CardinalityError{Field: "id", Err: ErrEmpty}
	}
	rid := idElem.text

	book, err := oneElement(r, "book")
	if err != nil {
		return Review{}, err
	}
	title, err := oneText(book, "title")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: book: %w", rid, err)
	}
	authors := manyText(book, "authors/author/name")

	// Older exports carry no book id; the review id stands in for it.
	bid, ok, err := optionalText(book, "id")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: book: %w", rid, err)
	}
	if !ok {
		bid = rid
	}
	isbn, err := nillableText(book, "isbn")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: book: %w", rid, err)
	}
	isbn13, err := nillableText(book, "isbn13")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: book: %w", rid, err)
	}

	dateAdded, err := optionalDate(r, "date_added")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", rid, err)
	}
	started, err := optionalDate(r, "started_at")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", rid, err)
	}
	read, err := optionalDate(r, "read_at")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", rid, err)
	}

	shelves, err := manyAttr(r, "shelves/shelf", "name")
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", rid, err)
	}

	b := Book{
		ID:          bid,
		Title:       title,
		Authors:     authors,
		Shelves:     shelves,
		ISBN:        isbn,
		ISBN13:      isbn13,
		DateStarted: started,
		DateRead:    read,
	}
	if dateAdded != nil {
		b.DateAdded = *dateAdded
	}
	b, err = NewBook(b)
	if err != nil {
		return Review{}, fmt.Errorf("review %s: %w", rid, err)
	}

	return Review{ID: rid, Book: b}, nil
}

// optionalDate reads a zero-or-one date field.
func optionalDate(n *node, path string) (*time.Time, error) {
	s, ok, err := optionalText(n, path)
	if err != nil || !ok {
		return nil, err
	}
	t, err := parseDate(path, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nillableText reads a zero-or-one text field the API may mark nil="true".
func nillableText(n *node, path string) (string, error) {
	for _, e := range n.find(path) {
		if v, _ := e.attr("nil"); v == "true" {
			return "", nil
		}
	}
	s, _, err := optionalText(n, path)
	return s, err
}
