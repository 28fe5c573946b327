package model

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ExpandSources turns a --source argument into candidate paths, sorted.
// The pattern is globbed only when it contains '*' and noGlob is false.
func ExpandSources(pattern string, noGlob bool) ([]string, error) {
	if !strings.Contains(pattern, "*") || noGlob {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", pattern, err)
	}
	slices.Sort(matches)
	return matches, nil
}

// DAL reads reviews from the newest of several export documents.
type DAL struct {
	source string
	logger zerolog.Logger
}

// NewDAL selects the lexicographically greatest path among sources; with
// dated file names that is the most recent export. Other sources are never read.
func NewDAL(sources []string) (*DAL, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no export documents given")
	}
	d := &DAL{
		source: slices.Max(sources),
		logger: log.With().Str("component", "dal").Logger(),
	}
	d.logger.Debug().
		Int("candidates", len(sources)).
		Str("source", d.source).
		Msg("Selected export document")
	return d, nil
}

// Source returns the path Reviews reads.
func (d *DAL) Source() string {
	return d.source
}

// Reviews returns the reviews of the selected document in document order.
// Every range over the sequence opens and decodes the file again.
func (d *DAL) Reviews() iter.Seq2[Review, error] {
	return func(yield func(Review, error) bool) {
		f, err := os.Open(d.source)
		if err != nil {
			yield(Review{}, fmt.Errorf("open export document: %w", err))
			return
		}
		defer f.Close()

		parseDocument(f, yield)
	}
}

// All returns every review of the selected document, or the first error.
func (d *DAL) All() ([]Review, error) {
	var reviews []Review
	for r, err := range d.Reviews() {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.source, err)
		}
		reviews = append(reviews, r)
	}
	d.logger.Info().
		Str("source", d.source).
		Int("reviews", len(reviews)).
		Msg("Loaded reviews")
	return reviews, nil
}

// SortByDateRead orders reviews by Book.DateRead, oldest first. Unfinished
// books sort before every finished one and keep their relative order.
func SortByDateRead(reviews []Review) {
	slices.SortStableFunc(reviews, func(a, b Review) int {
		switch {
		case a.Book.DateRead == nil && b.Book.DateRead == nil:
			return 0
		case a.Book.DateRead == nil:
			return -1
		case b.Book.DateRead == nil:
			return 1
		}
		return a.Book.DateRead.Compare(*b.Book.DateRead)
	})
}
