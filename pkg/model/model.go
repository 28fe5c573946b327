// Package model turns an aggregated export document into validated Review values.
//
// Every field is read through an accessor that declares its cardinality:
// exactly one, zero or one, or zero or more. A field that resolves otherwise
// aborts the whole parse; there is no best-effort mode that skips a bad review.
package model

import "time"

// Book is one title on the user's shelves.
type Book struct {
	ID      string
	Title   string
	Authors []string
	Shelves []string

	// ISBN and ISBN13 are empty when the API reports them as nil.
	ISBN   string
	ISBN13 string

	DateAdded time.Time

	// DateStarted and DateRead are nil when the book was not started or not finished.
	DateStarted *time.Time
	DateRead    *time.Time
}

// NewBook validates construction-time invariants.
func NewBook(b Book) (Book, error) {
	if b.DateAdded.IsZero() {
		return Book{}, &MissingFieldError{Field: "date_added"}
	}
	return b, nil
}

// Review is one review record. It owns its Book.
type Review struct {
	ID   string
	Book Book
}
