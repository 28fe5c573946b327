package model

import "errors"

var (
	// ErrEmpty is returned by The for an empty sequence.
	ErrEmpty = errors.New("expected exactly one value, got none")

	// ErrInconsistent is returned by The when two values of the sequence differ.
	ErrInconsistent = errors.New("expected exactly one value, got conflicting values")
)

// The returns the single distinct value of items.
//
// Repeated values are tolerated as long as every one of them equals the
// first; anything else is a data integrity problem and never resolved by
// picking one.
func The[T comparable](items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrEmpty
	}
	first := items[0]
	for _, it := range items[1:] {
		if it != first {
			return zero, ErrInconsistent
		}
	}
	return first, nil
}
