// Package index defines the similarity index contract and its error types.
package index

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty embedding is inserted or queried.
	ErrEmptyVector = errors.New("empty vector")
)

// ErrDimensionMismatch is returned when an embedding does not match the
// index dimension. Mismatches are hard errors, never padded or truncated.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension is returned when an index is created with a
// non-positive dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrEntryNotFound is returned when an id is not present in the index.
type ErrEntryNotFound struct {
	ID uint64
}

func (e *ErrEntryNotFound) Error() string {
	return fmt.Sprintf("entry %d not found", e.ID)
}

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	// ID is the identifier of the committed entry.
	ID uint64

	// Distance is the squared L2 distance between the query and the entry.
	Distance float32
}
