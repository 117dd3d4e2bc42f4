package maildedup

import (
	"errors"
	"fmt"

	"github.com/hupe1980/maildedup/index"
	"github.com/hupe1980/maildedup/persistence"
)

var (
	// ErrEngineClosed is returned when operations are attempted on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNotFound is returned when an entry is not found.
	ErrNotFound = errors.New("not found")
)

// EmbeddingError indicates the embedding provider failed. No state was
// mutated; the email can be resubmitted.
type EmbeddingError struct {
	cause error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.cause)
}

func (e *EmbeddingError) Unwrap() error { return e.cause }

// ClassificationError indicates the classifier failed. No state was
// mutated; the email can be resubmitted.
type ClassificationError struct {
	cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.cause)
}

func (e *ClassificationError) Unwrap() error { return e.cause }

// PersistenceError indicates a snapshot save or load failed.
type PersistenceError struct {
	Op    string
	cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.cause)
}

func (e *PersistenceError) Unwrap() error { return e.cause }

// CorruptionError indicates loaded state failed validation: a bad
// snapshot, or an index/store size divergence.
type CorruptionError struct {
	Reason string
	cause  error
}

func (e *CorruptionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("state corruption: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("state corruption: %s", e.Reason)
}

func (e *CorruptionError) Unwrap() error { return e.cause }

// ConfigError indicates an invalid engine configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var enf *index.ErrEntryNotFound
	if errors.As(err, &enf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var ce *persistence.CorruptionError
	if errors.As(err, &ce) {
		return &CorruptionError{Reason: ce.Reason, cause: err}
	}

	return err
}
