package persistence

import (
	"errors"
	"fmt"

	"github.com/hupe1980/maildedup/model"
)

const (
	// MagicNumber identifies snapshot blobs (ASCII: "MDD1").
	MagicNumber = 0x4D444431
	// Version is the current snapshot format version.
	Version = 0x00010000
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
)

// Header describes the snapshot payload that follows it.
type Header struct {
	Dimension  uint32
	NextID     uint64
	EntryCount uint64
}

// Record is one persisted entry: the embedding vector and the metadata
// stored under the same id.
type Record struct {
	ID     uint64         `json:"id"`
	Vector []float32      `json:"vector"`
	Meta   model.Metadata `json:"meta"`
}

// Snapshot is a full, point-in-time copy of engine state.
type Snapshot struct {
	Dimension int
	NextID    uint64
	Records   []Record
}

// CorruptionError is returned when a snapshot fails structural or
// checksum validation during load.
type CorruptionError struct {
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt snapshot: %s", e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption returns true if err is a snapshot corruption error.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
