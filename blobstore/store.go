// Package blobstore abstracts the durable byte storage behind snapshots.
//
// The engine treats snapshots as opaque blobs; the medium (filesystem,
// object store) is pluggable. Implementations must make Put atomic: a
// reader never observes a partially written blob.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for opaque, whole-blob storage.
type Store interface {
	// Get reads the entire blob.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes the blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
