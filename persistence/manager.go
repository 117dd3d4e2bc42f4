// Package persistence provides atomic snapshot save and restore over a
// blob store.
//
// A snapshot is a single self-describing blob: envelope with magic,
// version, compression and checksum, and a codec-encoded body holding the
// id counter and every entry. Writes go through the blob store's atomic
// Put, so a reader observes either the previous snapshot or the new one.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/maildedup/blobstore"
	"github.com/hupe1980/maildedup/codec"
)

// ErrManagerClosed is returned when operations are attempted on a closed manager.
var ErrManagerClosed = errors.New("persistence manager is closed")

// ManagerOptions configures the persistence manager.
type ManagerOptions struct {
	// Name is the blob name snapshots are written to.
	Name string

	// Codec serializes snapshot records. Defaults to codec.Default.
	Codec codec.Codec

	// Compression names the compressor for the snapshot body.
	// Defaults to CompressionZstd.
	Compression string
}

// Manager coordinates snapshot persistence against a blob store.
//
// The Manager is safe for concurrent use. Saves are serialized so two
// concurrent Save calls cannot interleave their blob writes.
type Manager struct {
	store       blobstore.Store
	name        string
	codec       codec.Codec
	compression Compressor

	mu         sync.Mutex
	closed     bool
	lastNextID uint64
}

// NewManager creates a new persistence manager writing to the given store.
func NewManager(store blobstore.Store, optFns ...func(o *ManagerOptions)) (*Manager, error) {
	opts := ManagerOptions{
		Name:        "snapshot.bin",
		Codec:       codec.Default,
		Compression: CompressionZstd,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if store == nil {
		return nil, errors.New("persistence: store must not be nil")
	}
	if opts.Name == "" {
		return nil, errors.New("persistence: snapshot name must not be empty")
	}

	comp, err := CompressorByName(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:       store,
		name:        opts.Name,
		codec:       opts.Codec,
		compression: comp,
	}, nil
}

// Name returns the blob name snapshots are written to.
func (pm *Manager) Name() string {
	return pm.name
}

// Save writes a snapshot atomically. A snapshot whose id counter is
// behind one already written this session is skipped, so concurrent
// post-commit writes landing out of order never replace newer durable
// state with older.
func (pm *Manager) Save(ctx context.Context, snap *Snapshot) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrManagerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if snap.NextID < pm.lastNextID {
		return nil
	}

	data, err := Encode(snap, pm.codec, pm.compression)
	if err != nil {
		return err
	}

	if err := pm.store.Put(ctx, pm.name, data); err != nil {
		return fmt.Errorf("persistence: snapshot write failed: %w", err)
	}

	pm.lastNextID = snap.NextID

	return nil
}

// Load reads and validates the current snapshot.
//
// A missing snapshot returns blobstore.ErrNotFound so callers can
// distinguish a cold start from a corrupt one.
func (pm *Manager) Load(ctx context.Context) (*Snapshot, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil, ErrManagerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := pm.store.Get(ctx, pm.name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("persistence: snapshot read failed: %w", err)
	}

	return Decode(data)
}

// Delete removes the current snapshot, if any.
func (pm *Manager) Delete(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrManagerClosed
	}

	return pm.store.Delete(ctx, pm.name)
}

// Close shuts down the persistence manager. Subsequent operations return
// ErrManagerClosed.
func (pm *Manager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.closed = true

	return nil
}
