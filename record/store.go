// Package record provides the append-only metadata store paired with the
// similarity index. Each committed embedding id maps to exactly one
// metadata record.
package record

import (
	"fmt"
	"iter"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/maildedup/model"
)

// ErrDuplicateID is returned when a record id is put twice.
// Records are append-only; corrections are modeled as new entries.
type ErrDuplicateID struct {
	ID uint64
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("record %d already present", e.ID)
}

// Store is an ordered, append-only id -> metadata mapping.
//
// Store methods are not synchronized; the engine guards the
// (index, store) pair with a single lock so the two can never diverge.
// The exception is the sender/type bitmaps, which are guarded locally so
// filter funcs handed to concurrent readers stay safe.
type Store struct {
	byID  map[uint64]model.Metadata
	order []uint64

	mu     sync.RWMutex
	byFrom map[string]*roaring64.Bitmap
	byType map[string]*roaring64.Bitmap
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[uint64]model.Metadata),
		byFrom: make(map[string]*roaring64.Bitmap),
		byType: make(map[string]*roaring64.Bitmap),
	}
}

// Put appends a record. The id must not be present.
func (s *Store) Put(id uint64, meta model.Metadata) error {
	if _, ok := s.byID[id]; ok {
		return &ErrDuplicateID{ID: id}
	}
	meta.ID = id
	s.byID[id] = meta
	s.order = append(s.order, id)
	s.indexAdd(id, meta)
	return nil
}

// Get returns the record for id, if present.
func (s *Store) Get(id uint64) (model.Metadata, bool) {
	meta, ok := s.byID[id]
	return meta, ok
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.order) }

// All iterates over (id, metadata) pairs in insertion order.
// The iterator is restartable and finite.
func (s *Store) All() iter.Seq2[uint64, model.Metadata] {
	return func(yield func(uint64, model.Metadata) bool) {
		for _, id := range s.order {
			if !yield(id, s.byID[id]) {
				return
			}
		}
	}
}

// Delete removes the most recently appended record, undoing a Put that
// could not be completed. The store is otherwise append-only.
func (s *Store) Delete(id uint64) error {
	n := len(s.order)
	if n == 0 || s.order[n-1] != id {
		return fmt.Errorf("record %d is not the most recent entry", id)
	}
	meta := s.byID[id]
	delete(s.byID, id)
	s.order = s.order[:n-1]
	s.indexRemove(id, meta)
	return nil
}

// FilterFrom returns a filter func matching records committed with the given
// sender address. Backed by a bitmap so per-candidate checks are O(1).
func (s *Store) FilterFrom(addr string) func(id uint64) bool {
	s.mu.RLock()
	bm := s.byFrom[addr]
	var frozen *roaring64.Bitmap
	if bm != nil {
		frozen = bm.Clone()
	}
	s.mu.RUnlock()

	return func(id uint64) bool {
		return frozen != nil && frozen.Contains(id)
	}
}

// FilterType returns a filter func matching records committed with the given
// request type.
func (s *Store) FilterType(requestType string) func(id uint64) bool {
	s.mu.RLock()
	bm := s.byType[requestType]
	var frozen *roaring64.Bitmap
	if bm != nil {
		frozen = bm.Clone()
	}
	s.mu.RUnlock()

	return func(id uint64) bool {
		return frozen != nil && frozen.Contains(id)
	}
}

func (s *Store) indexAdd(id uint64, meta model.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bm := s.byFrom[meta.From]
	if bm == nil {
		bm = roaring64.New()
		s.byFrom[meta.From] = bm
	}
	bm.Add(id)

	bm = s.byType[meta.RequestType]
	if bm == nil {
		bm = roaring64.New()
		s.byType[meta.RequestType] = bm
	}
	bm.Add(id)
}

func (s *Store) indexRemove(id uint64, meta model.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bm := s.byFrom[meta.From]; bm != nil {
		bm.Remove(id)
	}
	if bm := s.byType[meta.RequestType]; bm != nil {
		bm.Remove(id)
	}
}
