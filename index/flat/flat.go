// Package flat provides an exact nearest-neighbor index over email embeddings.
package flat

import (
	"container/heap"
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/maildedup/distance"
	"github.com/hupe1980/maildedup/index"
)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all inserts and searches.
	Dimension int

	// NextID seeds the monotonic id counter. Used when restoring from a
	// snapshot so that ids are never reused across restarts.
	NextID uint64
}

// entry pairs a committed id with its embedding. Entries are immutable
// after insertion.
type entry struct {
	id  uint64
	vec []float32
}

// indexState holds the immutable entry slice for lock-free reads.
type indexState struct {
	entries []entry
}

// Index is an exact (brute-force) similarity index over fixed-dimension
// embeddings. It uses a copy-on-write pattern: readers load an immutable
// state atomically and never observe a torn insert.
type Index struct {
	state   atomic.Pointer[indexState]
	writeMu sync.Mutex // serializes writes only
	nextID  atomic.Uint64

	dimension int
}

// New creates a new flat index.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: opts.Dimension}
	}

	idx := &Index{dimension: opts.Dimension}
	idx.nextID.Store(opts.NextID)
	idx.state.Store(&indexState{entries: make([]entry, 0)})

	return idx, nil
}

// Dimension returns the fixed embedding dimension.
func (idx *Index) Dimension() int { return idx.dimension }

// Len returns the number of committed entries.
func (idx *Index) Len() int {
	return len(idx.state.Load().entries)
}

// NextID returns the id the next insert will be assigned.
// The counter is monotonic and never reused, even after rollbacks.
func (idx *Index) NextID() uint64 {
	return idx.nextID.Load()
}

// Insert appends an embedding and returns its assigned id.
// The embedding is copied; callers may reuse the slice.
func (idx *Index) Insert(ctx context.Context, v []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, index.ErrEmptyVector
	}
	if len(v) != idx.dimension {
		return 0, &index.ErrDimensionMismatch{Expected: idx.dimension, Actual: len(v)}
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	id := idx.nextID.Load()
	idx.nextID.Store(id + 1)

	vec := make([]float32, len(v))
	copy(vec, v)

	old := idx.state.Load()
	entries := make([]entry, len(old.entries), len(old.entries)+1)
	copy(entries, old.entries)
	entries = append(entries, entry{id: id, vec: vec})

	idx.state.Store(&indexState{entries: entries})
	return id, nil
}

// Restore appends an embedding at an explicit id during snapshot load.
// The id counter is advanced past the restored id.
func (idx *Index) Restore(id uint64, v []float32) error {
	if len(v) == 0 {
		return index.ErrEmptyVector
	}
	if len(v) != idx.dimension {
		return &index.ErrDimensionMismatch{Expected: idx.dimension, Actual: len(v)}
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	vec := make([]float32, len(v))
	copy(vec, v)

	old := idx.state.Load()
	entries := make([]entry, len(old.entries), len(old.entries)+1)
	copy(entries, old.entries)
	entries = append(entries, entry{id: id, vec: vec})
	idx.state.Store(&indexState{entries: entries})

	if next := idx.nextID.Load(); id >= next {
		idx.nextID.Store(id + 1)
	}
	return nil
}

// RollbackInsert removes the entry with the given id if and only if it is the
// most recently inserted one. It exists for the commit-abort path; the index
// is otherwise append-only. The id counter is not rewound, so rolled-back ids
// are never reassigned.
func (idx *Index) RollbackInsert(id uint64) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	old := idx.state.Load()
	n := len(old.entries)
	if n == 0 || old.entries[n-1].id != id {
		return &index.ErrEntryNotFound{ID: id}
	}

	entries := make([]entry, n-1)
	copy(entries, old.entries[:n-1])
	idx.state.Store(&indexState{entries: entries})
	return nil
}

// Search performs an exact k-nearest-neighbor search by squared L2 distance.
// Results are ordered ascending by distance, ties broken by ascending id.
// An empty index yields an empty result.
func (idx *Index) Search(ctx context.Context, q []float32, k int) ([]index.SearchResult, error) {
	return idx.SearchFilter(ctx, q, k, nil)
}

// SearchFilter is Search restricted to entries for which keep returns true.
// A nil keep matches everything.
func (idx *Index) SearchFilter(ctx context.Context, q []float32, k int, keep func(id uint64) bool) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(q) != idx.dimension {
		return nil, &index.ErrDimensionMismatch{Expected: idx.dimension, Actual: len(q)}
	}

	st := idx.state.Load()
	if len(st.entries) == 0 {
		return nil, nil
	}

	top := &maxHeap{}
	heap.Init(top)

	for _, e := range st.entries {
		if keep != nil && !keep(e.id) {
			continue
		}

		d := distance.SquaredL2(q, e.vec)

		if top.Len() < k {
			heap.Push(top, index.SearchResult{ID: e.id, Distance: d})
			continue
		}
		if worse(index.SearchResult{ID: e.id, Distance: d}, (*top)[0]) {
			continue
		}
		heap.Pop(top)
		heap.Push(top, index.SearchResult{ID: e.id, Distance: d})
	}

	results := make([]index.SearchResult, top.Len())
	copy(results, *top)
	sort.Slice(results, func(i, j int) bool {
		return worse(results[j], results[i])
	})
	return results, nil
}

// Entries iterates over (id, embedding) pairs in insertion order.
// The yielded slices alias index memory and must not be modified.
func (idx *Index) Entries() iter.Seq2[uint64, []float32] {
	st := idx.state.Load()
	return func(yield func(uint64, []float32) bool) {
		for _, e := range st.entries {
			if !yield(e.id, e.vec) {
				return
			}
		}
	}
}

// worse reports whether a ranks strictly after b: larger distance, or equal
// distance with larger id. Earliest-inserted wins ties deterministically.
func worse(a, b index.SearchResult) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// maxHeap keeps the current top-k with the worst candidate on top.
type maxHeap []index.SearchResult

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any) { *h = append(*h, x.(index.SearchResult)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
