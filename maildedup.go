// Package maildedup provides an embedded duplicate-detection and
// classification engine for email pipelines.
//
// An Engine pairs an exact nearest-neighbor index over email embeddings
// with an append-only metadata store. Incoming emails are embedded once,
// checked against committed entries, and either resolved as duplicates of
// an earlier email or classified and committed atomically:
//
//	embedder := testutil.NewTextEmbedder(64)
//	engine, err := maildedup.New(embedder, classify.NewRules(),
//	    maildedup.WithThreshold(0.95),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer engine.Close()
//
//	result, err := engine.Process(ctx, &model.Email{
//	    Subject:   "Invoice payment request #1",
//	    From:      "billing@acme.example",
//	    Date:      time.Now(),
//	    PlainText: "Please process the attached invoice.",
//	})
//
// Resubmitting the same text then yields result.IsDuplicate == true with
// the original entry's request type, and no new entry is committed.
//
// With persistence configured, committed state survives restarts:
//
//	store, _ := blobstore.NewLocalStore("./data")
//	pm, _ := persistence.NewManager(store)
//	engine, err := maildedup.New(embedder, classifier,
//	    maildedup.WithPersistence(pm),
//	    maildedup.WithFlushPolicy(maildedup.FlushBackground, 5*time.Second),
//	)
package maildedup

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/maildedup/blobstore"
	"github.com/hupe1980/maildedup/classify"
	"github.com/hupe1980/maildedup/embedding"
	"github.com/hupe1980/maildedup/index/flat"
	"github.com/hupe1980/maildedup/model"
	"github.com/hupe1980/maildedup/persistence"
	"github.com/hupe1980/maildedup/record"
)

// Result is the outcome of processing one email.
type Result struct {
	// ID is the committed entry id, or the best match's id for duplicates.
	ID uint64

	// RequestType and Confidence come from the classifier for novel
	// emails. For duplicates the request type is copied from the matched
	// entry and the confidence is the best match's similarity.
	RequestType string
	Confidence  float64

	// IsDuplicate reports whether the email matched a committed entry.
	IsDuplicate bool

	// SimilarMatches lists threshold-passing matches, ordered descending
	// by similarity with ties broken by ascending id. Empty for novel
	// emails.
	SimilarMatches []model.Match
}

// Engine is the top-level duplicate-detection and classification engine.
//
// A single RWMutex guards the (index, record store) pair, so their sizes
// never diverge at an observable quiescent point. Embedding and
// classification run outside the lock; the duplicate check is repeated
// under the write lock before committing, which makes concurrent
// submissions of the same text race-safe: exactly one commits.
type Engine struct {
	mu        sync.RWMutex
	idx       *flat.Index
	records   *record.Store
	det       *DuplicateDetector
	closed    bool
	closeOnce sync.Once

	embedder   embedding.Provider
	classifier classify.Classifier

	pm      *persistence.Manager
	policy  FlushPolicy
	flusher *flusher

	opts    options
	metrics MetricsCollector
	logger  *Logger
}

// New creates an engine. With persistence configured, the previous
// snapshot is restored; a missing snapshot is a normal cold start, while
// an unreadable or corrupt one is discarded with an error log and the
// engine starts empty.
func New(embedder embedding.Provider, classifier classify.Classifier, optFns ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, &ConfigError{Field: "embedder", Reason: "must not be nil"}
	}
	if classifier == nil {
		return nil, &ConfigError{Field: "classifier", Reason: "must not be nil"}
	}

	opts := applyOptions(optFns)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		embedder:   embedder,
		classifier: classifier,
		pm:         opts.persistence,
		policy:     opts.flushPolicy,
		opts:       opts,
		metrics:    opts.metricsCollector,
		logger:     opts.logger,
	}

	if err := e.restore(context.Background()); err != nil {
		return nil, err
	}

	if e.pm != nil && opts.flushPolicy == FlushBackground {
		e.flusher = newFlusher(e.Save, opts.flushMaxDelay, e.logger)
	}

	return e, nil
}

// restore initializes index and store, replaying the snapshot if one
// exists. A missing snapshot is a normal cold start. An unreadable or
// corrupt snapshot is discarded and logged at error level; it is never
// silently truncated to a partial state.
func (e *Engine) restore(ctx context.Context) error {
	dimension := e.embedder.Dimension()
	if dimension <= 0 {
		return &ConfigError{Field: "embedder", Reason: "dimension must be positive"}
	}

	if e.pm != nil {
		idx, records, err := e.loadSnapshot(ctx, dimension)
		if err != nil {
			e.logger.LogRestore(ctx, 0, 0, err)
		} else if idx != nil {
			e.logger.LogRestore(ctx, idx.Len(), idx.NextID(), nil)
			e.idx = idx
			e.records = records
			e.det = NewDuplicateDetector(idx, records, e.opts)
			return nil
		}
	}

	idx, err := flat.New(func(o *flat.Options) {
		o.Dimension = dimension
	})
	if err != nil {
		return translateError(err)
	}

	e.idx = idx
	e.records = record.NewStore()
	e.det = NewDuplicateDetector(e.idx, e.records, e.opts)

	return nil
}

// loadSnapshot replays the persisted snapshot into a fresh index and
// record store. A missing blob returns (nil, nil, nil).
func (e *Engine) loadSnapshot(ctx context.Context, dimension int) (*flat.Index, *record.Store, error) {
	snap, err := e.pm.Load(ctx)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, translateError(err)
	}

	if snap.Dimension != dimension {
		return nil, nil, &CorruptionError{
			Reason: fmt.Sprintf("snapshot dimension %d does not match embedder dimension %d", snap.Dimension, dimension),
		}
	}

	idx, err := flat.New(func(o *flat.Options) {
		o.Dimension = dimension
		o.NextID = snap.NextID
	})
	if err != nil {
		return nil, nil, translateError(err)
	}

	records := record.NewStore()

	for i := range snap.Records {
		rec := &snap.Records[i]
		if err := idx.Restore(rec.ID, rec.Vector); err != nil {
			return nil, nil, &CorruptionError{Reason: fmt.Sprintf("snapshot record %d", rec.ID), cause: err}
		}
		if err := records.Put(rec.ID, rec.Meta); err != nil {
			return nil, nil, &CorruptionError{Reason: fmt.Sprintf("snapshot record %d", rec.ID), cause: err}
		}
	}

	if idx.Len() != records.Len() {
		return nil, nil, &CorruptionError{
			Reason: fmt.Sprintf("index size %d != record store size %d", idx.Len(), records.Len()),
		}
	}

	return idx, records, nil
}

// Process runs one email through the pipeline: embed, check for
// duplicates, and either resolve against the best match or classify and
// commit a new entry.
//
// The commit is all-or-nothing. If embedding, classification, or the
// record append fails, no partial state remains and the email can be
// resubmitted. A failed snapshot write after the commit is logged and
// carried by the next flush; the in-memory commit stands.
func (e *Engine) Process(ctx context.Context, email *model.Email) (*Result, error) {
	start := time.Now()

	result, err := e.process(ctx, email)

	e.metrics.RecordProcess(time.Since(start), err)
	e.logger.LogProcess(ctx, email.From, time.Since(start), err)

	return result, err
}

func (e *Engine) process(ctx context.Context, email *model.Email) (*Result, error) {
	// Embed outside the lock; the provider call dominates latency.
	vector, err := e.embedder.Embed(ctx, email.EmbeddingText())
	if err != nil {
		return nil, &EmbeddingError{cause: err}
	}

	// First check under the read lock: the common duplicate case never
	// blocks concurrent readers.
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrEngineClosed
	}
	matches, err := e.det.Check(ctx, vector, email.From)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if len(matches) > 0 {
		return e.resolveDuplicate(ctx, matches), nil
	}

	// Classify before taking the write lock, so a classifier failure
	// never leaves partial state and slow providers do not serialize
	// the engine.
	pred, err := e.classifier.Classify(ctx, email)
	if err != nil {
		return nil, &ClassificationError{cause: err}
	}

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}

	// Re-check: another writer may have committed a matching entry
	// between lock releases. Exactly one of N concurrent submissions of
	// the same text commits.
	matches, err = e.det.Check(ctx, vector, email.From)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if len(matches) > 0 {
		e.mu.Unlock()
		return e.resolveDuplicate(ctx, matches), nil
	}

	commitStart := time.Now()

	id, err := e.idx.Insert(ctx, vector)
	if err != nil {
		e.mu.Unlock()
		return nil, translateError(err)
	}

	meta := model.Metadata{
		Subject:         email.Subject,
		From:            email.From,
		Date:            email.Date,
		RequestType:     pred.RequestType,
		Confidence:      pred.Confidence,
		ExtractedFields: maps.Clone(email.ExtractedFields),
	}

	if err := e.records.Put(id, meta); err != nil {
		_ = e.idx.RollbackInsert(id)
		e.mu.Unlock()
		return nil, translateError(err)
	}

	// Freeze the snapshot inside the lock; the write happens outside so
	// storage latency never serializes commits.
	var snap *persistence.Snapshot
	if e.pm != nil && e.policy == FlushSync {
		snap = e.snapshotLocked()
	}

	e.mu.Unlock()

	e.metrics.RecordCommit(pred.RequestType, time.Since(commitStart))
	e.logger.LogCommit(ctx, id, pred.RequestType, pred.Confidence)

	if e.pm != nil && e.policy == FlushBackground {
		e.flusher.markDirty()
	}
	if snap != nil {
		// A failed write is logged and surfaced through metrics; the
		// next snapshot carries this entry.
		_ = e.saveSnapshot(ctx, snap)
	}

	return &Result{
		ID:          id,
		RequestType: pred.RequestType,
		Confidence:  pred.Confidence,
	}, nil
}

// resolveDuplicate builds the duplicate result from threshold matches.
// The request type is copied from the best match, not reclassified; the
// confidence is the match similarity.
func (e *Engine) resolveDuplicate(ctx context.Context, matches []model.Match) *Result {
	best := matches[0]

	e.metrics.RecordDuplicate(best.Similarity)
	e.logger.LogDuplicate(ctx, best.Metadata.ID, best.Similarity)

	return &Result{
		ID:             best.Metadata.ID,
		RequestType:    best.Metadata.RequestType,
		Confidence:     best.Similarity,
		IsDuplicate:    true,
		SimilarMatches: matches,
	}
}

// saveSnapshot writes a frozen snapshot, recording metrics and logging
// the outcome.
func (e *Engine) saveSnapshot(ctx context.Context, snap *persistence.Snapshot) error {
	start := time.Now()
	err := e.pm.Save(ctx, snap)
	e.metrics.RecordSnapshot(time.Since(start), err)
	e.logger.LogSnapshot(ctx, e.pm.Name(), len(snap.Records), err)
	if err != nil {
		return &PersistenceError{Op: "save", cause: err}
	}

	return nil
}

// snapshotLocked copies current state. Callers must hold at least the
// read lock.
func (e *Engine) snapshotLocked() *persistence.Snapshot {
	snap := &persistence.Snapshot{
		Dimension: e.idx.Dimension(),
		NextID:    e.idx.NextID(),
		Records:   make([]persistence.Record, 0, e.idx.Len()),
	}

	for id, vec := range e.idx.Entries() {
		meta, _ := e.records.Get(id)
		vector := make([]float32, len(vec))
		copy(vector, vec)
		snap.Records = append(snap.Records, persistence.Record{ID: id, Vector: vector, Meta: meta})
	}

	return snap
}

// ProcessBatch processes emails concurrently, bounded to limit in-flight
// emails (limit <= 0 means no bound). Results are positionally aligned
// with the input. The first error cancels outstanding work.
func (e *Engine) ProcessBatch(ctx context.Context, emails []*model.Email, limit int) ([]*Result, error) {
	results := make([]*Result, len(emails))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, email := range emails {
		g.Go(func() error {
			result, err := e.Process(ctx, email)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Save writes a snapshot of current state. It is a no-op without
// persistence configured.
func (e *Engine) Save(ctx context.Context) error {
	if e.pm == nil {
		return nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrEngineClosed
	}
	snap := e.snapshotLocked()
	e.mu.RUnlock()

	return e.saveSnapshot(ctx, snap)
}

// Clear removes all entries while preserving the id counter, so ids from
// cleared entries are never reassigned. The empty state is persisted
// immediately when persistence is configured.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	removed := e.idx.Len()

	idx, err := flat.New(func(o *flat.Options) {
		o.Dimension = e.idx.Dimension()
		o.NextID = e.idx.NextID()
	})
	if err != nil {
		e.mu.Unlock()
		return translateError(err)
	}

	e.idx = idx
	e.records = record.NewStore()
	e.det = NewDuplicateDetector(e.idx, e.records, e.opts)

	var snap *persistence.Snapshot
	if e.pm != nil {
		snap = e.snapshotLocked()
	}

	e.mu.Unlock()

	e.logger.LogClear(ctx, removed)

	if snap != nil {
		return e.saveSnapshot(ctx, snap)
	}

	return nil
}

// Len returns the number of committed entries.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Len()
}

// Stats is a point-in-time view of engine state.
type Stats struct {
	Entries   int
	NextID    uint64
	Dimension int
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Entries:   e.idx.Len(),
		NextID:    e.idx.NextID(),
		Dimension: e.idx.Dimension(),
	}
}

// Close stops background flushing, persisting pending state first.
// Subsequent operations return ErrEngineClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		// Stop the flusher before marking closed so its final flush can
		// still read state.
		if e.flusher != nil {
			e.flusher.close()
		}

		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
	})

	return nil
}
