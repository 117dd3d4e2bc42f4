package maildedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/maildedup/blobstore"
	"github.com/hupe1980/maildedup/model"
	"github.com/hupe1980/maildedup/persistence"
	"github.com/hupe1980/maildedup/testutil"
)

func newTestEngine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()

	optFns = append([]Option{WithDistanceNormalizer(1)}, optFns...)

	engine, err := New(
		testutil.NewTextEmbedder(64),
		&testutil.StaticClassifier{Prediction: model.Prediction{RequestType: "INVOICE_PAYMENT", Confidence: 0.78}},
		optFns...,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func invoiceEmail() *model.Email {
	return &model.Email{
		Subject:   "Invoice payment request #1",
		From:      "billing@acme.example",
		Date:      time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		PlainText: "Please process the attached invoice for payment.",
	}
}

func greetingEmail() *model.Email {
	return &model.Email{
		Subject:   "Completely unrelated greeting",
		From:      "friend@other.example",
		Date:      time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		PlainText: "Hope you are doing well, long time no see!",
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("NovelThenDuplicate", func(t *testing.T) {
		engine := newTestEngine(t)

		first, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.False(t, first.IsDuplicate)
		assert.Equal(t, "INVOICE_PAYMENT", first.RequestType)
		assert.Equal(t, 1, engine.Len())

		second, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.True(t, second.IsDuplicate)
		assert.GreaterOrEqual(t, second.SimilarMatches[0].Similarity, 0.99)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, engine.Len())
	})

	t.Run("DuplicateCopiesRequestType", func(t *testing.T) {
		engine := newTestEngine(t)

		first, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)

		second, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.Equal(t, first.RequestType, second.RequestType)

		// A duplicate's confidence is the match similarity, not the
		// stored classifier confidence.
		assert.Equal(t, second.SimilarMatches[0].Similarity, second.Confidence)
		assert.InDelta(t, 1.0, second.Confidence, 1e-6)
		assert.NotEqual(t, first.Confidence, second.Confidence)
	})

	t.Run("DistinctEmailsBothCommit", func(t *testing.T) {
		engine := newTestEngine(t)

		a, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		b, err := engine.Process(ctx, greetingEmail())
		require.NoError(t, err)

		assert.False(t, a.IsDuplicate)
		assert.False(t, b.IsDuplicate)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, 2, engine.Len())
	})

	t.Run("ConcreteScenario", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		pm, err := persistence.NewManager(store)
		require.NoError(t, err)

		engine := newTestEngine(t, WithThreshold(0.95), WithPersistence(pm))

		a, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.False(t, a.IsDuplicate)
		assert.Equal(t, 1, engine.Len())

		dup, err := engine.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.True(t, dup.IsDuplicate)
		assert.InDelta(t, 1.0, dup.SimilarMatches[0].Similarity, 1e-6)
		assert.Equal(t, 1, engine.Len())

		b, err := engine.Process(ctx, greetingEmail())
		require.NoError(t, err)
		assert.False(t, b.IsDuplicate)
		assert.Equal(t, 2, engine.Len())

		require.NoError(t, engine.Close())

		// Restart against the same store.
		restarted := newTestEngine(t, WithThreshold(0.95), WithPersistence(pm))
		assert.Equal(t, 2, restarted.Len())

		again, err := restarted.Process(ctx, invoiceEmail())
		require.NoError(t, err)
		assert.True(t, again.IsDuplicate)
		assert.Equal(t, a.ID, again.ID)
	})
}

func TestProcessFailuresLeaveNoState(t *testing.T) {
	ctx := context.Background()

	t.Run("EmbeddingFailure", func(t *testing.T) {
		engine, err := New(
			&testutil.FailingEmbedder{Dim: 64, Err: errors.New("provider down")},
			&testutil.StaticClassifier{},
			WithDistanceNormalizer(1),
		)
		require.NoError(t, err)

		_, err = engine.Process(ctx, invoiceEmail())

		var ee *EmbeddingError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 0, engine.Len())
	})

	t.Run("ClassificationFailure", func(t *testing.T) {
		engine, err := New(
			testutil.NewTextEmbedder(64),
			&testutil.FailingClassifier{Err: errors.New("model down")},
			WithDistanceNormalizer(1),
		)
		require.NoError(t, err)

		_, err = engine.Process(ctx, invoiceEmail())

		var ce *ClassificationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 0, engine.Len())
	})

}

func TestSyncFlushFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: blobstore.NewMemoryStore()}
	pm, err := persistence.NewManager(store)
	require.NoError(t, err)

	engine := newTestEngine(t, WithPersistence(pm))

	store.setFailPuts(true)
	result, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, 1, engine.Len())

	// The failed write left nothing behind.
	_, err = pm.Load(ctx)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	// The in-memory commit still wins the duplicate check.
	dup, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	assert.True(t, dup.IsDuplicate)

	// The next successful flush carries the entry.
	store.setFailPuts(false)
	require.NoError(t, engine.Save(ctx))
	snap, err := pm.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)
}

// failingStore wraps a memory store and fails Puts on demand.
type failingStore struct {
	*blobstore.MemoryStore
	mu       sync.Mutex
	failPuts bool
}

func (f *failingStore) setFailPuts(fail bool) {
	f.mu.Lock()
	f.failPuts = fail
	f.mu.Unlock()
}

func (f *failingStore) Put(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	fail := f.failPuts
	f.mu.Unlock()

	if fail {
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Put(ctx, name, data)
}

func TestThresholdBoundaryInclusive(t *testing.T) {
	ctx := context.Background()

	// With normalizer 100, distance 25 gives similarity exactly 0.75.
	embedder := &fixedEmbedder{
		dim: 2,
		vectors: map[string][]float32{
			"Subject: base\nFrom: a@example.com\n":     {0, 0},
			"Subject: boundary\nFrom: a@example.com\n": {5, 0},
			"Subject: beyond\nFrom: a@example.com\n":   {5.1, 0},
		},
	}

	engine, err := New(embedder,
		&testutil.StaticClassifier{Prediction: model.Prediction{RequestType: "OTHER", Confidence: 0.6}},
		WithThreshold(0.75),
		WithDistanceNormalizer(100),
	)
	require.NoError(t, err)

	base := &model.Email{Subject: "base", From: "a@example.com"}
	boundary := &model.Email{Subject: "boundary", From: "a@example.com"}
	beyond := &model.Email{Subject: "beyond", From: "a@example.com"}

	_, err = engine.Process(ctx, base)
	require.NoError(t, err)

	atThreshold, err := engine.Process(ctx, boundary)
	require.NoError(t, err)
	assert.True(t, atThreshold.IsDuplicate, "similarity exactly at threshold must match")
	assert.InDelta(t, 0.75, atThreshold.SimilarMatches[0].Similarity, 1e-12)

	below, err := engine.Process(ctx, beyond)
	require.NoError(t, err)
	assert.False(t, below.IsDuplicate, "similarity below threshold must not match")
}

// fixedEmbedder maps exact embedding texts to preset vectors.
type fixedEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fixedEmbedder) Dimension() int { return f.dim }

func TestIndexStoreSizesNeverDiverge(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	emails := []*model.Email{
		invoiceEmail(),
		greetingEmail(),
		invoiceEmail(),
		{Subject: "Statement for July", From: "c@example.com", Date: time.Date(2026, 8, 3, 8, 0, 0, 0, time.UTC), PlainText: "please send my statement"},
		greetingEmail(),
	}

	for _, email := range emails {
		_, err := engine.Process(ctx, email)
		require.NoError(t, err)

		stats := engine.Stats()
		assert.Equal(t, stats.Entries, engine.Len())
	}

	assert.Equal(t, 3, engine.Len())
}

func TestConcurrentSameTextCommitsOnce(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	const n = 16

	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = engine.Process(ctx, invoiceEmail())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	committed := 0
	for _, result := range results {
		if !result.IsDuplicate {
			committed++
		}
	}

	assert.Equal(t, 1, committed, "exactly one of n concurrent submissions must commit")
	assert.Equal(t, 1, engine.Len())
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	emails := []*model.Email{invoiceEmail(), greetingEmail(), invoiceEmail()}

	results, err := engine.ProcessBatch(ctx, emails, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, result := range results {
		require.NotNil(t, result)
	}
	assert.Equal(t, 2, engine.Len())
}

func TestScopeBySender(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithScopeBySender(true))

	sameText := func(from string) *model.Email {
		return &model.Email{
			Subject:   "Invoice payment request #1",
			From:      from,
			Date:      time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
			PlainText: "Please process the attached invoice for payment.",
		}
	}

	a, err := engine.Process(ctx, sameText("alice@example.com"))
	require.NoError(t, err)
	assert.False(t, a.IsDuplicate)

	// Identical body from another sender is out of scope.
	b, err := engine.Process(ctx, sameText("bob@example.com"))
	require.NoError(t, err)
	assert.False(t, b.IsDuplicate)
	assert.Equal(t, 2, engine.Len())

	// Same sender resubmitting is a duplicate.
	dup, err := engine.Process(ctx, sameText("alice@example.com"))
	require.NoError(t, err)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, a.ID, dup.ID)
}

func TestExtractedFieldsSurviveCommitAndRestart(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	pm, err := persistence.NewManager(store)
	require.NoError(t, err)

	fields := map[string]string{
		"invoice_number": "4521",
		"amount":         "312.50",
	}

	engine := newTestEngine(t, WithPersistence(pm))

	email := invoiceEmail()
	email.ExtractedFields = fields

	first, err := engine.Process(ctx, email)
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)

	dup, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	require.True(t, dup.IsDuplicate)
	assert.Equal(t, fields, dup.SimilarMatches[0].Metadata.ExtractedFields)

	require.NoError(t, engine.Close())

	restarted := newTestEngine(t, WithPersistence(pm))

	again, err := restarted.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	require.True(t, again.IsDuplicate)
	assert.Equal(t, fields, again.SimilarMatches[0].Metadata.ExtractedFields)
}

func TestClearPreservesIDCounter(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	first, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.ID)

	require.NoError(t, engine.Clear(ctx))
	assert.Equal(t, 0, engine.Len())

	second, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	assert.False(t, second.IsDuplicate)
	assert.Equal(t, uint64(1), second.ID, "cleared ids must never be reassigned")
}

func TestBackgroundFlush(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	pm, err := persistence.NewManager(store)
	require.NoError(t, err)

	engine := newTestEngine(t,
		WithPersistence(pm),
		WithFlushPolicy(FlushBackground, 50*time.Millisecond),
	)

	_, err = engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)

	// Close flushes pending state before stopping.
	require.NoError(t, engine.Close())

	snap, err := pm.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Records, 1)
}

func TestCorruptSnapshotDiscarded(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	pm, err := persistence.NewManager(store)
	require.NoError(t, err)

	engine := newTestEngine(t, WithPersistence(pm))
	_, err = engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	data, err := store.Get(ctx, pm.Name())
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, store.Put(ctx, pm.Name(), data))

	reopened := newTestEngine(t, WithPersistence(pm))
	require.Equal(t, 0, reopened.Len())

	result, err := reopened.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	require.False(t, result.IsDuplicate)
}

func TestConfigValidation(t *testing.T) {
	embedder := testutil.NewTextEmbedder(8)
	classifier := &testutil.StaticClassifier{}

	tests := []struct {
		name   string
		option Option
	}{
		{name: "ZeroTopK", option: WithTopK(0)},
		{name: "NegativeThreshold", option: WithThreshold(-0.1)},
		{name: "ThresholdAboveOne", option: WithThreshold(1.1)},
		{name: "ZeroNormalizer", option: WithDistanceNormalizer(0)},
		{name: "BackgroundWithoutDelay", option: WithFlushPolicy(FlushBackground, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(embedder, classifier, tt.option)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
		})
	}

	t.Run("NilEmbedder", func(t *testing.T) {
		_, err := New(nil, classifier)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("NilClassifier", func(t *testing.T) {
		_, err := New(embedder, nil)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	})
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	require.NoError(t, engine.Close())

	_, err := engine.Process(ctx, invoiceEmail())
	require.ErrorIs(t, err, ErrEngineClosed)

	require.ErrorIs(t, engine.Clear(ctx), ErrEngineClosed)

	// Close is idempotent.
	require.NoError(t, engine.Close())
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()

	metrics := &BasicMetricsCollector{}
	engine := newTestEngine(t, WithMetricsCollector(metrics))

	_, err := engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)
	_, err = engine.Process(ctx, invoiceEmail())
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.ProcessCount)
	assert.Equal(t, int64(1), stats.CommitCount)
	assert.Equal(t, int64(1), stats.DuplicateCount)
}
