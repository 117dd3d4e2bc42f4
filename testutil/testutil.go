// Package testutil provides deterministic embedders, classifiers, and
// random data helpers for tests.
package testutil

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/maildedup/distance"
	"github.com/hupe1980/maildedup/model"
)

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Vector returns a pseudo-random unit vector of the given dimension.
func (r *RNG) Vector(dimension int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := make([]float32, dimension)
	for i := range v {
		v[i] = r.rand.Float32()*2 - 1
	}
	distance.NormalizeL2InPlace(v)

	return v
}

// TextEmbedder is a deterministic embedding provider for tests. It hashes
// words into a fixed-dimension bag-of-words vector and L2-normalizes it,
// so identical texts embed identically and unrelated texts land far apart.
type TextEmbedder struct {
	dimension int
}

// NewTextEmbedder creates a text embedder with the given dimension.
func NewTextEmbedder(dimension int) *TextEmbedder {
	return &TextEmbedder{dimension: dimension}
}

// Embed implements embedding.Provider.
func (t *TextEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, t.dimension)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%uint32(t.dimension)] += 1
	}

	distance.NormalizeL2InPlace(v)

	return v, nil
}

// Dimension implements embedding.Provider.
func (t *TextEmbedder) Dimension() int { return t.dimension }

// StaticClassifier returns a fixed prediction for every email.
type StaticClassifier struct {
	Prediction model.Prediction

	mu    sync.Mutex
	calls int
}

// Classify implements classify.Classifier.
func (s *StaticClassifier) Classify(_ context.Context, _ *model.Email) (model.Prediction, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	return s.Prediction, nil
}

// Calls returns how many times Classify was invoked.
func (s *StaticClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FailingEmbedder always returns Err.
type FailingEmbedder struct {
	Dim int
	Err error
}

// Embed implements embedding.Provider.
func (f *FailingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, f.Err
}

// Dimension implements embedding.Provider.
func (f *FailingEmbedder) Dimension() int { return f.Dim }

// FailingClassifier always returns Err.
type FailingClassifier struct {
	Err error
}

// Classify implements classify.Classifier.
func (f *FailingClassifier) Classify(context.Context, *model.Email) (model.Prediction, error) {
	return model.Prediction{}, f.Err
}
