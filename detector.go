package maildedup

import (
	"context"

	"github.com/hupe1980/maildedup/index/flat"
	"github.com/hupe1980/maildedup/model"
	"github.com/hupe1980/maildedup/record"
)

// DuplicateDetector turns nearest-neighbor distances into a duplicate
// decision against a similarity threshold.
type DuplicateDetector struct {
	idx        *flat.Index
	records    *record.Store
	topK       int
	threshold  float64
	normalizer float64
	scoped     bool
}

// NewDuplicateDetector creates a detector over the given index and store.
func NewDuplicateDetector(idx *flat.Index, records *record.Store, opts options) *DuplicateDetector {
	return &DuplicateDetector{
		idx:        idx,
		records:    records,
		topK:       opts.topK,
		threshold:  opts.threshold,
		normalizer: opts.distanceNormalizer,
		scoped:     opts.scopeBySender,
	}
}

// Similarity converts a squared L2 distance to a similarity in [0,1]:
//
//	similarity = 1 - min(distance/normalizer, 1)
func (d *DuplicateDetector) Similarity(dist float32) float64 {
	ratio := float64(dist) / d.normalizer
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// Check returns matches at or above the threshold, ordered descending by
// similarity with ties broken by ascending id. An empty index yields an
// empty result, never an error.
func (d *DuplicateDetector) Check(ctx context.Context, vector []float32, from string) ([]model.Match, error) {
	var keep func(id uint64) bool
	if d.scoped {
		keep = d.records.FilterFrom(from)
	}

	results, err := d.idx.SearchFilter(ctx, vector, d.topK, keep)
	if err != nil {
		return nil, translateError(err)
	}

	var matches []model.Match
	for _, r := range results {
		similarity := d.Similarity(r.Distance)
		if similarity < d.threshold {
			// Results are ordered ascending by distance, so everything
			// after this point is below threshold too.
			break
		}

		meta, ok := d.records.Get(r.ID)
		if !ok {
			return nil, &CorruptionError{Reason: "index entry missing from record store"}
		}

		matches = append(matches, model.Match{Similarity: similarity, Metadata: meta})
	}

	return matches, nil
}
