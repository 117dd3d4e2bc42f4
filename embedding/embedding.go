// Package embedding defines the provider contract for turning email text
// into dense vectors.
package embedding

import "context"

// Provider produces embedding vectors for text.
//
// Implementations must be safe for concurrent use and must return vectors
// of exactly Dimension() elements.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the dimensionality of produced vectors.
	Dimension() int
}
