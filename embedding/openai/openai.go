// Package openai implements embedding.Provider using the OpenAI
// embeddings API.
package openai

import (
	"context"
	"fmt"
	"log"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = openai.SmallEmbedding3

// Client is the subset of the OpenAI API the provider uses.
// It is satisfied by *openai.Client and by test fakes.
type Client interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// ProviderConfig configures the OpenAI embedding provider.
type ProviderConfig struct {
	Model     openai.EmbeddingModel
	Dimension int
}

// Provider implements embedding.Provider against the OpenAI API.
//
// Calls run behind a circuit breaker so a degraded upstream fails fast
// instead of stalling every email in the pipeline.
type Provider struct {
	client    Client
	model     openai.EmbeddingModel
	dimension int
	cb        *gobreaker.CircuitBreaker
}

// NewProvider creates a provider with the default model.
func NewProvider(apiKey string) *Provider {
	return NewProviderWithConfig(openai.NewClient(apiKey), ProviderConfig{})
}

// NewProviderWithConfig creates a provider with an explicit client and config.
func NewProviderWithConfig(client Client, cfg ProviderConfig) *Provider {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1536
	}

	cbSettings := gobreaker.Settings{
		Name:        "openai-embeddings",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Provider{
		client:    client,
		model:     model,
		dimension: dimension,
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// Embed returns the embedding vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.cb.Execute(func() (any, error) {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      p.model,
			Input:      []string{text},
			Dimensions: p.dimension,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("openai: embedding response contains no data")
		}

		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}

	vector := result.([]float32)
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("openai: expected %d dimensions, got %d", p.dimension, len(vector))
	}

	return vector, nil
}

// Dimension returns the configured vector dimensionality.
func (p *Provider) Dimension() int {
	return p.dimension
}
