package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbeddingClient struct {
	resp openai.EmbeddingResponse
	err  error
}

func (s *stubEmbeddingClient) CreateEmbeddings(_ context.Context, _ openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	return s.resp, s.err
}

func TestProviderEmbed(t *testing.T) {
	p := NewProviderWithConfig(&stubEmbeddingClient{
		resp: openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
		},
	}, ProviderConfig{Dimension: 3})

	vector, err := p.Embed(context.Background(), "invoice payment")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, 3, p.Dimension())
}

func TestProviderClientError(t *testing.T) {
	p := NewProviderWithConfig(&stubEmbeddingClient{
		err: errors.New("rate limited"),
	}, ProviderConfig{Dimension: 3})

	_, err := p.Embed(context.Background(), "hi")
	require.Error(t, err)
}

func TestProviderRejectsEmptyResponse(t *testing.T) {
	p := NewProviderWithConfig(&stubEmbeddingClient{}, ProviderConfig{Dimension: 3})

	_, err := p.Embed(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestProviderRejectsWrongDimension(t *testing.T) {
	p := NewProviderWithConfig(&stubEmbeddingClient{
		resp: openai.EmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float32{0.1, 0.2}}},
		},
	}, ProviderConfig{Dimension: 3})

	_, err := p.Embed(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions")
}
