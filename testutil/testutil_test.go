package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextEmbedderDeterministic(t *testing.T) {
	e := NewTextEmbedder(32)

	a, err := e.Embed(context.Background(), "Invoice payment request #1")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Invoice payment request #1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestTextEmbedderSeparatesTexts(t *testing.T) {
	e := NewTextEmbedder(64)

	a, err := e.Embed(context.Background(), "Invoice payment request #1")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Completely unrelated greeting")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestRNGReset(t *testing.T) {
	r := NewRNG(42)

	first := r.Vector(16)
	r.Reset()
	second := r.Vector(16)

	assert.Equal(t, first, second)
}
