package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given: a static embedder
	e := NewStaticEmbedder(256)
	ctx := context.Background()

	// When: I embed the same text twice
	a, err := e.Embed(ctx, "Introduction to Computer Science")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Introduction to Computer Science")
	require.NoError(t, err)

	// Then: the vectors are identical and unit length
	assert.Equal(t, a, b)
	require.Len(t, a, 256)

	var sumSquares float64
	for _, v := range a {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestStaticEmbedder_SimilarTextCloserThanUnrelated(t *testing.T) {
	e := NewStaticEmbedder(256)
	ctx := context.Background()

	base, err := e.Embed(ctx, "machine learning with python")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "deep learning with python")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "renaissance art history")
	require.NoError(t, err)

	// Then: shared tokens pull the related text closer
	assert.Greater(t, dot(base, near), dot(base, far))
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(64)

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	require.Len(t, vec, 64)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_DefaultDimensions(t *testing.T) {
	e := NewStaticEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
}

func TestStaticEmbedder_ClosedFails(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
