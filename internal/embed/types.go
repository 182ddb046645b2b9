// Package embed provides query and passage embedding. The engine itself
// never generates embeddings; it consumes an Embedder through an injected
// function, so providers are swappable.
package embed

import (
	"context"
	"math"
)

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName identifies the embedding model for cache keying.
	ModelName() string

	Close() error
}

// normalizeVector scales v to unit length. A zero vector stays zero.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return v
}
