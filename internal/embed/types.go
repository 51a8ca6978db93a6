// Package embed turns text into fixed-dimension, unit-norm embeddings
// using a local ONNX sentence-transformer.
package embed

import (
	"context"
	"math"
)

// MaxSeqLen is the maximum number of tokens kept per input; longer
// encodings are truncated. The reference model's own limit is 512.
const MaxSeqLen = 512

// Dimensions is the embedding width of the reference model
// (sentence-transformers/all-MiniLM-L6-v2).
const Dimensions = 384

// Embedder loads a sentence-embedding transformer once at construction
// and shares it, immutably, across every call.
type Embedder interface {
	// Embed embeds a single text. Equivalent to the first output of
	// EmbedBatch([text]).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a sequence of texts, preserving input order.
	// Empty input returns an empty output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension D.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases the underlying ONNX session and tokenizer.
	Close() error
}

// normalizeVector returns a copy of v scaled to unit L2 norm.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
