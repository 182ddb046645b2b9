package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticDimensions is the dimension of hash-based embeddings.
const StaticDimensions = 384

// StaticEmbedder generates embeddings using a hash-based approach: no
// network, no model download, fully deterministic. Semantic quality is
// reduced compared to a learned model, but identical text always maps to
// the identical vector, which is what the retrieval tests and offline
// indexing need.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// englishStopWords are filtered before hashing so function words do not
// dominate the vector.
var englishStopWords = map[string]bool{
	"the": true, "and": true, "of": true, "to": true, "in": true,
	"a": true, "is": true, "that": true, "it": true, "for": true,
	"was": true, "on": true, "are": true, "with": true, "as": true,
	"his": true, "they": true, "be": true, "at": true, "he": true,
	"this": true, "from": true, "or": true, "by": true, "not": true,
	"but": true, "what": true, "all": true, "unto": true, "thou": true,
	"thee": true, "thy": true, "ye": true, "shall": true, "hath": true,
}

// Weights for vector generation. Word tokens carry most of the signal;
// character trigrams keep near-spellings (transliteration variants)
// close together.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates the embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName identifies this embedder for cache keying.
func (e *StaticEmbedder) ModelName() string {
	return "static-fnv-384"
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// generateVector builds the hash-based feature vector.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenize(text) {
		if englishStopWords[token] {
			continue
		}
		vector[hashToIndex(token)] += tokenWeight
	}

	compact := compactLetters(text)
	for i := 0; i+ngramSize <= len(compact); i++ {
		vector[hashToIndex(compact[i:i+ngramSize])] += ngramWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens, treating any
// non-letter non-digit rune as a separator.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// compactLetters lowercases and strips everything but letters and digits,
// the input for character n-gram extraction.
func compactLetters(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// hashToIndex maps a feature string onto a vector index.
func hashToIndex(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % StaticDimensions)
}
