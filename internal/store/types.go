// Package store provides the retrieval backends (bleve lexical index,
// HNSW vector index) and the SQLite passage metadata store. The engine
// consumes these through narrow interfaces so either backend is swappable
// without touching fusion logic.
package store

import (
	"context"
	"time"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/filter"
)

// Source identifies which retrieval backend produced a candidate.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// Candidate is a retrieved passage identifier plus the raw backend score.
// A passage may appear as a candidate from both backends simultaneously;
// the fusion step unifies the two records by passage identifier.
type Candidate struct {
	PassageID string
	Score     float64
	Source    Source
}

// Passage is the metadata record for a retrievable passage.
type Passage struct {
	ID         string // Stable passage identifier
	DocumentID string // Parent document identifier
	Title      string
	Author     string
	Tradition  string // Canonical tradition token (lowercase)
	Collection string
	Language   string // ISO 639-1 code (lowercase)
	Locator    string // URL or citation locator
	Date       time.Time
	Text       string

	// CollectionTier is the tier configured for the passage's collection.
	CollectionTier authority.Tier

	// TierOverride, when set, wins over CollectionTier.
	TierOverride *authority.Tier

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveTier returns the passage's authority tier: the explicit
// override when present, otherwise the collection's configured tier.
func (p *Passage) EffectiveTier() authority.Tier {
	return authority.Resolve(p.TierOverride, p.CollectionTier)
}

// LexicalBackend is the keyword/BM25 retrieval contract.
// A backend failure is recoverable: the engine degrades to the other
// backend rather than failing the query.
type LexicalBackend interface {
	// Query returns up to limit candidates matching text under pred,
	// ranked by descending lexical score.
	Query(ctx context.Context, text string, pred *filter.LexicalPredicate, limit int) ([]*Candidate, error)

	Close() error
}

// VectorBackend is the embedding nearest-neighbor retrieval contract.
type VectorBackend interface {
	// Query returns up to limit candidates nearest to vector under pred,
	// ranked by descending similarity score.
	Query(ctx context.Context, vector []float32, pred *filter.VectorPredicate, limit int) ([]*Candidate, error)

	Close() error
}

// MetadataStore joins ranked passage identifiers against document
// metadata. Lookups are batch-only to keep enrichment latency bounded.
type MetadataStore interface {
	// GetByIDs returns the passages for the given identifiers.
	// Missing identifiers are simply absent from the result, never an error.
	GetByIDs(ctx context.Context, ids []string) ([]*Passage, error)

	Close() error
}

// VectorConfig configures the HNSW vector backend.
type VectorConfig struct {
	// Dimensions is the embedding dimension the index was built with.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int

	// OverfetchFactor is how far beyond the requested limit the backend
	// searches before post-filtering. HNSW has no native predicate
	// support, so filtered queries need surplus neighbors.
	OverfetchFactor int
}

// DefaultVectorConfig returns sensible defaults for the vector backend.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions:      dimensions,
		M:               16,
		EfSearch:        48,
		OverfetchFactor: 4,
	}
}
