// Package search implements the hybrid retrieval engine: parallel lexical
// and vector retrieval, weighted score fusion, authority-tier ranking,
// metadata enrichment, and a coalescing query cache in front of it all.
package search

import (
	"context"
	"time"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/cache"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/store"
)

// Mode selects which retrieval backends a query consults.
type Mode string

const (
	// ModeLexical consults only the lexical backend.
	ModeLexical Mode = "lexical-only"
	// ModeSemantic consults only the vector backend.
	ModeSemantic Mode = "semantic-only"
	// ModeHybrid consults both backends and fuses their scores.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLexical, ModeSemantic, ModeHybrid:
		return true
	}
	return false
}

// Weights are the fusion weights applied to normalized backend scores.
// They must sum to a positive value; the engine rescales them to sum to 1
// so combined scores stay in [0, 1].
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns the standard hybrid weighting.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.6, Vector: 0.4}
}

// Query is a single retrieval request. Immutable once constructed; the
// engine normalizes a copy rather than mutating the caller's value.
type Query struct {
	// Text is the free-text query string.
	Text string

	// Vector is an optional pre-computed query embedding. When absent in
	// a semantic or hybrid query, the engine's embed function is used.
	Vector []float32

	// Filters restrict the candidate set.
	Filters filter.Criteria

	// Limit and Offset select the result window. Limit 0 means the
	// engine default.
	Limit  int
	Offset int

	// Mode selects the consulted backends. Empty means hybrid.
	Mode Mode

	// Weights are the fusion weights. Zero value means the default.
	Weights Weights
}

// RankedResult is one entry of the final ordered result list.
type RankedResult struct {
	// PassageID identifies the passage.
	PassageID string

	// Passage is the enriched metadata record.
	Passage *store.Passage

	// Score is the combined fused score in [0, 1].
	Score float64

	// LexScore and VecScore are the normalized per-backend scores that
	// produced Score. Zero when the backend contributed no candidate.
	LexScore float64
	VecScore float64

	// Tier is the passage's effective authority tier.
	Tier authority.Tier

	// SourceMatch is true when the passage matched lexically. Used as a
	// tie-break signal after tier and score.
	SourceMatch bool
}

// Backend names used in diagnostics and circuit breakers.
const (
	BackendLexical = "lexical"
	BackendVector  = "vector"
)

// BackendStatus records one backend's participation in a query.
type BackendStatus struct {
	Name       string
	Consulted  bool
	Succeeded  bool
	Candidates int
	Error      string
}

// Diagnostics describes how a query was served. The caller uses it to
// decide whether to surface a degraded-search notice.
type Diagnostics struct {
	// QueryID is a unique identifier for log correlation.
	QueryID string

	// Mode is the effective mode after normalization.
	Mode Mode

	// Backends lists the status of every backend, consulted or not.
	Backends []BackendStatus

	// Degraded is true when a consulted backend failed but the query
	// still produced results from the survivor.
	Degraded bool

	// TotalCandidates is the fused candidate count before the authority
	// floor and result window were applied.
	TotalCandidates int

	// EmptyAfterEnrich is true when candidates existed but every one was
	// dropped during metadata enrichment.
	EmptyAfterEnrich bool

	// CacheStatus reports whether this call hit, missed, or coalesced.
	CacheStatus cache.Status

	// Elapsed is the wall time spent serving this call.
	Elapsed time.Duration
}

// EmbedFunc converts query text into an embedding vector. Injected so the
// engine never owns embedding generation.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EngineConfig holds the engine's tunable parameters.
type EngineConfig struct {
	// DefaultLimit is used when a query specifies no limit.
	DefaultLimit int

	// MaxLimit caps the per-query result window.
	MaxLimit int

	// OverfetchFactor multiplies the requested window when querying the
	// backends, so re-ranking and the authority floor have enough
	// material to fill the final page.
	OverfetchFactor int

	// BackendTimeout bounds each individual retriever call.
	BackendTimeout time.Duration

	// SearchTimeout bounds a full pipeline execution (the cache leader's
	// computation budget).
	SearchTimeout time.Duration

	// Weights are the default fusion weights.
	Weights Weights

	// CacheCapacity and CacheTTL size the query cache.
	CacheCapacity int
	CacheTTL      time.Duration

	// BreakerMaxFailures and BreakerResetTimeout tune the per-backend
	// circuit breakers: consecutive failures before the circuit opens, and
	// how long it stays open before a probe is allowed through.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// DefaultEngineConfig returns the standard engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:    10,
		MaxLimit:        100,
		OverfetchFactor: 4,
		BackendTimeout:  2 * time.Second,
		SearchTimeout:   5 * time.Second,
		Weights:         DefaultWeights(),
		CacheCapacity:   cache.DefaultCapacity,
		CacheTTL:        cache.DefaultTTL,

		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
	}
}
