package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/scriptorium/internal/store"
)

func lexCandidate(id string, score float64) *store.Candidate {
	return &store.Candidate{PassageID: id, Score: score, Source: store.SourceLexical}
}

func vecCandidate(id string, score float64) *store.Candidate {
	return &store.Candidate{PassageID: id, Score: score, Source: store.SourceVector}
}

func fusedByID(fused []*fusedCandidate) map[string]*fusedCandidate {
	m := make(map[string]*fusedCandidate, len(fused))
	for _, f := range fused {
		m[f.PassageID] = f
	}
	return m
}

func TestFuse_CombinedScoreIsWeightedSum(t *testing.T) {
	lexical := []*store.Candidate{
		lexCandidate("a", 12.0),
		lexCandidate("b", 2.0),
	}
	vector := []*store.Candidate{
		vecCandidate("a", 0.9),
		vecCandidate("b", 0.5),
	}

	fused := fusedByID(Fuse(lexical, vector, Weights{Lexical: 0.6, Vector: 0.4}))
	require.Len(t, fused, 2)

	// Min-max within each backend: a normalizes to 1.0 on both sides.
	a := fused["a"]
	assert.InDelta(t, 1.0, a.LexScore, 1e-9)
	assert.InDelta(t, 1.0, a.VecScore, 1e-9)
	assert.InDelta(t, 1.0, a.Combined, 1e-9)
	assert.True(t, a.SourceMatch)

	b := fused["b"]
	assert.InDelta(t, 0.0, b.LexScore, 1e-9)
	assert.InDelta(t, 0.0, b.VecScore, 1e-9)
	assert.InDelta(t, 0.0, b.Combined, 1e-9)
}

func TestFuse_MissingScoreIsZero(t *testing.T) {
	lexical := []*store.Candidate{
		lexCandidate("both", 10.0),
		lexCandidate("lex-only", 5.0),
	}
	vector := []*store.Candidate{
		vecCandidate("both", 0.8),
		vecCandidate("vec-only", 0.6),
	}

	fused := fusedByID(Fuse(lexical, vector, Weights{Lexical: 0.6, Vector: 0.4}))
	require.Len(t, fused, 3)

	lexOnly := fused["lex-only"]
	assert.Zero(t, lexOnly.VecScore)
	assert.True(t, lexOnly.SourceMatch)
	assert.InDelta(t, 0.6*lexOnly.LexScore, lexOnly.Combined, 1e-9)

	vecOnly := fused["vec-only"]
	assert.Zero(t, vecOnly.LexScore)
	assert.False(t, vecOnly.SourceMatch)
	assert.InDelta(t, 0.4*vecOnly.VecScore, vecOnly.Combined, 1e-9)
}

func TestFuse_OrderIndependent(t *testing.T) {
	lexical := []*store.Candidate{
		lexCandidate("a", 7.0),
		lexCandidate("b", 3.0),
		lexCandidate("c", 5.0),
	}
	vector := []*store.Candidate{
		vecCandidate("c", 0.4),
		vecCandidate("a", 0.9),
	}

	forward := fusedByID(Fuse(lexical, vector, DefaultWeights()))

	reversedLex := []*store.Candidate{lexical[2], lexical[1], lexical[0]}
	reversedVec := []*store.Candidate{vector[1], vector[0]}
	backward := fusedByID(Fuse(reversedLex, reversedVec, DefaultWeights()))

	require.Equal(t, len(forward), len(backward))
	for id, f := range forward {
		assert.InDelta(t, f.Combined, backward[id].Combined, 1e-9, "passage %s", id)
	}
}

func TestFuse_EqualScoresNormalizeToOne(t *testing.T) {
	lexical := []*store.Candidate{
		lexCandidate("a", 4.2),
		lexCandidate("b", 4.2),
		lexCandidate("c", 4.2),
	}

	fused := Fuse(lexical, nil, Weights{Lexical: 1.0})
	require.Len(t, fused, 3)
	for _, f := range fused {
		assert.InDelta(t, 1.0, f.LexScore, 1e-9)
		assert.InDelta(t, 1.0, f.Combined, 1e-9)
	}
}

func TestFuse_SingleCandidateNormalizesToOne(t *testing.T) {
	fused := Fuse([]*store.Candidate{lexCandidate("only", 0.001)}, nil, Weights{Lexical: 1.0})
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0, fused[0].Combined, 1e-9)
}

func TestFuse_EmptyInputs(t *testing.T) {
	assert.Empty(t, Fuse(nil, nil, DefaultWeights()))
}
