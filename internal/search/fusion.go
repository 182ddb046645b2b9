package search

import (
	"github.com/scriptorium/scriptorium/internal/store"
)

// fusedCandidate is a passage after score fusion, before enrichment.
type fusedCandidate struct {
	PassageID string
	LexScore  float64 // normalized, 0 when absent from lexical results
	VecScore  float64 // normalized, 0 when absent from vector results
	Combined  float64
	// SourceMatch records a lexical match, the post-score tie-break.
	SourceMatch bool
}

// Fuse unions the two candidate sets by passage ID and computes combined
// scores.
//
// Raw scores from the two backends are not comparable (BM25 is unbounded,
// cosine similarity is not), so each backend's scores are min-max
// normalized within its own candidate set first. A passage present in only
// one set keeps 0 for the missing side. The result order is unspecified;
// ranking happens after enrichment.
func Fuse(lexical, vector []*store.Candidate, weights Weights) []*fusedCandidate {
	fused := make(map[string]*fusedCandidate, len(lexical)+len(vector))

	normLex := normalizeScores(lexical)
	for _, c := range lexical {
		fused[c.PassageID] = &fusedCandidate{
			PassageID:   c.PassageID,
			LexScore:    normLex[c.PassageID],
			SourceMatch: true,
		}
	}

	normVec := normalizeScores(vector)
	for _, c := range vector {
		f, ok := fused[c.PassageID]
		if !ok {
			f = &fusedCandidate{PassageID: c.PassageID}
			fused[c.PassageID] = f
		}
		f.VecScore = normVec[c.PassageID]
	}

	results := make([]*fusedCandidate, 0, len(fused))
	for _, f := range fused {
		f.Combined = weights.Lexical*f.LexScore + weights.Vector*f.VecScore
		results = append(results, f)
	}

	return results
}

// normalizeScores min-max normalizes raw backend scores into [0, 1].
// When every candidate has the same raw score the spread is zero and all
// of them normalize to 1.0: an equally-scored set is a set of equally
// strong matches, not equally worthless ones.
func normalizeScores(candidates []*store.Candidate) map[string]float64 {
	if len(candidates) == 0 {
		return nil
	}

	min, max := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}

	normalized := make(map[string]float64, len(candidates))
	spread := max - min
	for _, c := range candidates {
		if spread == 0 {
			normalized[c.PassageID] = 1.0
			continue
		}
		normalized[c.PassageID] = (c.Score - min) / spread
	}

	return normalized
}
