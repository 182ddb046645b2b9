package search

import (
	"sort"

	"github.com/scriptorium/scriptorium/internal/authority"
)

// Rank applies the ordering law and the result window to enriched results:
// authority tier descending, then combined score descending, then lexical
// source-match descending, then passage ID ascending. The trailing ID key
// makes the order fully deterministic, so equal-tier equal-score pages are
// stable across runs and cache refills.
//
// Results below the authority floor are discarded before sorting. The
// returned slice is the [offset, offset+limit) window of what remains.
func Rank(results []*RankedResult, floor authority.Tier, offset, limit int) []*RankedResult {
	kept := results
	if floor != authority.TierNone {
		kept = make([]*RankedResult, 0, len(results))
		for _, r := range results {
			if r.Tier >= floor {
				kept = append(kept, r)
			}
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SourceMatch != b.SourceMatch {
			return a.SourceMatch
		}
		return a.PassageID < b.PassageID
	})

	if offset >= len(kept) {
		return []*RankedResult{}
	}
	kept = kept[offset:]
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}

	return kept
}
