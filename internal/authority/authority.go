// Package authority defines the editorial authority tier scale used to
// rank sources during retrieval. Tiers are read-time metadata set at index
// time; the engine never mutates them.
package authority

import "fmt"

// Tier is an editorial authority ranking from 1 (lowest) to 10 (highest).
type Tier int

const (
	TierUnofficial    Tier = 1
	TierCommentary    Tier = 2
	TierResearch      Tier = 3
	TierHistorical    Tier = 4
	TierPublished     Tier = 5
	TierReference     Tier = 6
	TierOfficial      Tier = 7
	TierInstitutional Tier = 8
	TierAuthoritative Tier = 9
	TierSacredText    Tier = 10

	// TierNone marks the absence of a tier (no override, no floor).
	TierNone Tier = 0

	// MinTier and MaxTier bound the valid tier range.
	MinTier Tier = TierUnofficial
	MaxTier Tier = TierSacredText
)

// labels maps each tier to its fixed semantic label.
var labels = map[Tier]string{
	TierSacredText:    "Sacred Text",
	TierAuthoritative: "Authoritative",
	TierInstitutional: "Institutional",
	TierOfficial:      "Official",
	TierReference:     "Reference",
	TierPublished:     "Published",
	TierHistorical:    "Historical",
	TierResearch:      "Research",
	TierCommentary:    "Commentary",
	TierUnofficial:    "Unofficial",
}

// Valid reports whether t is within the 1-10 scale.
func (t Tier) Valid() bool {
	return t >= MinTier && t <= MaxTier
}

// Label returns the semantic label for the tier, or "Unknown" for values
// outside the scale.
func (t Tier) Label() string {
	if l, ok := labels[t]; ok {
		return l
	}
	return "Unknown"
}

// String implements fmt.Stringer, e.g. "10 (Sacred Text)".
func (t Tier) String() string {
	return fmt.Sprintf("%d (%s)", int(t), t.Label())
}

// Resolve returns the effective tier for a passage: the passage-level
// override when present, otherwise the collection's configured tier.
// The override always wins.
func Resolve(override *Tier, collection Tier) Tier {
	if override != nil && override.Valid() {
		return *override
	}
	if collection.Valid() {
		return collection
	}
	return TierUnofficial
}
