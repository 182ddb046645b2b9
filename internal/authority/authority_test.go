package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTier_Label(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		want string
	}{
		{"sacred text", TierSacredText, "Sacred Text"},
		{"authoritative", TierAuthoritative, "Authoritative"},
		{"institutional", TierInstitutional, "Institutional"},
		{"official", TierOfficial, "Official"},
		{"reference", TierReference, "Reference"},
		{"published", TierPublished, "Published"},
		{"historical", TierHistorical, "Historical"},
		{"research", TierResearch, "Research"},
		{"commentary", TierCommentary, "Commentary"},
		{"unofficial", TierUnofficial, "Unofficial"},
		{"out of range high", Tier(11), "Unknown"},
		{"zero", TierNone, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tier.Label())
		})
	}
}

func TestTier_Valid(t *testing.T) {
	assert.True(t, TierUnofficial.Valid())
	assert.True(t, TierSacredText.Valid())
	assert.False(t, TierNone.Valid())
	assert.False(t, Tier(11).Valid())
	assert.False(t, Tier(-1).Valid())
}

func TestResolve_OverrideWins(t *testing.T) {
	override := TierSacredText
	got := Resolve(&override, TierCommentary)
	assert.Equal(t, TierSacredText, got)
}

func TestResolve_FallsBackToCollection(t *testing.T) {
	got := Resolve(nil, TierReference)
	assert.Equal(t, TierReference, got)
}

func TestResolve_InvalidOverrideIgnored(t *testing.T) {
	bad := Tier(42)
	got := Resolve(&bad, TierPublished)
	assert.Equal(t, TierPublished, got)
}

func TestResolve_NoTierAnywhere(t *testing.T) {
	got := Resolve(nil, TierNone)
	assert.Equal(t, TierUnofficial, got)
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "10 (Sacred Text)", TierSacredText.String())
}
