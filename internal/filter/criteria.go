// Package filter translates caller-supplied filter criteria into
// backend-specific predicates for the lexical and vector retrieval
// backends. Validation happens here, before any backend is consulted.
package filter

import (
	"strings"
	"time"

	"github.com/scriptorium/scriptorium/internal/authority"
)

// Criteria is the caller-facing filter surface of a query.
// Unrecognized keys in Extra are ignored, not rejected, so the engine stays
// forward-compatible with metadata schema growth.
type Criteria struct {
	// Tradition restricts results to a single tradition (e.g. "buddhism").
	// Matched after normalization; empty means all traditions.
	Tradition string

	// Collection restricts results to a named collection.
	Collection string

	// Language restricts results by ISO 639-1 language code.
	Language string

	// DateFrom and DateTo bound the composition/publication date.
	// Either may be nil for an open-ended range.
	DateFrom *time.Time
	DateTo   *time.Time

	// MinAuthority is the minimum authority tier (1-10) a passage must
	// carry to appear in results. TierNone disables the floor.
	MinAuthority authority.Tier

	// Extra holds filter keys this engine version does not understand.
	// They are logged and ignored.
	Extra map[string]string
}

// IsZero reports whether no filtering is requested at all.
func (c Criteria) IsZero() bool {
	return c.Tradition == "" && c.Collection == "" && c.Language == "" &&
		c.DateFrom == nil && c.DateTo == nil && c.MinAuthority == authority.TierNone
}

// knownTraditions maps normalized tradition tokens (including aliases) to
// their canonical form. The set mirrors the library's indexed traditions.
var knownTraditions = map[string]string{
	"buddhism":     "buddhism",
	"buddhist":     "buddhism",
	"christianity": "christianity",
	"christian":    "christianity",
	"islam":        "islam",
	"islamic":      "islam",
	"judaism":      "judaism",
	"jewish":       "judaism",
	"hinduism":     "hinduism",
	"hindu":        "hinduism",
	"taoism":       "taoism",
	"daoism":       "taoism",
	"taoist":       "taoism",
	"sikhism":      "sikhism",
	"sikh":         "sikhism",
	"bahai":        "bahai",
	"baha'i":       "bahai",
	"zoroastrianism": "zoroastrianism",
	"jainism":      "jainism",
	"jain":         "jainism",
	"shinto":       "shinto",
	"confucianism": "confucianism",
	"confucian":    "confucianism",
}

// NormalizeTradition lowercases and trims a tradition token and resolves
// aliases to the canonical form. Returns the canonical token and whether
// the token is known.
func NormalizeTradition(token string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if normalized == "" {
		return "", true
	}
	canonical, ok := knownTraditions[normalized]
	return canonical, ok
}
