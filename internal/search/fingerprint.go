package search

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/scriptorium/scriptorium/internal/filter"
)

// Fingerprint derives the cache key for a normalized query. Two queries
// that would produce identical ranked output must produce the same
// fingerprint: text is whitespace-collapsed and lowercased, filters are in
// their normalized form, and weights are the rescaled values actually used
// for fusion. Unrecognized filter keys never reach the fingerprint, since
// the engine ignores them.
func Fingerprint(q Query) string {
	h := sha256.New()

	writeField(h, "text", normalizeText(q.Text))
	writeField(h, "mode", string(q.Mode))
	writeField(h, "weights", fmt.Sprintf("%.6f/%.6f", q.Weights.Lexical, q.Weights.Vector))
	writeField(h, "window", fmt.Sprintf("%d+%d", q.Offset, q.Limit))

	f := normalizedFilters(q.Filters)
	writeField(h, "tradition", f.Tradition)
	writeField(h, "collection", f.Collection)
	writeField(h, "language", f.Language)
	writeField(h, "from", formatDate(f.DateFrom))
	writeField(h, "to", formatDate(f.DateTo))
	writeField(h, "authority", fmt.Sprintf("%d", f.MinAuthority))

	// A caller-supplied vector changes semantic results even for
	// identical text, so it participates in the key.
	if len(q.Vector) > 0 {
		writeField(h, "vector", hashVector(q.Vector))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, name, value string) {
	h.Write([]byte(name))
	h.Write([]byte{0x1f})
	h.Write([]byte(value))
	h.Write([]byte{0x1e})
}

// normalizeText lowercases and collapses runs of whitespace so trivially
// different spellings of the same query share a cache entry.
func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func hashVector(v []float32) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, val := range v {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(val))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalizedFilters returns the criteria as the translator would see
// them, so "Buddhist" and "buddhism" fingerprints collide as intended.
func normalizedFilters(c filter.Criteria) filter.Criteria {
	if c.Tradition != "" {
		if canonical, ok := filter.NormalizeTradition(c.Tradition); ok {
			c.Tradition = canonical
		}
	}
	c.Collection = strings.TrimSpace(c.Collection)
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	c.Extra = nil
	return c
}
