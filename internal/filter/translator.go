package filter

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/errors"
)

// FieldClause is a single exact-match conjunct for the lexical backend.
// The lexical adapter maps each clause onto a keyword term query.
type FieldClause struct {
	Field string
	Term  string
}

// LexicalPredicate is the lexical backend's view of the filter criteria:
// a conjunction of keyword clauses plus an optional date window, ready to
// be compiled into the backend's native query structure.
type LexicalPredicate struct {
	Conjuncts []FieldClause
	DateFrom  *time.Time
	DateTo    *time.Time
}

// IsEmpty reports whether the predicate constrains nothing.
func (p *LexicalPredicate) IsEmpty() bool {
	return p == nil || (len(p.Conjuncts) == 0 && p.DateFrom == nil && p.DateTo == nil)
}

// VectorPredicate is the vector backend's view of the filter criteria.
// The HNSW backend has no native filtering, so the adapter over-fetches
// and post-filters candidates against this predicate via Matches.
type VectorPredicate struct {
	Tradition  string
	Collection string
	Language   string
	DateFrom   *time.Time
	DateTo     *time.Time
}

// PassageAttrs are the attributes the vector backend keeps per passage for
// predicate evaluation.
type PassageAttrs struct {
	Tradition  string
	Collection string
	Language   string
	Date       time.Time
}

// Matches evaluates the predicate against a passage's attributes.
func (p *VectorPredicate) Matches(attrs PassageAttrs) bool {
	if p == nil {
		return true
	}
	if p.Tradition != "" && attrs.Tradition != p.Tradition {
		return false
	}
	if p.Collection != "" && attrs.Collection != p.Collection {
		return false
	}
	if p.Language != "" && attrs.Language != p.Language {
		return false
	}
	if p.DateFrom != nil && attrs.Date.Before(*p.DateFrom) {
		return false
	}
	if p.DateTo != nil && attrs.Date.After(*p.DateTo) {
		return false
	}
	return true
}

// IsEmpty reports whether the predicate constrains nothing.
func (p *VectorPredicate) IsEmpty() bool {
	return p == nil || (p.Tradition == "" && p.Collection == "" && p.Language == "" &&
		p.DateFrom == nil && p.DateTo == nil)
}

// Translator converts Criteria into per-backend predicates.
type Translator struct{}

// NewTranslator creates a filter translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate validates the criteria and produces one predicate per backend.
// Semantically invalid values (inverted date range, unknown tradition,
// out-of-range authority floor) yield a typed validation error; unknown
// filter keys are logged and ignored.
func (t *Translator) Translate(c Criteria) (*LexicalPredicate, *VectorPredicate, error) {
	if err := t.validate(c); err != nil {
		return nil, nil, err
	}

	for key := range c.Extra {
		slog.Debug("ignoring unrecognized filter key", slog.String("key", key))
	}

	tradition := ""
	if c.Tradition != "" {
		// Already validated, normalization cannot fail here.
		tradition, _ = NormalizeTradition(c.Tradition)
	}
	collection := strings.TrimSpace(c.Collection)
	language := strings.ToLower(strings.TrimSpace(c.Language))

	lex := &LexicalPredicate{DateFrom: c.DateFrom, DateTo: c.DateTo}
	if tradition != "" {
		lex.Conjuncts = append(lex.Conjuncts, FieldClause{Field: "tradition", Term: tradition})
	}
	if collection != "" {
		lex.Conjuncts = append(lex.Conjuncts, FieldClause{Field: "collection", Term: collection})
	}
	if language != "" {
		lex.Conjuncts = append(lex.Conjuncts, FieldClause{Field: "language", Term: language})
	}

	vec := &VectorPredicate{
		Tradition:  tradition,
		Collection: collection,
		Language:   language,
		DateFrom:   c.DateFrom,
		DateTo:     c.DateTo,
	}

	return lex, vec, nil
}

// validate checks the criteria for semantic errors.
func (t *Translator) validate(c Criteria) error {
	if c.DateFrom != nil && c.DateTo != nil && c.DateTo.Before(*c.DateFrom) {
		return errors.New(errors.ErrCodeInvalidDateRange,
			fmt.Sprintf("date range end %s precedes start %s",
				c.DateTo.Format(time.DateOnly), c.DateFrom.Format(time.DateOnly)), nil)
	}

	if c.Tradition != "" {
		if _, ok := NormalizeTradition(c.Tradition); !ok {
			return errors.New(errors.ErrCodeUnknownTradition,
				fmt.Sprintf("tradition %q is not recognized", c.Tradition), nil)
		}
	}

	if c.MinAuthority != authority.TierNone && !c.MinAuthority.Valid() {
		return errors.New(errors.ErrCodeInvalidAuthority,
			fmt.Sprintf("minimum authority %d outside valid range 1-10", c.MinAuthority), nil)
	}

	return nil
}
