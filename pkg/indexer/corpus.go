package indexer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/store"
)

// CollectionSpec declares one collection's tradition and authority tier.
type CollectionSpec struct {
	Tradition string `yaml:"tradition"`
	Tier      int    `yaml:"tier"`
}

// PassageSpec is one passage entry in a corpus file.
type PassageSpec struct {
	ID           string `yaml:"id"`
	DocumentID   string `yaml:"document_id"`
	Title        string `yaml:"title"`
	Author       string `yaml:"author"`
	Collection   string `yaml:"collection"`
	Language     string `yaml:"language"`
	Locator      string `yaml:"locator"`
	Date         string `yaml:"date"`
	Text         string `yaml:"text"`
	TierOverride *int   `yaml:"tier_override"`
}

// Corpus is a parsed corpus file: collection tier declarations plus the
// passages to ingest.
type Corpus struct {
	Collections map[string]CollectionSpec `yaml:"collections"`
	Passages    []PassageSpec             `yaml:"passages"`
}

// corpusDateFormat is the expected passage date layout.
const corpusDateFormat = "2006-01-02"

// LoadCorpus reads and validates a corpus YAML file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks tier ranges and required passage fields.
func (c *Corpus) Validate() error {
	for name, spec := range c.Collections {
		if !authority.Tier(spec.Tier).Valid() {
			return fmt.Errorf("collection %q: tier %d outside valid range %d-%d",
				name, spec.Tier, authority.MinTier, authority.MaxTier)
		}
	}

	seen := make(map[string]struct{}, len(c.Passages))
	for i, p := range c.Passages {
		if p.ID == "" {
			return fmt.Errorf("passage %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("passage %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("passage %q: missing text", p.ID)
		}
		if p.Collection == "" {
			return fmt.Errorf("passage %q: missing collection", p.ID)
		}
		if _, ok := c.Collections[p.Collection]; !ok {
			return fmt.Errorf("passage %q: unknown collection %q", p.ID, p.Collection)
		}
		if p.TierOverride != nil && !authority.Tier(*p.TierOverride).Valid() {
			return fmt.Errorf("passage %q: tier override %d outside valid range %d-%d",
				p.ID, *p.TierOverride, authority.MinTier, authority.MaxTier)
		}
		if p.Date != "" {
			if _, err := time.Parse(corpusDateFormat, p.Date); err != nil {
				return fmt.Errorf("passage %q: date %q is not %s", p.ID, p.Date, corpusDateFormat)
			}
		}
	}
	return nil
}

// toPassage converts a validated spec into the store record. The tradition
// comes from the passage's collection declaration and is canonicalized so
// filters match regardless of the spelling used in the corpus file.
func (c *Corpus) toPassage(spec PassageSpec, now time.Time) *store.Passage {
	coll := c.Collections[spec.Collection]

	// Unknown traditions are stored lowercased as-is; only filter matching
	// requires a known token.
	tradition, known := filter.NormalizeTradition(coll.Tradition)
	if !known {
		tradition = strings.ToLower(strings.TrimSpace(coll.Tradition))
	}

	p := &store.Passage{
		ID:             spec.ID,
		DocumentID:     spec.DocumentID,
		Title:          spec.Title,
		Author:         spec.Author,
		Tradition:      tradition,
		Collection:     spec.Collection,
		Language:       strings.ToLower(spec.Language),
		Locator:        spec.Locator,
		Text:           spec.Text,
		CollectionTier: authority.Tier(coll.Tier),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if spec.TierOverride != nil {
		tier := authority.Tier(*spec.TierOverride)
		p.TierOverride = &tier
	}
	if spec.Date != "" {
		p.Date, _ = time.Parse(corpusDateFormat, spec.Date)
	}
	return p
}
