package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/scriptorium/scriptorium/internal/filter"
)

// BleveLexicalBackend implements LexicalBackend on a bleve BM25 index.
// Passage text is analyzed with the English analyzer; tradition,
// collection, and language are indexed as exact keyword fields so filter
// predicates compile to term conjuncts.
type BleveLexicalBackend struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// lexicalDoc is the bleve document shape for a passage.
type lexicalDoc struct {
	Text       string    `json:"text"`
	Tradition  string    `json:"tradition"`
	Collection string    `json:"collection"`
	Language   string    `json:"language"`
	Date       time.Time `json:"date"`
}

// NewBleveLexicalBackend opens or creates a lexical index at path.
// An empty path creates an in-memory index (used by tests).
func NewBleveLexicalBackend(path string) (*BleveLexicalBackend, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	return &BleveLexicalBackend{index: idx, path: path}, nil
}

// createLexicalMapping builds the bleve mapping for passages.
func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = en.AnalyzerName

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	dateField := bleve.NewDateTimeFieldMapping()

	passage := bleve.NewDocumentMapping()
	passage.AddFieldMappingsAt("text", textField)
	passage.AddFieldMappingsAt("tradition", keywordField)
	passage.AddFieldMappingsAt("collection", keywordField)
	passage.AddFieldMappingsAt("language", keywordField)
	passage.AddFieldMappingsAt("date", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = passage
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	return indexMapping, nil
}

// Index adds passages to the lexical index.
func (b *BleveLexicalBackend) Index(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, p := range passages {
		doc := lexicalDoc{
			Text:       p.Text,
			Tradition:  p.Tradition,
			Collection: p.Collection,
			Language:   p.Language,
			Date:       p.Date,
		}
		if err := batch.Index(p.ID, doc); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}

	return nil
}

// Query returns up to limit candidates matching text under pred.
func (b *BleveLexicalBackend) Query(ctx context.Context, text string, pred *filter.LexicalPredicate, limit int) ([]*Candidate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	if strings.TrimSpace(text) == "" {
		return []*Candidate{}, nil
	}

	searchRequest := bleve.NewSearchRequestOptions(b.compileQuery(text, pred), limit, 0, false)

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	candidates := make([]*Candidate, 0, len(result.Hits))
	for _, hit := range result.Hits {
		candidates = append(candidates, &Candidate{
			PassageID: hit.ID,
			Score:     hit.Score,
			Source:    SourceLexical,
		})
	}

	return candidates, nil
}

// compileQuery translates the match text plus predicate into the bleve
// query tree: a text match conjoined with exact term clauses and an
// optional date window.
func (b *BleveLexicalBackend) compileQuery(text string, pred *filter.LexicalPredicate) query.Query {
	match := bleve.NewMatchQuery(text)
	match.SetField("text")

	if pred.IsEmpty() {
		return match
	}

	conjuncts := []query.Query{match}
	for _, clause := range pred.Conjuncts {
		term := bleve.NewTermQuery(clause.Term)
		term.SetField(clause.Field)
		conjuncts = append(conjuncts, term)
	}

	if pred.DateFrom != nil || pred.DateTo != nil {
		var from, to time.Time
		if pred.DateFrom != nil {
			from = *pred.DateFrom
		}
		if pred.DateTo != nil {
			to = *pred.DateTo
		}
		dateRange := bleve.NewDateRangeQuery(from, to)
		dateRange.SetField("date")
		conjuncts = append(conjuncts, dateRange)
	}

	return bleve.NewConjunctionQuery(conjuncts...)
}

// Delete removes passages from the index.
func (b *BleveLexicalBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}

	return nil
}

// DocCount returns the number of indexed passages.
func (b *BleveLexicalBackend) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}
	return b.index.DocCount()
}

// Close releases the index.
func (b *BleveLexicalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
