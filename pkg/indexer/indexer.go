// Package indexer ingests corpus files into the retrieval stores: passages
// are embedded, written to the lexical and vector indexes, and their
// metadata and collection tiers saved to the metadata store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/embed"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/store"
)

// ErrNilDependency is returned when a required collaborator is missing.
var ErrNilDependency = errors.New("nil dependency")

// DefaultBatchSize is the number of passages embedded and written per batch.
const DefaultBatchSize = 64

// Stats summarizes one ingestion run.
type Stats struct {
	Passages    int
	Collections int
	Elapsed     time.Duration
}

// LexicalWriter is the lexical index write contract.
type LexicalWriter interface {
	Index(ctx context.Context, passages []*store.Passage) error
	Delete(ctx context.Context, ids []string) error
}

// VectorWriter is the vector index write contract.
type VectorWriter interface {
	Add(ctx context.Context, passages []*store.Passage, vectors [][]float32) error
	Delete(ctx context.Context, ids []string) error
}

// MetadataWriter is the metadata store write contract.
type MetadataWriter interface {
	SavePassages(ctx context.Context, passages []*store.Passage) error
	SetCollectionTier(ctx context.Context, name, tradition string, tier authority.Tier) error
	DeletePassages(ctx context.Context, ids []string) error
}

// LibraryIndexer writes corpora into the three retrieval stores.
//
// Writes are ordered metadata first, then lexical, then vector: a passage
// retrievable from either backend must already be enrichable, while an
// orphaned metadata row is harmless.
type LibraryIndexer struct {
	lexical   LexicalWriter
	vector    VectorWriter
	metadata  MetadataWriter
	embedder  embed.Embedder
	batchSize int
	logger    *slog.Logger
}

// Option configures a LibraryIndexer.
type Option func(*LibraryIndexer)

// WithBatchSize sets the embedding/write batch size.
func WithBatchSize(n int) Option {
	return func(li *LibraryIndexer) {
		if n > 0 {
			li.batchSize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(li *LibraryIndexer) {
		li.logger = l
	}
}

// New creates a LibraryIndexer over the three stores and an embedder.
func New(lexical LexicalWriter, vector VectorWriter, metadata MetadataWriter, embedder embed.Embedder, opts ...Option) (*LibraryIndexer, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical writer", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector writer", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata writer", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}

	li := &LibraryIndexer{
		lexical:   lexical,
		vector:    vector,
		metadata:  metadata,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(li)
	}
	return li, nil
}

// Index ingests a validated corpus. Re-indexing an existing passage ID
// replaces its content in every store.
func (li *LibraryIndexer) Index(ctx context.Context, corpus *Corpus) (Stats, error) {
	start := time.Now()

	for name, spec := range corpus.Collections {
		tradition, known := filter.NormalizeTradition(spec.Tradition)
		if !known {
			tradition = strings.ToLower(strings.TrimSpace(spec.Tradition))
			li.logger.Warn("unknown tradition",
				slog.String("collection", name),
				slog.String("tradition", spec.Tradition))
		}
		if err := li.metadata.SetCollectionTier(ctx, name, tradition, authority.Tier(spec.Tier)); err != nil {
			return Stats{}, fmt.Errorf("set tier for collection %q: %w", name, err)
		}
	}

	now := time.Now().UTC()
	total := 0
	for batchStart := 0; batchStart < len(corpus.Passages); batchStart += li.batchSize {
		end := batchStart + li.batchSize
		if end > len(corpus.Passages) {
			end = len(corpus.Passages)
		}

		batch := make([]*store.Passage, 0, end-batchStart)
		texts := make([]string, 0, end-batchStart)
		for _, spec := range corpus.Passages[batchStart:end] {
			p := corpus.toPassage(spec, now)
			batch = append(batch, p)
			texts = append(texts, p.Text)
		}

		vectors, err := li.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return Stats{}, fmt.Errorf("embed batch at %d: %w", batchStart, err)
		}

		if err := li.metadata.SavePassages(ctx, batch); err != nil {
			return Stats{}, fmt.Errorf("save metadata: %w", err)
		}
		if err := li.lexical.Index(ctx, batch); err != nil {
			return Stats{}, fmt.Errorf("lexical index: %w", err)
		}
		if err := li.vector.Add(ctx, batch, vectors); err != nil {
			return Stats{}, fmt.Errorf("vector index: %w", err)
		}

		total += len(batch)
		li.logger.Debug("indexed batch",
			slog.Int("passages", total),
			slog.Int("of", len(corpus.Passages)))
	}

	stats := Stats{
		Passages:    total,
		Collections: len(corpus.Collections),
		Elapsed:     time.Since(start),
	}
	li.logger.Info("corpus indexed",
		slog.Int("passages", stats.Passages),
		slog.Int("collections", stats.Collections),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// Delete removes passages by ID from every store. Best effort: all three
// stores are attempted even if one fails, and the first error is returned.
func (li *LibraryIndexer) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	var firstErr error
	if err := li.lexical.Delete(ctx, ids); err != nil {
		firstErr = fmt.Errorf("lexical delete: %w", err)
	}
	if err := li.vector.Delete(ctx, ids); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("vector delete: %w", err)
	}
	if err := li.metadata.DeletePassages(ctx, ids); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("metadata delete: %w", err)
	}
	return firstErr
}
