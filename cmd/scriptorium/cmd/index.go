package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptorium/scriptorium/internal/config"
	"github.com/scriptorium/scriptorium/internal/embed"
	"github.com/scriptorium/scriptorium/internal/output"
	"github.com/scriptorium/scriptorium/pkg/indexer"
)

func newIndexCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "index <corpus.yaml>",
		Short: "Index a corpus file into the library",
		Long: `Index a corpus file into the library.

The corpus file declares collections (with tradition and authority tier)
and the passages belonging to them. Passages are embedded, written to the
lexical and vector indexes, and their metadata saved. Re-indexing an
existing passage ID replaces its content.

Example:
  scriptorium index corpus.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", indexer.DefaultBatchSize, "Passages embedded and written per batch")

	return cmd
}

func runIndex(cmd *cobra.Command, corpusPath string, batchSize int) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	corpus, err := indexer.LoadCorpus(corpusPath)
	if err != nil {
		return err
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	embedder := embed.NewCachedEmbedder(embed.NewStaticEmbedder(), embed.DefaultEmbeddingCacheSize)
	defer func() { _ = embedder.Close() }()

	li, err := indexer.New(stores.lexical, stores.vector, stores.metadata, embedder,
		indexer.WithBatchSize(batchSize))
	if err != nil {
		return err
	}

	stats, err := li.Index(ctx, corpus)
	if err != nil {
		return fmt.Errorf("index corpus: %w", err)
	}

	if err := stores.vector.Save(stores.vectorPath); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}

	out.Successf("indexed %d passages across %d collections in %s",
		stats.Passages, stats.Collections, stats.Elapsed.Round(time.Millisecond))
	return nil
}
