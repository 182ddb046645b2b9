package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scriptorium/scriptorium/internal/config"
	"github.com/scriptorium/scriptorium/internal/store"
)

// Index file names under the data directory.
const (
	lexicalIndexName = "lexical.bleve"
	vectorIndexName  = "vectors.hnsw"
	metadataName     = "metadata.db"
)

// libraryStores bundles the three opened retrieval stores.
type libraryStores struct {
	lexical  *store.BleveLexicalBackend
	vector   *store.HNSWVectorBackend
	metadata *store.SQLiteMetadataStore

	vectorPath string
}

// Close closes all stores, returning the first error.
func (s *libraryStores) Close() error {
	var firstErr error
	if err := s.lexical.Close(); err != nil {
		firstErr = err
	}
	if err := s.vector.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// openStores opens the library stores under the configured data directory.
// The vector index is loaded from disk when a snapshot exists.
func openStores(cfg *config.Config) (*libraryStores, error) {
	dataDir := cfg.Paths.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lexical, err := store.NewBleveLexicalBackend(filepath.Join(dataDir, lexicalIndexName))
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	vectorCfg := store.VectorConfig{
		Dimensions:      cfg.Backends.Dimensions,
		M:               cfg.Backends.HNSWM,
		EfSearch:        cfg.Backends.HNSWEfSearch,
		OverfetchFactor: cfg.Search.OverfetchFactor,
	}
	vector, err := store.NewHNSWVectorBackend(vectorCfg)
	if err != nil {
		lexical.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	vectorPath := filepath.Join(dataDir, vectorIndexName)
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vector.Load(vectorPath); err != nil {
			lexical.Close()
			vector.Close()
			return nil, fmt.Errorf("load vector index: %w", err)
		}
	}

	metadata, err := store.NewSQLiteMetadataStore(filepath.Join(dataDir, metadataName))
	if err != nil {
		lexical.Close()
		vector.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	return &libraryStores{
		lexical:    lexical,
		vector:     vector,
		metadata:   metadata,
		vectorPath: vectorPath,
	}, nil
}

// requireIndex fails with a helpful message when the library has never
// been indexed.
func requireIndex(cfg *config.Config) error {
	path := filepath.Join(cfg.Paths.DataDir, metadataName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Run 'scriptorium index <corpus.yaml>' first", cfg.Paths.DataDir)
	}
	return nil
}
