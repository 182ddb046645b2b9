package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/scriptorium/scriptorium/internal/filter"
)

// HNSWVectorBackend implements VectorBackend on a coder/hnsw cosine graph.
// The graph has no native predicate support, so each passage's filterable
// attributes are kept in a sidecar map and filtered queries over-fetch
// neighbors before applying the predicate.
type HNSWVectorBackend struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	// ID mapping (string <-> uint64) plus per-passage filter attributes.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	attrs   map[string]filter.PassageAttrs
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob persistence shape for ID mappings and attrs.
type vectorMetadata struct {
	IDMap   map[string]uint64
	Attrs   map[string]filter.PassageAttrs
	NextKey uint64
	Config  VectorConfig
}

// ErrDimensionMismatch indicates a vector with the wrong dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// NewHNSWVectorBackend creates a new HNSW-based vector backend.
func NewHNSWVectorBackend(cfg VectorConfig) (*HNSWVectorBackend, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 48
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 4
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWVectorBackend{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		attrs:  make(map[string]filter.PassageAttrs),
	}, nil
}

// Add inserts passage embeddings with their filterable attributes.
// Re-adding an existing ID replaces it via lazy deletion (the old graph
// node is orphaned, not removed).
func (s *HNSWVectorBackend) Add(ctx context.Context, passages []*Passage, vectors [][]float32) error {
	if len(passages) == 0 {
		return nil
	}
	if len(passages) != len(vectors) {
		return fmt.Errorf("passages and vectors length mismatch: %d vs %d", len(passages), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector backend is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, p := range passages {
		if existingKey, exists := s.idMap[p.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, p.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID
		s.attrs[p.ID] = filter.PassageAttrs{
			Tradition:  p.Tradition,
			Collection: p.Collection,
			Language:   p.Language,
			Date:       p.Date,
		}
	}

	return nil
}

// Query finds up to limit nearest neighbors satisfying pred.
func (s *HNSWVectorBackend) Query(ctx context.Context, vector []float32, pred *filter.VectorPredicate, limit int) ([]*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector backend is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(vector) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}

	if s.graph.Len() == 0 || limit <= 0 {
		return []*Candidate{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeVectorInPlace(query)

	// Over-fetch so post-filtering still fills the page.
	k := limit
	if !pred.IsEmpty() {
		k = limit * s.config.OverfetchFactor
	}
	if graphLen := s.graph.Len(); k > graphLen {
		k = graphLen
	}

	nodes := s.graph.Search(query, k)

	candidates := make([]*Candidate, 0, limit)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted node
		}
		if !pred.Matches(s.attrs[id]) {
			continue
		}

		distance := s.graph.Distance(query, node.Value)
		candidates = append(candidates, &Candidate{
			PassageID: id,
			Score:     cosineDistanceToScore(distance),
			Source:    SourceVector,
		})
		if len(candidates) == limit {
			break
		}
	}

	return candidates, nil
}

// Delete removes passage vectors by ID using lazy deletion.
func (s *HNSWVectorBackend) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector backend is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.attrs, id)
		}
	}

	return nil
}

// Count returns the number of live vectors.
func (s *HNSWVectorBackend) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Save persists the graph and ID mappings to disk (temp file + rename).
func (s *HNSWVectorBackend) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector backend is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *HNSWVectorBackend) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:   s.idMap,
		Attrs:   s.attrs,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mappings from disk.
func (s *HNSWVectorBackend) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector backend is closed")
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	return nil
}

func (s *HNSWVectorBackend) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer file.Close()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.attrs = meta.Attrs
	s.nextKey = meta.NextKey
	s.config = meta.Config

	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases the backend.
func (s *HNSWVectorBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// normalizeVectorInPlace scales v to unit length for cosine similarity.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// cosineDistanceToScore converts cosine distance (0-2) to similarity (0-1).
func cosineDistanceToScore(distance float32) float64 {
	return float64(1.0 - distance/2.0)
}
