package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/cache"
	scerrors "github.com/scriptorium/scriptorium/internal/errors"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/store"
)

// stubLexical is a call-counting lexical backend.
type stubLexical struct {
	mu         sync.Mutex
	calls      atomic.Int32
	candidates []*store.Candidate
	err        error
	delay      time.Duration
}

func (s *stubLexical) Query(ctx context.Context, text string, pred *filter.LexicalPredicate, limit int) ([]*store.Candidate, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.candidates) {
		return s.candidates[:limit], nil
	}
	return s.candidates, nil
}

func (s *stubLexical) Close() error { return nil }

// stubVector is a call-counting vector backend.
type stubVector struct {
	mu         sync.Mutex
	calls      atomic.Int32
	candidates []*store.Candidate
	err        error
}

func (s *stubVector) Query(ctx context.Context, vector []float32, pred *filter.VectorPredicate, limit int) ([]*store.Candidate, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.candidates) {
		return s.candidates[:limit], nil
	}
	return s.candidates, nil
}

func (s *stubVector) Close() error { return nil }

// stubMetadata serves passages from a fixed map.
type stubMetadata struct {
	passages map[string]*store.Passage
	err      error
}

func (s *stubMetadata) GetByIDs(ctx context.Context, ids []string) ([]*store.Passage, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*store.Passage
	for _, id := range ids {
		if p, ok := s.passages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubMetadata) Close() error { return nil }

func passageWithTier(id string, tier authority.Tier) *store.Passage {
	return &store.Passage{ID: id, DocumentID: "doc-" + id, Title: id, CollectionTier: tier}
}

func staticEmbed(vec []float32) EmbedFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return vec, nil
	}
}

type engineFixture struct {
	lexical  *stubLexical
	vector   *stubVector
	metadata *stubMetadata
	engine   *Engine
}

func newFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()

	f := &engineFixture{
		lexical:  &stubLexical{},
		vector:   &stubVector{},
		metadata: &stubMetadata{passages: map[string]*store.Passage{}},
	}

	opts = append([]EngineOption{WithEmbedFunc(staticEmbed([]float32{1, 0, 0, 0}))}, opts...)
	engine, err := NewEngine(f.lexical, f.vector, f.metadata, EngineConfig{
		CacheTTL: time.Minute,
	}, opts...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func TestEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, &stubVector{}, &stubMetadata{}, EngineConfig{})
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(&stubLexical{}, nil, &stubMetadata{}, EngineConfig{})
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(&stubLexical{}, &stubVector{}, nil, EngineConfig{})
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestEngine_HybridFusesBothBackends(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{
		lexCandidate("a", 10.0),
		lexCandidate("b", 5.0),
	}
	f.vector.candidates = []*store.Candidate{
		vecCandidate("a", 0.9),
		vecCandidate("c", 0.7),
	}
	f.metadata.passages = map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
		"b": passageWithTier("b", authority.TierReference),
		"c": passageWithTier("c", authority.TierReference),
	}

	results, diag, err := f.engine.Search(context.Background(), Query{Text: "divine unity"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// "a" matched both backends at the top of each set.
	assert.Equal(t, "a", results[0].PassageID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.True(t, results[0].SourceMatch)

	assert.Equal(t, ModeHybrid, diag.Mode)
	assert.False(t, diag.Degraded)
	assert.Equal(t, 3, diag.TotalCandidates)
	assert.NotEmpty(t, diag.QueryID)
	for _, b := range diag.Backends {
		assert.True(t, b.Consulted)
		assert.True(t, b.Succeeded)
	}
	assertOrderingLaw(t, results)
}

func TestEngine_LexicalOnlyIgnoresVectorBackend(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("a", 2.0)}
	f.vector.candidates = []*store.Candidate{vecCandidate("vec-only", 0.9)}
	f.metadata.passages = map[string]*store.Passage{
		"a":        passageWithTier("a", authority.TierReference),
		"vec-only": passageWithTier("vec-only", authority.TierSacredText),
	}

	results, diag, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeLexical})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].PassageID)
	assert.Equal(t, int32(0), f.vector.calls.Load())

	for _, b := range diag.Backends {
		if b.Name == BackendVector {
			assert.False(t, b.Consulted)
		}
	}
}

func TestEngine_SemanticOnlyIgnoresLexicalBackend(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("lex-only", 9.0)}
	f.vector.candidates = []*store.Candidate{vecCandidate("v", 0.8)}
	f.metadata.passages = map[string]*store.Passage{
		"lex-only": passageWithTier("lex-only", authority.TierSacredText),
		"v":        passageWithTier("v", authority.TierReference),
	}

	results, _, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeSemantic})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "v", results[0].PassageID)
	assert.False(t, results[0].SourceMatch)
	assert.Equal(t, int32(0), f.lexical.calls.Load())
}

func TestEngine_SemanticOnlyFromVectorAlone(t *testing.T) {
	f := newFixture(t)
	f.vector.candidates = []*store.Candidate{vecCandidate("v", 0.8)}
	f.metadata.passages = map[string]*store.Passage{
		"v": passageWithTier("v", authority.TierReference),
	}

	results, _, err := f.engine.Search(context.Background(),
		Query{Mode: ModeSemantic, Vector: []float32{0, 1, 0, 0}})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestEngine_DegradedWhenVectorFails(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("a", 3.0)}
	f.vector.err = errors.New("connection refused")
	f.metadata.passages = map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
	}

	results, diag, err := f.engine.Search(context.Background(), Query{Text: "psalm"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].PassageID)
	assert.True(t, diag.Degraded)

	for _, b := range diag.Backends {
		switch b.Name {
		case BackendLexical:
			assert.True(t, b.Succeeded)
		case BackendVector:
			assert.True(t, b.Consulted)
			assert.False(t, b.Succeeded)
			assert.NotEmpty(t, b.Error)
		}
	}
}

func TestEngine_BothBackendsFailing(t *testing.T) {
	f := newFixture(t)
	f.lexical.err = errors.New("index corrupt")
	f.vector.err = errors.New("connection refused")

	_, diag, err := f.engine.Search(context.Background(), Query{Text: "psalm"})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeSearchUnavailable, scerrors.GetCode(err))

	// The failure must not be cached.
	assert.Equal(t, cache.StatusMiss, diag.CacheStatus)
	assert.Equal(t, 0, f.engine.CacheLen())
}

func TestEngine_MinimumAuthorityFloor(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{
		lexCandidate("sacred", 1.0),
		lexCandidate("commentary", 9.0),
		lexCandidate("historical", 5.0),
	}
	f.metadata.passages = map[string]*store.Passage{
		"sacred":     passageWithTier("sacred", authority.TierSacredText),
		"commentary": passageWithTier("commentary", authority.TierCommentary),
		"historical": passageWithTier("historical", authority.TierHistorical),
	}

	results, _, err := f.engine.Search(context.Background(), Query{
		Text: "divine unity",
		Mode: ModeLexical,
		Filters: filter.Criteria{
			MinAuthority: authority.TierPublished,
		},
	})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "sacred", results[0].PassageID)
	for _, r := range results {
		assert.GreaterOrEqual(t, int(r.Tier), int(authority.TierPublished))
	}
}

// A Sacred Text passage matching only semantically must outrank a
// Commentary passage matching in both backends.
func TestEngine_AuthorityOutranksDoubleMatch(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("commentary", 10.0)}
	f.vector.candidates = []*store.Candidate{
		vecCandidate("commentary", 0.95),
		vecCandidate("sacred", 0.60),
	}
	f.metadata.passages = map[string]*store.Passage{
		"sacred":     passageWithTier("sacred", authority.TierSacredText),
		"commentary": passageWithTier("commentary", authority.TierCommentary),
	}

	results, _, err := f.engine.Search(context.Background(), Query{
		Text:    "divine unity",
		Weights: Weights{Lexical: 0.6, Vector: 0.4},
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "sacred", results[0].PassageID)
	assert.Equal(t, "commentary", results[1].PassageID)
	assert.Greater(t, results[1].Score, results[0].Score)
}

func TestEngine_CacheTransparency(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{
		lexCandidate("a", 3.0),
		lexCandidate("b", 1.0),
	}
	f.metadata.passages = map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
		"b": passageWithTier("b", authority.TierReference),
	}

	q := Query{Text: "psalm", Mode: ModeLexical}

	first, diag1, err := f.engine.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, diag1.CacheStatus)

	second, diag2, err := f.engine.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusHit, diag2.CacheStatus)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].PassageID, second[i].PassageID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
	assert.Equal(t, int32(1), f.lexical.calls.Load())
}

func TestEngine_CoalescesConcurrentIdenticalQueries(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("a", 3.0)}
	f.lexical.delay = 50 * time.Millisecond
	f.metadata.passages = map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
	}

	q := Query{Text: "psalm", Mode: ModeLexical}

	const concurrent = 10
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, _, err := f.engine.Search(context.Background(), q)
			assert.NoError(t, err)
			assert.Len(t, results, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.lexical.calls.Load())
}

func TestEngine_InvalidFilterRejectedBeforeBackends(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Search(context.Background(), Query{
		Text:    "psalm",
		Filters: filter.Criteria{Tradition: "atlantean"},
	})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeUnknownTradition, scerrors.GetCode(err))
	assert.Equal(t, int32(0), f.lexical.calls.Load())
	assert.Equal(t, int32(0), f.vector.calls.Load())
}

func TestEngine_EmptyQueryRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Search(context.Background(), Query{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeQueryEmpty, scerrors.GetCode(err))
}

func TestEngine_InvalidModeRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Search(context.Background(), Query{Text: "psalm", Mode: "psychic"})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeInvalidMode, scerrors.GetCode(err))
}

func TestEngine_NegativeWeightsRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Search(context.Background(), Query{
		Text:    "psalm",
		Weights: Weights{Lexical: -1, Vector: 2},
	})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeInvalidWeights, scerrors.GetCode(err))
}

func TestEngine_LexicalOnlyWithZeroLexicalWeightRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Search(context.Background(), Query{
		Text:    "psalm",
		Mode:    ModeLexical,
		Weights: Weights{Lexical: 0, Vector: 1},
	})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeInvalidWeights, scerrors.GetCode(err))
}

func TestEngine_MissingMetadataDropsPassage(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{
		lexCandidate("known", 3.0),
		lexCandidate("ghost", 5.0),
	}
	f.metadata.passages = map[string]*store.Passage{
		"known": passageWithTier("known", authority.TierReference),
	}

	results, diag, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeLexical})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "known", results[0].PassageID)
	assert.False(t, diag.EmptyAfterEnrich)
}

func TestEngine_EmptyAfterEnrichFlag(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("ghost", 5.0)}

	results, diag, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeLexical})
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.True(t, diag.EmptyAfterEnrich)
	assert.Equal(t, 1, diag.TotalCandidates)
}

func TestEngine_MetadataStoreFailureFailsQuery(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("a", 3.0)}
	f.metadata.err = errors.New("database locked")

	_, _, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeLexical})
	require.Error(t, err)
	assert.Equal(t, scerrors.ErrCodeMetadataFailed, scerrors.GetCode(err))
}

func TestEngine_InvalidateCache(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{lexCandidate("a", 3.0)}
	f.metadata.passages = map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
	}

	q := Query{Text: "psalm", Mode: ModeLexical}

	_, _, err := f.engine.Search(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, f.engine.CacheLen())

	f.engine.InvalidateCache()
	assert.Equal(t, 0, f.engine.CacheLen())

	_, diag, err := f.engine.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusMiss, diag.CacheStatus)
	assert.Equal(t, int32(2), f.lexical.calls.Load())
}

func TestEngine_OffsetPagination(t *testing.T) {
	f := newFixture(t)
	f.lexical.candidates = []*store.Candidate{
		lexCandidate("a", 4.0),
		lexCandidate("b", 3.0),
		lexCandidate("c", 2.0),
		lexCandidate("d", 1.0),
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		f.metadata.passages[id] = passageWithTier(id, authority.TierReference)
	}

	page, _, err := f.engine.Search(context.Background(),
		Query{Text: "psalm", Mode: ModeLexical, Limit: 2, Offset: 1})
	require.NoError(t, err)

	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].PassageID)
	assert.Equal(t, "c", page[1].PassageID)
}

func TestEngine_BreakerTuningOpensCircuitAfterConfiguredFailures(t *testing.T) {
	lexical := &stubLexical{candidates: []*store.Candidate{lexCandidate("a", 1.0)}}
	vector := &stubVector{err: errors.New("vector down")}
	metadata := &stubMetadata{passages: map[string]*store.Passage{
		"a": passageWithTier("a", authority.TierReference),
	}}

	engine, err := NewEngine(lexical, vector, metadata, EngineConfig{
		CacheTTL:            time.Minute,
		BreakerMaxFailures:  1,
		BreakerResetTimeout: time.Hour,
	}, WithEmbedFunc(staticEmbed([]float32{1, 0, 0, 0})))
	require.NoError(t, err)

	// First query records the failure, opening the circuit at the
	// configured threshold of one.
	_, diag, err := engine.Search(context.Background(), Query{Text: "first probe"})
	require.NoError(t, err)
	assert.True(t, diag.Degraded)
	assert.Equal(t, int32(1), vector.calls.Load())

	// Second query degrades instantly: the open circuit fails fast and the
	// vector backend is never reached.
	_, diag, err = engine.Search(context.Background(), Query{Text: "second probe"})
	require.NoError(t, err)
	assert.True(t, diag.Degraded)
	assert.Equal(t, int32(1), vector.calls.Load())

	var vecStatus BackendStatus
	for _, b := range diag.Backends {
		if b.Name == BackendVector {
			vecStatus = b
		}
	}
	assert.Contains(t, vecStatus.Error, "circuit open")
}
