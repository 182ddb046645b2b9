package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scriptorium/scriptorium/internal/cache"
	scerrors "github.com/scriptorium/scriptorium/internal/errors"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/store"
	"github.com/scriptorium/scriptorium/internal/telemetry"
)

// Engine is the retrieval root: it validates and normalizes queries,
// consults the backends in parallel, fuses and ranks the candidates, and
// serves repeated queries from the coalescing cache.
type Engine struct {
	lexical  store.LexicalBackend
	vector   store.VectorBackend
	metadata store.MetadataStore

	embed      EmbedFunc
	translator *filter.Translator
	cache      *cache.Cache[*searchOutcome]
	config     EngineConfig
	logger     *slog.Logger
	metrics    *telemetry.QueryMetrics

	lexBreaker *scerrors.CircuitBreaker
	vecBreaker *scerrors.CircuitBreaker
}

// ErrNilDependency is returned when a required collaborator is missing.
var ErrNilDependency = stderrors.New("nil dependency")

// searchOutcome is the cached unit: the ranked page plus the diagnostics
// that describe how it was computed. Caching both keeps a warm response
// indistinguishable from the cold one that produced it.
type searchOutcome struct {
	Results          []*RankedResult
	Backends         []BackendStatus
	Degraded         bool
	TotalCandidates  int
	EmptyAfterEnrich bool
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEmbedFunc injects the text-to-vector function used when a semantic
// or hybrid query arrives without a pre-computed vector.
func WithEmbedFunc(fn EmbedFunc) EngineOption {
	return func(e *Engine) {
		e.embed = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets an optional query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a retrieval engine over the three collaborators.
func NewEngine(
	lexical store.LexicalBackend,
	vector store.VectorBackend,
	metadata store.MetadataStore,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical backend", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector backend", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store", ErrNilDependency)
	}

	defaults := DefaultEngineConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if config.OverfetchFactor <= 0 {
		config.OverfetchFactor = defaults.OverfetchFactor
	}
	if config.BackendTimeout <= 0 {
		config.BackendTimeout = defaults.BackendTimeout
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = defaults.SearchTimeout
	}
	if config.Weights == (Weights{}) {
		config.Weights = defaults.Weights
	}
	if config.CacheCapacity <= 0 {
		config.CacheCapacity = defaults.CacheCapacity
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.BreakerMaxFailures <= 0 {
		config.BreakerMaxFailures = defaults.BreakerMaxFailures
	}
	if config.BreakerResetTimeout <= 0 {
		config.BreakerResetTimeout = defaults.BreakerResetTimeout
	}

	breakerOpts := []scerrors.CircuitBreakerOption{
		scerrors.WithMaxFailures(config.BreakerMaxFailures),
		scerrors.WithResetTimeout(config.BreakerResetTimeout),
	}

	e := &Engine{
		lexical:    lexical,
		vector:     vector,
		metadata:   metadata,
		translator: filter.NewTranslator(),
		config:     config,
		logger:     slog.Default(),
		lexBreaker: scerrors.NewCircuitBreaker(BackendLexical, breakerOpts...),
		vecBreaker: scerrors.NewCircuitBreaker(BackendVector, breakerOpts...),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.cache = cache.New[*searchOutcome](
		cache.WithCapacity[*searchOutcome](config.CacheCapacity),
		cache.WithTTL[*searchOutcome](config.CacheTTL),
		cache.WithComputeTimeout[*searchOutcome](config.SearchTimeout),
		cache.WithLogger[*searchOutcome](e.logger),
	)

	return e, nil
}

// Search executes one retrieval query and returns the ranked result page
// with diagnostics. All failures are scoped to the query; nothing here is
// fatal to the process.
func (e *Engine) Search(ctx context.Context, q Query) ([]*RankedResult, Diagnostics, error) {
	start := time.Now()
	queryID := uuid.NewString()

	diag := Diagnostics{QueryID: queryID}

	norm, err := e.normalizeQuery(q)
	if err != nil {
		diag.Elapsed = time.Since(start)
		return nil, diag, err
	}
	diag.Mode = norm.Mode

	// Invalid filters are rejected synchronously, before any backend or
	// cache interaction.
	lexPred, vecPred, err := e.translator.Translate(norm.Filters)
	if err != nil {
		diag.Elapsed = time.Since(start)
		return nil, diag, err
	}

	fingerprint := Fingerprint(norm)
	outcome, status, err := e.cache.GetOrCompute(ctx, fingerprint,
		func(ctx context.Context) (*searchOutcome, error) {
			return e.execute(ctx, queryID, norm, lexPred, vecPred)
		})

	diag.CacheStatus = status
	diag.Elapsed = time.Since(start)

	if err != nil {
		e.logger.Error("search failed",
			slog.String("query_id", queryID),
			slog.String("mode", string(norm.Mode)),
			slog.String("cache", string(status)),
			slog.String("error", err.Error()))
		return nil, diag, err
	}

	diag.Backends = outcome.Backends
	diag.Degraded = outcome.Degraded
	diag.TotalCandidates = outcome.TotalCandidates
	diag.EmptyAfterEnrich = outcome.EmptyAfterEnrich

	e.logger.Info("search completed",
		slog.String("query_id", queryID),
		slog.String("mode", string(norm.Mode)),
		slog.String("cache", string(status)),
		slog.Bool("degraded", outcome.Degraded),
		slog.Int("candidates", outcome.TotalCandidates),
		slog.Int("results", len(outcome.Results)),
		slog.Duration("elapsed", diag.Elapsed))

	if e.metrics != nil {
		e.metrics.Record(telemetry.QueryEvent{
			Query:       norm.Text,
			Mode:        string(norm.Mode),
			ResultCount: len(outcome.Results),
			Latency:     diag.Elapsed,
			CacheStatus: string(status),
			Degraded:    outcome.Degraded,
			Timestamp:   time.Now(),
		})
	}

	return outcome.Results, diag, nil
}

// normalizeQuery validates q and fills defaults without mutating the
// caller's value.
func (e *Engine) normalizeQuery(q Query) (Query, error) {
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if !q.Mode.Valid() {
		return q, scerrors.New(scerrors.ErrCodeInvalidMode,
			fmt.Sprintf("unknown search mode %q", q.Mode), nil)
	}

	if normalizeText(q.Text) == "" {
		// A semantic query may run from a pre-computed vector alone.
		if !(q.Mode == ModeSemantic && len(q.Vector) > 0) {
			return q, scerrors.New(scerrors.ErrCodeQueryEmpty,
				"query text is empty", nil)
		}
	}

	weights, err := e.normalizeWeights(q.Mode, q.Weights)
	if err != nil {
		return q, err
	}
	q.Weights = weights

	if q.Limit <= 0 {
		q.Limit = e.config.DefaultLimit
	}
	if q.Limit > e.config.MaxLimit {
		q.Limit = e.config.MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	return q, nil
}

// normalizeWeights applies defaults, forces the unused weight to zero in
// single-backend modes, and rescales so the weights sum to 1.
func (e *Engine) normalizeWeights(mode Mode, w Weights) (Weights, error) {
	if w == (Weights{}) {
		w = e.config.Weights
	}
	if w.Lexical < 0 || w.Vector < 0 {
		return w, scerrors.New(scerrors.ErrCodeInvalidWeights,
			fmt.Sprintf("fusion weights must be non-negative, got %g/%g", w.Lexical, w.Vector), nil)
	}

	switch mode {
	case ModeLexical:
		w.Vector = 0
	case ModeSemantic:
		w.Lexical = 0
	}

	sum := w.Lexical + w.Vector
	if sum <= 0 {
		return w, scerrors.New(scerrors.ErrCodeInvalidWeights,
			fmt.Sprintf("fusion weights for mode %s must sum to a positive value", mode), nil)
	}

	return Weights{Lexical: w.Lexical / sum, Vector: w.Vector / sum}, nil
}

// execute runs the full pipeline: parallel retrieval, fusion, enrichment,
// ranking. Called once per fingerprint as the cache leader.
func (e *Engine) execute(ctx context.Context, queryID string, q Query, lexPred *filter.LexicalPredicate, vecPred *filter.VectorPredicate) (*searchOutcome, error) {
	// Over-fetch so the authority floor and re-ranking can reorder
	// without starving the requested window.
	fetch := (q.Offset + q.Limit) * e.config.OverfetchFactor

	lexStatus := BackendStatus{Name: BackendLexical}
	vecStatus := BackendStatus{Name: BackendVector}
	var lexCands, vecCands []*store.Candidate

	// Backend failures are recoverable, so the goroutines record them in
	// the status structs instead of returning them; an error return
	// would cancel the sibling retrieval through the group context.
	g, gctx := errgroup.WithContext(ctx)

	if q.Mode != ModeSemantic {
		lexStatus.Consulted = true
		g.Go(func() error {
			cands, err := e.retrieveLexical(gctx, q.Text, lexPred, fetch)
			if err != nil {
				lexStatus.Error = err.Error()
				e.logger.Warn("lexical retrieval failed",
					slog.String("query_id", queryID),
					slog.String("error", err.Error()))
				return nil
			}
			lexStatus.Succeeded = true
			lexStatus.Candidates = len(cands)
			lexCands = cands
			return nil
		})
	}

	if q.Mode != ModeLexical {
		vecStatus.Consulted = true
		g.Go(func() error {
			cands, err := e.retrieveVector(gctx, q, vecPred, fetch)
			if err != nil {
				vecStatus.Error = err.Error()
				e.logger.Warn("vector retrieval failed",
					slog.String("query_id", queryID),
					slog.String("error", err.Error()))
				return nil
			}
			vecStatus.Succeeded = true
			vecStatus.Candidates = len(cands)
			vecCands = cands
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, scerrors.Wrap(scerrors.ErrCodeInternal, err)
	}

	consulted, failed := 0, 0
	var causes []string
	for _, s := range []BackendStatus{lexStatus, vecStatus} {
		if s.Consulted {
			consulted++
			if !s.Succeeded {
				failed++
				causes = append(causes, s.Name+": "+s.Error)
			}
		}
	}
	if consulted > 0 && failed == consulted {
		// Nothing survived; the error propagates to every coalesced
		// waiter and no cache entry is stored.
		return nil, scerrors.SearchUnavailable(stderrors.New(strings.Join(causes, "; ")))
	}

	fused := Fuse(lexCands, vecCands, q.Weights)

	enriched, err := e.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}

	ranked := Rank(enriched, q.Filters.MinAuthority, q.Offset, q.Limit)

	return &searchOutcome{
		Results:          ranked,
		Backends:         []BackendStatus{lexStatus, vecStatus},
		Degraded:         failed > 0,
		TotalCandidates:  len(fused),
		EmptyAfterEnrich: len(fused) > 0 && len(enriched) == 0,
	}, nil
}

// retrieveLexical queries the lexical backend through its circuit breaker
// with a per-call timeout.
func (e *Engine) retrieveLexical(ctx context.Context, text string, pred *filter.LexicalPredicate, limit int) ([]*store.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.BackendTimeout)
	defer cancel()

	var cands []*store.Candidate
	err := e.lexBreaker.Execute(func() error {
		var qerr error
		cands, qerr = e.lexical.Query(callCtx, text, pred, limit)
		return qerr
	})
	if err != nil {
		return nil, classifyBackendError(BackendLexical, err)
	}
	return cands, nil
}

// retrieveVector resolves the query vector (caller-supplied or embedded)
// and queries the vector backend through its circuit breaker.
func (e *Engine) retrieveVector(ctx context.Context, q Query, pred *filter.VectorPredicate, limit int) ([]*store.Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.BackendTimeout)
	defer cancel()

	vector := q.Vector
	if len(vector) == 0 {
		if e.embed == nil {
			return nil, scerrors.New(scerrors.ErrCodeEmbedFailed,
				"no query vector supplied and no embed function configured", nil)
		}
		var err error
		vector, err = e.embed(callCtx, q.Text)
		if err != nil {
			return nil, scerrors.New(scerrors.ErrCodeEmbedFailed,
				"embedding query text failed", err)
		}
	}

	var cands []*store.Candidate
	err := e.vecBreaker.Execute(func() error {
		var qerr error
		cands, qerr = e.vector.Query(callCtx, vector, pred, limit)
		return qerr
	})
	if err != nil {
		return nil, classifyBackendError(BackendVector, err)
	}
	return cands, nil
}

// enrich joins fused candidates against the metadata store in one batch.
// Candidates without metadata are dropped: a deleted or unsynced passage
// must vanish from results rather than surface with null fields.
func (e *Engine) enrich(ctx context.Context, fused []*fusedCandidate) ([]*RankedResult, error) {
	if len(fused) == 0 {
		return []*RankedResult{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.PassageID
	}

	passages, err := e.metadata.GetByIDs(ctx, ids)
	if err != nil {
		return nil, scerrors.New(scerrors.ErrCodeMetadataFailed,
			"metadata batch lookup failed", err)
	}

	byID := make(map[string]*store.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}

	results := make([]*RankedResult, 0, len(fused))
	for _, f := range fused {
		p, ok := byID[f.PassageID]
		if !ok {
			e.logger.Debug("dropping candidate without metadata",
				slog.String("passage_id", f.PassageID))
			continue
		}
		results = append(results, &RankedResult{
			PassageID:   f.PassageID,
			Passage:     p,
			Score:       f.Combined,
			LexScore:    f.LexScore,
			VecScore:    f.VecScore,
			Tier:        p.EffectiveTier(),
			SourceMatch: f.SourceMatch,
		})
	}

	return results, nil
}

// classifyBackendError maps raw backend failures onto the retrieval error
// taxonomy.
func classifyBackendError(backend string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return scerrors.New(scerrors.ErrCodeBackendTimeout,
			fmt.Sprintf("%s backend timed out", backend), err)
	}
	if stderrors.Is(err, scerrors.ErrCircuitOpen) {
		return scerrors.New(scerrors.ErrCodeBackendUnavailable,
			fmt.Sprintf("%s backend circuit open", backend), err)
	}
	return scerrors.BackendError(fmt.Sprintf("%s backend failed", backend), err)
}

// InvalidateCache drops every cached result. Re-tiering a collection is a
// cache-invalidation event: any cached ordering may be stale.
func (e *Engine) InvalidateCache() {
	e.cache.Purge()
}

// CacheLen reports the number of live cache entries.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}
