package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptorium/scriptorium/internal/authority"
	"github.com/scriptorium/scriptorium/internal/config"
	"github.com/scriptorium/scriptorium/internal/embed"
	"github.com/scriptorium/scriptorium/internal/filter"
	"github.com/scriptorium/scriptorium/internal/output"
	"github.com/scriptorium/scriptorium/internal/search"
	"github.com/scriptorium/scriptorium/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit        int
	offset       int
	mode         string
	tradition    string
	collection   string
	language     string
	after        string
	before       string
	minAuthority int
	lexWeight    float64
	vecWeight    float64
	format       string // "text", "json"
	stats        bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed library",
		Long: `Search the indexed library using hybrid retrieval.

Combines lexical (keyword) and semantic (embedding) retrieval with
weighted score fusion, then orders results by authority tier before
relevance: sacred texts outrank commentary at any similarity score.

Examples:
  scriptorium search "the kingdom of heaven"
  scriptorium search "impermanence" --tradition buddhism --limit 5
  scriptorium search "shepherd" --mode lexical-only --min-authority 8
  scriptorium search "divine mercy" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (0 = configured default)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of ranked results to skip")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(search.ModeHybrid), "Retrieval mode: hybrid, lexical-only, semantic-only")
	cmd.Flags().StringVarP(&opts.tradition, "tradition", "t", "", "Filter by tradition (e.g., buddhism, judaism)")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Filter by collection name")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by ISO 639-1 language code")
	cmd.Flags().StringVar(&opts.after, "after", "", "Only passages dated on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.before, "before", "", "Only passages dated on or before (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.minAuthority, "min-authority", 0, "Minimum authority tier 1-10 (0 = no floor)")
	cmd.Flags().Float64Var(&opts.lexWeight, "lexical-weight", 0, "Fusion weight for lexical scores (0 = configured default)")
	cmd.Flags().Float64Var(&opts.vecWeight, "vector-weight", 0, "Fusion weight for semantic scores (0 = configured default)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Show query telemetry after the results")

	return cmd
}

func runSearch(cmd *cobra.Command, queryText string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if err := requireIndex(cfg); err != nil {
		return err
	}

	criteria, err := buildCriteria(opts)
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

	metrics := telemetry.NewQueryMetrics(telemetry.DefaultConfig())

	engine, err := search.NewEngine(stores.lexical, stores.vector, stores.metadata,
		engineConfig(cfg),
		search.WithEmbedFunc(embedder.Embed),
		search.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	query := search.Query{
		Text:    queryText,
		Filters: criteria,
		Limit:   opts.limit,
		Offset:  opts.offset,
		Mode:    search.Mode(opts.mode),
		Weights: search.Weights{Lexical: opts.lexWeight, Vector: opts.vecWeight},
	}

	results, diag, err := engine.Search(ctx, query)
	if err != nil {
		return err
	}

	var snap *telemetry.Snapshot
	if opts.stats {
		s := metrics.Snapshot()
		snap = &s
	}

	if opts.format == "json" {
		return formatJSON(cmd, results, diag, snap)
	}
	formatText(out, queryText, results, diag)
	if snap != nil {
		formatStats(out, snap)
	}
	return nil
}

// buildCriteria converts CLI flags into filter criteria.
func buildCriteria(opts searchOptions) (filter.Criteria, error) {
	criteria := filter.Criteria{
		Tradition:    opts.tradition,
		Collection:   opts.collection,
		Language:     opts.language,
		MinAuthority: authority.Tier(opts.minAuthority),
	}

	if opts.after != "" {
		t, err := time.Parse("2006-01-02", opts.after)
		if err != nil {
			return filter.Criteria{}, fmt.Errorf("invalid --after date %q: expected YYYY-MM-DD", opts.after)
		}
		criteria.DateFrom = &t
	}
	if opts.before != "" {
		t, err := time.Parse("2006-01-02", opts.before)
		if err != nil {
			return filter.Criteria{}, fmt.Errorf("invalid --before date %q: expected YYYY-MM-DD", opts.before)
		}
		criteria.DateTo = &t
	}

	return criteria, nil
}

// engineConfig maps the library configuration onto engine tuning.
func engineConfig(cfg *config.Config) search.EngineConfig {
	return search.EngineConfig{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
		OverfetchFactor: cfg.Search.OverfetchFactor,
		BackendTimeout:  cfg.Search.BackendTimeout,
		SearchTimeout:   cfg.Search.SearchTimeout,
		Weights: search.Weights{
			Lexical: cfg.Search.LexicalWeight,
			Vector:  cfg.Search.VectorWeight,
		},
		CacheCapacity:       cfg.Cache.Capacity,
		CacheTTL:            cfg.Cache.TTL,
		BreakerMaxFailures:  cfg.Backends.CircuitMaxFailures,
		BreakerResetTimeout: cfg.Backends.CircuitResetTimeout,
	}
}

// searchResponse is the JSON output shape.
type searchResponse struct {
	Results     []searchResultJSON  `json:"results"`
	Mode        string              `json:"mode"`
	Degraded    bool                `json:"degraded"`
	CacheStatus string              `json:"cache_status"`
	ElapsedMS   int64               `json:"elapsed_ms"`
	Telemetry   *telemetry.Snapshot `json:"telemetry,omitempty"`
}

type searchResultJSON struct {
	PassageID  string  `json:"passage_id"`
	Title      string  `json:"title,omitempty"`
	Collection string  `json:"collection"`
	Tradition  string  `json:"tradition,omitempty"`
	Tier       int     `json:"tier"`
	TierLabel  string  `json:"tier_label"`
	Score      float64 `json:"score"`
	LexScore   float64 `json:"lexical_score"`
	VecScore   float64 `json:"vector_score"`
	Locator    string  `json:"locator,omitempty"`
	Text       string  `json:"text"`
}

func formatJSON(cmd *cobra.Command, results []*search.RankedResult, diag search.Diagnostics, snap *telemetry.Snapshot) error {
	resp := searchResponse{
		Results:     make([]searchResultJSON, 0, len(results)),
		Mode:        string(diag.Mode),
		Degraded:    diag.Degraded,
		CacheStatus: string(diag.CacheStatus),
		ElapsedMS:   diag.Elapsed.Milliseconds(),
		Telemetry:   snap,
	}
	for _, r := range results {
		resp.Results = append(resp.Results, searchResultJSON{
			PassageID:  r.PassageID,
			Title:      r.Passage.Title,
			Collection: r.Passage.Collection,
			Tradition:  r.Passage.Tradition,
			Tier:       int(r.Tier),
			TierLabel:  r.Tier.Label(),
			Score:      r.Score,
			LexScore:   r.LexScore,
			VecScore:   r.VecScore,
			Locator:    r.Passage.Locator,
			Text:       r.Passage.Text,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func formatText(out *output.Writer, queryText string, results []*search.RankedResult, diag search.Diagnostics) {
	if diag.Degraded {
		for _, b := range diag.Backends {
			if b.Consulted && !b.Succeeded {
				out.Warningf("%s retrieval unavailable, results may be incomplete", b.Name)
			}
		}
	}

	if len(results) == 0 {
		out.Printf("No passages found for %q\n", queryText)
		return
	}

	out.Printf("Found %d passages for %q (%s)\n\n", len(results), queryText,
		diag.Elapsed.Round(time.Millisecond))

	for i, r := range results {
		title := r.Passage.Title
		if title == "" {
			title = r.PassageID
		}
		out.Header(fmt.Sprintf("%d. %s", i+1, title))
		out.Label("source", fmt.Sprintf("%s / %s", r.Passage.Collection, r.Passage.Tradition))
		out.Label("authority", fmt.Sprintf("%d (%s)", r.Tier, r.Tier.Label()))
		out.Label("score", fmt.Sprintf("%.3f (lexical %.3f, semantic %.3f)", r.Score, r.LexScore, r.VecScore))
		if r.Passage.Locator != "" {
			out.Label("locator", r.Passage.Locator)
		}
		out.Detail(snippet(r.Passage.Text, 240))
		out.Println()
	}
}

func formatStats(out *output.Writer, snap *telemetry.Snapshot) {
	out.Rule()
	out.Header("Query telemetry")
	out.Label("queries", fmt.Sprintf("%d", snap.TotalQueries))
	out.Label("cache hit ratio", fmt.Sprintf("%.0f%%", snap.CacheHitRatio()*100))
	out.Label("zero results", fmt.Sprintf("%d (%.0f%%)", snap.ZeroResultCount, snap.ZeroResultPercentage()))
	out.Label("degraded", fmt.Sprintf("%d", snap.DegradedCount))
	for bucket, count := range snap.LatencyDistribution {
		out.Detail(fmt.Sprintf("latency %s: %d", bucket, count))
	}
}

// snippet truncates text to at most n runes on a word boundary.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
