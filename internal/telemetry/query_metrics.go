// Package telemetry collects query metrics for retrieval tuning.
// All data stays in memory and local - no external reporting.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent represents a single served search query.
type QueryEvent struct {
	Query       string
	Mode        string
	ResultCount int
	Latency     time.Duration
	CacheStatus string
	Degraded    bool
	Timestamp   time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms extracts searchable terms from a query string.
// Terms are lowercased and filtered to minimum length 3.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the collected metrics.
type Snapshot struct {
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	CacheHits           int64                   `json:"cache_hits"`
	CacheCoalesced      int64                   `json:"cache_coalesced"`
	DegradedCount       int64                   `json:"degraded_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// CacheHitRatio returns the fraction of queries served from cache,
// counting coalesced waiters as hits.
func (s *Snapshot) CacheHitRatio() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.CacheHits+s.CacheCoalesced) / float64(s.TotalQueries)
}

// Config configures the metrics collector.
type Config struct {
	TopTermsCapacity    int // max distinct terms to track
	ZeroResultsCapacity int // max zero-result queries to keep
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
	}
}

// QueryMetrics collects query telemetry. Thread-safe.
type QueryMetrics struct {
	mu sync.RWMutex

	config      Config
	modeCounts  map[string]int64
	termCounts  map[string]int64
	latencies   map[LatencyBucket]int64
	zeroResults *CircularBuffer[string]

	totalQueries   int64
	zeroResultN    int64
	cacheHits      int64
	cacheCoalesced int64
	degradedN      int64
	since          time.Time
}

// NewQueryMetrics creates a metrics collector.
func NewQueryMetrics(config Config) *QueryMetrics {
	if config.TopTermsCapacity <= 0 {
		config.TopTermsCapacity = DefaultConfig().TopTermsCapacity
	}
	if config.ZeroResultsCapacity <= 0 {
		config.ZeroResultsCapacity = DefaultConfig().ZeroResultsCapacity
	}
	return &QueryMetrics{
		config:      config,
		modeCounts:  make(map[string]int64),
		termCounts:  make(map[string]int64),
		latencies:   make(map[LatencyBucket]int64),
		zeroResults: NewCircularBuffer[string](config.ZeroResultsCapacity),
		since:       time.Now(),
	}
}

// Record ingests one query event.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.modeCounts[event.Mode]++
	m.latencies[LatencyToBucket(event.Latency)]++

	switch event.CacheStatus {
	case "hit":
		m.cacheHits++
	case "coalesced":
		m.cacheCoalesced++
	}
	if event.Degraded {
		m.degradedN++
	}

	if event.IsZeroResult() {
		m.zeroResultN++
		m.zeroResults.Add(event.Query)
	}

	for _, term := range ExtractTerms(event.Query) {
		// Cap tracked terms; existing terms keep counting.
		if _, tracked := m.termCounts[term]; !tracked && len(m.termCounts) >= m.config.TopTermsCapacity {
			continue
		}
		m.termCounts[term]++
	}
}

// Snapshot returns a copy of the current metrics.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	modes := make(map[string]int64, len(m.modeCounts))
	for k, v := range m.modeCounts {
		modes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, len(m.termCounts))
	for term, count := range m.termCounts {
		terms = append(terms, TermCount{Term: term, Count: count})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return Snapshot{
		ModeCounts:          modes,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultN,
		CacheHits:           m.cacheHits,
		CacheCoalesced:      m.cacheCoalesced,
		DegradedCount:       m.degradedN,
		Since:               m.since,
	}
}
