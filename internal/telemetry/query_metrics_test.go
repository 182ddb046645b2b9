package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{25 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{250 * time.Millisecond, BucketP500},
		{800 * time.Millisecond, BucketP1000},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
	}
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []int{3, 4, 5}, buf.Items())
}

func TestCircularBuffer_Empty(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	assert.Empty(t, buf.Items())
	assert.Equal(t, 0, buf.Size())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"divine", "unity"}, ExtractTerms("Divine Unity"))
	assert.Equal(t, []string{"the", "mind"}, ExtractTerms("of the mind"))
	assert.Nil(t, ExtractTerms("   "))
	assert.Nil(t, ExtractTerms("a of"))
}

func TestQueryMetrics_Record(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	m.Record(QueryEvent{Query: "divine unity", Mode: "hybrid", ResultCount: 5,
		Latency: 30 * time.Millisecond, CacheStatus: "miss"})
	m.Record(QueryEvent{Query: "divine unity", Mode: "hybrid", ResultCount: 5,
		Latency: 2 * time.Millisecond, CacheStatus: "hit"})
	m.Record(QueryEvent{Query: "unfindable phrase", Mode: "lexical-only", ResultCount: 0,
		Latency: 40 * time.Millisecond, CacheStatus: "miss", Degraded: true})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.ModeCounts["hybrid"])
	assert.Equal(t, int64(1), snap.ModeCounts["lexical-only"])
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"unfindable phrase"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.DegradedCount)
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(2), snap.LatencyDistribution[BucketP50])
}

func TestQueryMetrics_TopTermsOrdered(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	m.Record(QueryEvent{Query: "shepherd psalm", Mode: "hybrid", ResultCount: 1})
	m.Record(QueryEvent{Query: "shepherd waters", Mode: "hybrid", ResultCount: 1})
	m.Record(QueryEvent{Query: "shepherd", Mode: "hybrid", ResultCount: 1})

	snap := m.Snapshot()
	assert.Equal(t, "shepherd", snap.TopTerms[0].Term)
	assert.Equal(t, int64(3), snap.TopTerms[0].Count)
}

func TestQueryMetrics_Ratios(t *testing.T) {
	m := NewQueryMetrics(DefaultConfig())

	empty := m.Snapshot()
	assert.Zero(t, empty.ZeroResultPercentage())
	assert.Zero(t, empty.CacheHitRatio())

	m.Record(QueryEvent{Query: "a b c", Mode: "hybrid", ResultCount: 0, CacheStatus: "miss"})
	m.Record(QueryEvent{Query: "a b c", Mode: "hybrid", ResultCount: 3, CacheStatus: "hit"})
	m.Record(QueryEvent{Query: "a b c", Mode: "hybrid", ResultCount: 3, CacheStatus: "coalesced"})
	m.Record(QueryEvent{Query: "a b c", Mode: "hybrid", ResultCount: 3, CacheStatus: "miss"})

	snap := m.Snapshot()
	assert.InDelta(t, 25.0, snap.ZeroResultPercentage(), 1e-9)
	assert.InDelta(t, 0.5, snap.CacheHitRatio(), 1e-9)
}

func TestQueryMetrics_TermCapacity(t *testing.T) {
	m := NewQueryMetrics(Config{TopTermsCapacity: 2, ZeroResultsCapacity: 2})

	m.Record(QueryEvent{Query: "alpha beta gamma delta", Mode: "hybrid", ResultCount: 1})

	snap := m.Snapshot()
	assert.Len(t, snap.TopTerms, 2)
}
