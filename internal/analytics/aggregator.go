package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/kafka"
)

// maxLatencies bounds the latency window used for percentiles.
const maxLatencies = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	SpellSubstituted  int64        `json:"spell_substituted"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	TopOrganisms      []QueryCount `json:"top_organisms"`
	Fallbacks         []QueryCount `json:"fallbacks"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	SnapshotsSeen     int64        `json:"snapshots_seen"`
	LastSnapshot      string       `json:"last_snapshot,omitempty"`
	LastSnapshotSize  int          `json:"last_snapshot_records"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals over search and snapshot events. It is
// fed either in process by a Collector or from Kafka via HandleEvent.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	spellSubstituted  int64
	latencies         []int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	organismCounts    map[string]int64
	fallbackCounts    map[string]int64
	snapshots         int64
	lastSnapshot      SnapshotEvent
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		organismCounts:    make(map[string]int64),
		fallbackCounts:    make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Record accepts a SearchEvent or SnapshotEvent, by value or pointer.
func (a *Aggregator) Record(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.recordSearch(e)
	case *SearchEvent:
		a.recordSearch(*e)
	case SnapshotEvent:
		a.recordSnapshot(e)
	case *SnapshotEvent:
		a.recordSnapshot(*e)
	default:
		a.logger.Warn("unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

// HandleEvent decodes events from the analytics topic into agg. Undecodable
// messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		if env.Type == EventSnapshot {
			event, err := kafka.DecodeJSON[SnapshotEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode snapshot event", "error", err)
				return nil
			}
			agg.Record(event)
			return nil
		}
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode search event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

func (a *Aggregator) recordSearch(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSearches++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if event.SpellSubstituted {
		a.spellSubstituted++
	}
	if len(a.latencies) == maxLatencies {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	if event.Query != "" {
		a.queryCounts[event.Query]++
	}
	if event.TotalHits == 0 {
		a.zeroResults++
		a.zeroResultQueries[describe(event)]++
	}
	for _, org := range event.Organisms {
		a.organismCounts[org]++
	}
	for _, fb := range event.Fallbacks {
		a.fallbackCounts[fb]++
	}
}

func (a *Aggregator) recordSnapshot(event SnapshotEvent) {
	a.mu.Lock()
	a.snapshots++
	a.lastSnapshot = event
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:    a.totalSearches,
		CacheHits:        a.cacheHits,
		CacheMisses:      a.cacheMisses,
		ZeroResultCount:  a.zeroResults,
		SpellSubstituted: a.spellSubstituted,
		SnapshotsSeen:    a.snapshots,
		LastSnapshot:     a.lastSnapshot.Version,
		LastSnapshotSize: a.lastSnapshot.Records,
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopOrganisms = topN(a.organismCounts, 10)
	stats.Fallbacks = topN(a.fallbackCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

// describe labels a query for the zero-result table: the free text when
// present, otherwise its facets.
func describe(e SearchEvent) string {
	if e.Query != "" {
		return e.Query
	}
	b, _ := json.Marshal(struct {
		O []string `json:"organism,omitempty"`
		P []string `json:"project_type,omitempty"`
		K []string `json:"keywords,omitempty"`
	}{e.Organisms, e.ProjectTypes, e.Keywords})
	return string(b)
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
