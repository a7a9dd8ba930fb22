package analytics

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
)

// maxLatencies bounds the latency window used for percentiles.
const maxLatencies = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	TotalIndexed      int64        `json:"total_reports_indexed"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	LastRevision      string       `json:"last_revision,omitempty"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running totals of search and index events. It records
// events handed to it in process and, through HandleEvent, events read from
// Kafka.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	totalIndexed      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	latencies         latencyWindow
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	lastRevision      string
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes messages from the search and index topics and records
// them. Undecodable messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventSearch:
			event, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode search event", "error", err)
				return nil
			}
			agg.RecordSearch(event)
		case EventReportsIndexed:
			event, err := kafka.DecodeJSON[IndexEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode index event", "error", err)
				return nil
			}
			agg.RecordIndex(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", envelope.Type)
		}
		return nil
	}
}

// RecordSearch counts one search. Queries are counted after trimming
// surrounding space; blank queries only count towards the totals.
func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.totalSearches.Add(1)

	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	if event.TotalHits == 0 {
		a.zeroResults.Add(1)
	}

	query := strings.TrimSpace(event.Query)
	a.mu.Lock()
	a.latencies.add(event.LatencyMs)
	if query != "" {
		a.queryCounts[query]++
		if event.TotalHits == 0 {
			a.zeroResultQueries[query]++
		}
	}
	a.mu.Unlock()
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	n := event.Reports
	if n == 0 {
		n = len(event.Paths)
	}
	a.totalIndexed.Add(int64(n))
	a.mu.Lock()
	a.lastRevision = event.Revision
	a.mu.Unlock()
}

// Trending returns the n most frequent queries, ties broken by query.
func (a *Aggregator) Trending(n int) []QueryCount {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return topN(a.queryCounts, n)
}

// Restore seeds the counters from a saved snapshot. Latency percentiles
// start empty.
func (a *Aggregator) Restore(s AggregatedStats) {
	a.totalSearches.Store(s.TotalSearches)
	a.totalIndexed.Store(s.TotalIndexed)
	a.cacheHits.Store(s.CacheHits)
	a.cacheMisses.Store(s.CacheMisses)
	a.zeroResults.Store(s.ZeroResultCount)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range s.TopQueries {
		a.queryCounts[q.Query] += q.Count
	}
	for _, q := range s.ZeroResultQueries {
		a.zeroResultQueries[q.Query] += q.Count
	}
	if a.lastRevision == "" {
		a.lastRevision = s.LastRevision
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		TotalIndexed:    a.totalIndexed.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		LastRevision:    a.lastRevision,
	}
	if sorted := a.latencies.sorted(); len(sorted) > 0 {
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
	elapsed := a.now().Sub(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

// latencyWindow keeps the last maxLatencies samples in a ring.
type latencyWindow struct {
	samples []int64
	next    int
}

func (w *latencyWindow) add(ms int64) {
	if len(w.samples) < maxLatencies {
		w.samples = append(w.samples, ms)
		return
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % maxLatencies
}

// oldest returns the earliest sample still in the window.
func (w *latencyWindow) oldest() int64 {
	return w.samples[w.next]
}

func (w *latencyWindow) len() int { return len(w.samples) }

func (w *latencyWindow) sorted() []int64 {
	out := slices.Clone(w.samples)
	slices.Sort(out)
	return out
}

// percentile uses the nearest-rank index pct*n/100 on sorted samples.
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
	slices.SortFunc(result, func(a, b QueryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Query, b.Query)
	})
	if n >= 0 && len(result) > n {
		result = result[:n]
	}
	return result
}
