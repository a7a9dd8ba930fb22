// Package searcher answers free-text queries over the report index. Service
// ties the query parser, executor, result cache and search analytics
// together; the subpackages hold each stage.
package searcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/index"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/cache"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/parser"
	"github.com/OnlineMo/DeepResearch-Web/pkg/logger"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

const (
	// MaxSuggestions caps the suggestion list.
	MaxSuggestions = 10
	// DefaultTrending is the trending list length when none is requested.
	DefaultTrending = 5
)

// FallbackTrending is served until any query has been recorded.
var FallbackTrending = []string{"国际政治", "经济分析", "社会热点", "科技发展", "文化现象"}

// TrendingSource ranks recorded queries. *analytics.Aggregator satisfies it.
type TrendingSource interface {
	Trending(n int) []analytics.QueryCount
}

// Option configures a Service.
type Option func(*Service)

// WithCache puts a result cache in front of the executor. The cache is
// flushed after every index build or update.
func WithCache(c *cache.QueryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRecorder sends a SearchEvent for every executed query.
func WithRecorder(r analytics.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithTrending(t TrendingSource) Option {
	return func(s *Service) { s.trending = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

type Service struct {
	engine   *indexer.Engine
	exec     *executor.Executor
	cache    *cache.QueryCache
	recorder analytics.Recorder
	trending TrendingSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(engine *indexer.Engine, exec *executor.Executor, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		exec:     exec,
		recorder: analytics.Discard,
		logger:   slog.Default().With("component", "search-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache != nil {
		engine.OnChange(func(kind string, n int) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.cache.Invalidate(ctx); err != nil {
				s.logger.Error("cache invalidation after index change failed", "kind", kind, "error", err)
			}
		})
	}
	return s
}

// Executor exposes the executor, mainly for its result ceiling.
func (s *Service) Executor() *executor.Executor { return s.exec }

// Cache returns the result cache, nil when caching is off.
func (s *Service) Cache() *cache.QueryCache { return s.cache }

// Search runs query with opts. A query without indexable terms returns an
// empty result without touching the index or the cache.
func (s *Service) Search(ctx context.Context, query string, opts executor.Options) (*executor.SearchResult, error) {
	start := time.Now()
	plan := parser.Parse(query)
	if plan.Empty() {
		return executor.Empty(query), nil
	}

	var (
		result *executor.SearchResult
		hit    bool
		err    error
	)
	compute := func() (*executor.SearchResult, error) {
		return s.exec.Execute(ctx, plan, opts)
	}
	if s.cache != nil {
		result, hit, err = s.cache.GetOrCompute(ctx, query, opts, compute)
	} else {
		result, err = compute()
	}
	elapsed := time.Since(start)
	if err != nil {
		s.observe("error", hit, elapsed, 0)
		return nil, err
	}

	resultType := "miss"
	switch {
	case result.TotalHits == 0:
		resultType = "zero_result"
	case hit:
		resultType = "hit"
	}
	s.observe(resultType, hit, elapsed, len(result.Results))

	event := analytics.NewSearchEvent(query, plan.Terms)
	event.Filters = filtersOf(opts)
	event.TotalHits = result.TotalHits
	event.Returned = len(result.Results)
	event.LatencyMs = elapsed.Milliseconds()
	event.CacheHit = hit
	event.RequestID = logger.RequestID(ctx)
	s.recorder.RecordSearch(event)

	logger.FromContext(ctx).Debug("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", hit,
		"latency", elapsed,
	)
	return result, nil
}

// Suggestions lists title tokens that contain prefix anywhere, most common
// first. Prefixes shorter than two runes return nothing.
func (s *Service) Suggestions(prefix string) []string {
	p, ok := parser.NormalizePrefix(prefix)
	if !ok {
		return []string{}
	}
	var matches []index.TermEntry
	for _, t := range s.engine.Index().Terms(index.FieldTitle) {
		if strings.Contains(t.Term, p) {
			matches = append(matches, t)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Reports != matches[j].Reports {
			return matches[i].Reports > matches[j].Reports
		}
		return matches[i].Term < matches[j].Term
	})
	if len(matches) > MaxSuggestions {
		matches = matches[:MaxSuggestions]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Term
	}
	return out
}

// Trending returns up to n popular queries, falling back to a fixed list
// when nothing has been recorded. n <= 0 asks for DefaultTrending.
func (s *Service) Trending(n int) []string {
	if n <= 0 {
		n = DefaultTrending
	}
	if s.trending != nil {
		if top := s.trending.Trending(n); len(top) > 0 {
			out := make([]string, len(top))
			for i, q := range top {
				out[i] = q.Query
			}
			return out
		}
	}
	if n > len(FallbackTrending) {
		n = len(FallbackTrending)
	}
	out := make([]string, n)
	copy(out, FallbackTrending)
	return out
}

func (s *Service) observe(resultType string, hit bool, elapsed time.Duration, returned int) {
	if s.metrics == nil {
		return
	}
	status := "miss"
	if hit {
		status = "hit"
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	s.metrics.SearchLatency.WithLabelValues(status).Observe(elapsed.Seconds())
	if resultType != "error" {
		s.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func filtersOf(opts executor.Options) analytics.Filters {
	f := analytics.Filters{
		Categories: opts.Categories,
		Versions:   opts.Versions,
		SortBy:     string(opts.SortBy),
		Limit:      opts.Limit,
	}
	if opts.DateRange != nil {
		f.From, f.To = opts.DateRange.Start, opts.DateRange.End
	}
	return f
}
