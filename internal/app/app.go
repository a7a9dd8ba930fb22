// Package app builds the components every process needs from a loaded
// Config: the archive source and library, the report store, the search
// stack and the result cache.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive/github"
	"github.com/OnlineMo/DeepResearch-Web/internal/archive/local"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/parser"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/cache"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/highlight"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/health"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
	pkgredis "github.com/OnlineMo/DeepResearch-Web/pkg/redis"
)

// NewParser applies the configured duplicate policy. Skipped lines are
// counted on m when it is non-nil.
func NewParser(cfg config.ParserConfig, m *metrics.Metrics) (*parser.Parser, error) {
	policy, err := parser.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	opts := []parser.Option{parser.WithDuplicatePolicy(policy)}
	if m != nil {
		opts = append(opts, parser.WithSkipHook(func(doc parser.Document, _ int, reason parser.SkipReason) {
			m.SkippedLinesTotal.WithLabelValues(string(doc), string(reason)).Inc()
		}))
	}
	return parser.New(opts...), nil
}

// OpenSource returns the archive source named by cfg.Archive.Kind. The
// local source is returned separately so callers can watch it.
func OpenSource(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (archive.Source, *local.Source, error) {
	switch cfg.Archive.Kind {
	case "local":
		src, err := local.New(cfg.Local.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening local archive: %w", err)
		}
		return src, src, nil
	case "github":
		opts := []github.Option{github.WithTimeout(cfg.Archive.Timeout)}
		if m != nil {
			opts = append(opts, github.WithMetrics(m))
		}
		src, err := github.New(ctx, cfg.GitHub, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating github source: %w", err)
		}
		return src, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive kind %q", cfg.Archive.Kind)
	}
}

// NewLibrary wraps src with the configured batch width, content TTL and
// read timeout.
func NewLibrary(src archive.Source, cfg *config.Config, p *parser.Parser, m *metrics.Metrics) *archive.Library {
	opts := []archive.Option{
		archive.WithBatchSize(cfg.Archive.BatchSize),
		archive.WithContentTTL(cfg.Archive.ContentTTL),
		archive.WithTimeout(cfg.Archive.Timeout),
		archive.WithParser(p),
	}
	if m != nil {
		opts = append(opts, archive.WithMetrics(m))
	}
	return archive.NewLibrary(src, opts...)
}

// NewEngine creates an empty index engine.
func NewEngine(m *metrics.Metrics) *indexer.Engine {
	if m == nil {
		return indexer.NewEngine()
	}
	return indexer.NewEngine(indexer.WithMetrics(m))
}

// NewExecutor applies the result ceiling and highlight markers.
func NewExecutor(engine *indexer.Engine, cfg config.SearchConfig) *executor.Executor {
	return executor.New(engine,
		executor.WithMaxResults(cfg.MaxResults),
		executor.WithHighlighter(highlight.Highlighter{
			Open:          cfg.HighlightOpen,
			Close:         cfg.HighlightClose,
			ExcerptLength: cfg.ExcerptLength,
		}),
	)
}

// Cache is a result cache plus the resources it owns.
type Cache struct {
	*cache.QueryCache
	memory *cache.MemoryBackend
	redis  *pkgredis.Client
}

// NewCache builds the configured backend. When Redis cannot be reached the
// cache falls back to memory so search keeps working.
func NewCache(cfg *config.Config, m *metrics.Metrics) *Cache {
	if cfg.Cache.Backend == "redis" {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err == nil {
			slog.Info("search cache enabled", "backend", "redis", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.TTL)
			return &Cache{QueryCache: cache.New(cache.NewRedisBackend(client, cfg.Cache.TTL), m), redis: client}
		}
		slog.Warn("redis unavailable, falling back to in-memory cache", "error", err)
	}
	backend := cache.NewMemoryBackend(cfg.Cache.TTL)
	slog.Info("search cache enabled", "backend", "memory", "ttl", cfg.Cache.TTL)
	return &Cache{QueryCache: cache.New(backend, m), memory: backend}
}

// Run sweeps expired memory entries until ctx is done. It returns at once
// for Redis, which expires keys itself.
func (c *Cache) Run(ctx context.Context, cfg config.CacheConfig) {
	if c.memory != nil && cfg.SweepInterval > 0 {
		c.memory.RunSweeper(ctx, cfg.SweepInterval)
	}
}

// Redis returns the Redis client, or nil for the memory backend.
func (c *Cache) Redis() *pkgredis.Client { return c.redis }

func (c *Cache) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// ArchiveCheck reports the last revision poller crawled. It never calls the
// archive itself, so readiness checks cost no API quota.
func ArchiveCheck(poller *archive.Poller) health.Check {
	return func(context.Context) health.ComponentHealth {
		last := poller.Last()
		if last.IsZero() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no crawl completed yet"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "revision " + last.ID}
	}
}
