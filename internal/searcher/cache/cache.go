// Package cache stores search results keyed by the query and its options.
// Entries expire after a fixed TTL checked on every read; concurrent misses
// for the same key run the search once. Results live in process memory or,
// when several replicas should share them, in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OnlineMo/DeepResearch-Web/internal/searcher/executor"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
	pkgredis "github.com/OnlineMo/DeepResearch-Web/pkg/redis"
	"github.com/OnlineMo/DeepResearch-Web/pkg/ttlcache"
)

const keyPrefix = "search:"

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 10 * time.Minute

// Backend stores encoded results.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) (int64, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryBackend keeps results in a ttlcache.
type MemoryBackend struct {
	entries *ttlcache.Cache[string, []byte]
}

func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBackend{entries: ttlcache.New[string, []byte](ttl)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Get(key)
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.entries.Set(key, value)
	return nil
}

func (m *MemoryBackend) Clear(context.Context) (int64, error) {
	return int64(m.entries.Clear()), nil
}

func (m *MemoryBackend) Len(context.Context) (int64, error) {
	return int64(m.entries.Len()), nil
}

// RunSweeper drops expired entries every interval until ctx is done.
func (m *MemoryBackend) RunSweeper(ctx context.Context, interval time.Duration) {
	m.entries.RunSweeper(ctx, interval)
}

// SetClock replaces the clock used for expiry.
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.entries.SetClock(now)
}

// RedisBackend shares results between replicas. Expiry is Redis' own TTL.
type RedisBackend struct {
	client *pkgredis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *pkgredis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, r.ttl)
}

func (r *RedisBackend) Clear(ctx context.Context) (int64, error) {
	return r.client.FlushByPattern(ctx, keyPrefix+"*")
}

func (r *RedisBackend) Len(ctx context.Context) (int64, error) {
	return r.client.CountByPattern(ctx, keyPrefix+"*")
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
}

type QueryCache struct {
	backend Backend
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	// generation moves on every Invalidate. A result computed under an
	// older generation is returned to its callers but never stored.
	generation atomic.Uint64
}

// New wraps backend. m may be nil.
func New(backend Backend, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, query string, opts executor.Options) (*executor.SearchResult, bool) {
	key := BuildKey(query, opts)
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if !ok {
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, query string, opts executor.Options, result *executor.SearchResult) {
	key := BuildKey(query, opts)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for (query, opts) or runs
// computeFn once for all concurrent callers of the same key. hit reports
// whether the result came from the cache. Callers arriving after an
// Invalidate never join a computation started before it.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	opts executor.Options,
	computeFn func() (*executor.SearchResult, error),
) (result *executor.SearchResult, hit bool, err error) {
	if result, ok := c.Get(ctx, query, opts); ok {
		return result, true, nil
	}
	gen := c.generation.Load()
	flightKey := BuildKey(query, opts) + "@" + strconv.FormatUint(gen, 10)
	val, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		if c.generation.Load() != gen {
			c.logger.Debug("index changed during search, result not cached", "query", query)
			return result, nil
		}
		c.Set(ctx, query, opts, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	c.generation.Add(1)
	deleted, err := c.backend.Clear(ctx)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats(ctx context.Context) Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	s.Total = s.Hits + s.Misses
	if s.Total > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Total)
	}
	n, err := c.backend.Len(ctx)
	if err != nil {
		c.logger.Warn("counting cache entries failed", "error", err)
	}
	s.Entries = n
	return s
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// BuildKey hashes the JSON encoding of the query and its options. A nil
// category list and an empty one encode differently and get distinct keys.
func BuildKey(query string, opts executor.Options) string {
	raw, _ := json.Marshal(struct {
		Query   string           `json:"query"`
		Options executor.Options `json:"options"`
	}{query, opts})
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:16])
}
