// Package indexer owns the search index lifecycle. An Engine starts Empty,
// becomes Indexed after the first Build, and stays Indexed across later
// Builds and Updates. There is no delete.
package indexer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/indexer/index"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/pkg/metrics"
)

// State is the lifecycle state of an Engine.
type State string

const (
	StateEmpty   State = "empty"
	StateIndexed State = "indexed"
)

// ChangeFunc is called after every Build or Update with the kind of change
// ("build" or "update") and the number of reports it carried.
type ChangeFunc func(kind string, reports int)

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records index size and build counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

type Engine struct {
	current atomic.Pointer[index.MemoryIndex]

	// writeMu serialises Build and Update so hooks observe changes in order.
	writeMu   sync.Mutex
	hooksMu   sync.RWMutex
	hooks     []ChangeFunc
	state     atomic.Value
	updatedAt atomic.Int64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default().With("component", "indexer")}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(index.NewMemoryIndex())
	e.state.Store(StateEmpty)
	return e
}

// OnChange registers fn to run after every Build and Update.
func (e *Engine) OnChange(fn ChangeFunc) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, fn)
}

// Build indexes reports into a fresh index and swaps it in. Searches running
// during the build keep using the previous index.
func (e *Engine) Build(reports []report.Report) {
	start := time.Now()
	fresh := index.NewMemoryIndex()
	fresh.AddAll(reports)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.current.Store(fresh)
	e.changed("build", len(reports), fresh.Len())
	e.logger.Info("index built",
		"reports", fresh.Len(),
		"duration", time.Since(start),
	)
}

// Update adds reports to the live index. A path that is already indexed is
// replaced.
func (e *Engine) Update(reports []report.Report) {
	if len(reports) == 0 {
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	idx := e.current.Load()
	idx.AddAll(reports)
	e.changed("update", len(reports), idx.Len())
	e.logger.Info("index updated", "added", len(reports), "reports", idx.Len())
}

func (e *Engine) changed(kind string, n, total int) {
	e.state.Store(StateIndexed)
	e.updatedAt.Store(time.Now().UnixNano())
	if e.metrics != nil {
		e.metrics.IndexBuildsTotal.WithLabelValues(kind).Inc()
		e.metrics.IndexedReports.Set(float64(total))
	}
	e.hooksMu.RLock()
	hooks := make([]ChangeFunc, len(e.hooks))
	copy(hooks, e.hooks)
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(kind, n)
	}
}

// Index returns the live index. The pointer changes on every Build.
func (e *Engine) Index() *index.MemoryIndex {
	return e.current.Load()
}

func (e *Engine) State() State {
	return e.state.Load().(State)
}

// UpdatedAt returns the time of the last Build or Update, zero when Empty.
func (e *Engine) UpdatedAt() time.Time {
	ns := e.updatedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (e *Engine) Len() int {
	return e.current.Load().Len()
}
