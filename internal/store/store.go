// Package store persists parsed reports and the archive revision they were
// built from. The indexer writes a snapshot after every crawl and the
// searcher loads it to warm its index before the archive is reachable.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
	"github.com/OnlineMo/DeepResearch-Web/pkg/postgres"
)

// Store is a report snapshot keyed by path.
type Store interface {
	// Save inserts or replaces reports by path.
	Save(ctx context.Context, reports []report.Report) error
	// Load returns the stored reports among paths, in the order given.
	// Unknown paths are skipped.
	Load(ctx context.Context, paths ...string) ([]report.Report, error)
	// All returns every stored report ordered by path.
	All(ctx context.Context) ([]report.Report, error)
	Delete(ctx context.Context, paths ...string) error
	// Revision returns the archive revision of the last complete snapshot,
	// or a zero Revision when none was recorded.
	Revision(ctx context.Context) (archive.Revision, error)
	SetRevision(ctx context.Context, rev archive.Revision) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "none", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Store.Path)
	case "postgres":
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s := NewPostgres(client)
		if err := s.Migrate(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", apperrors.ErrInvalidInput, cfg.Store.Driver)
	}
}

// Memory keeps the snapshot in process. It backs the "none" driver and tests.
type Memory struct {
	mu       sync.RWMutex
	reports  map[string]report.Report
	revision archive.Revision
}

func NewMemory() *Memory {
	return &Memory{reports: make(map[string]report.Report)}
}

func (m *Memory) Save(_ context.Context, reports []report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reports {
		m.reports[r.Path] = r
	}
	return nil
}

func (m *Memory) Load(_ context.Context, paths ...string) ([]report.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]report.Report, 0, len(paths))
	for _, p := range paths {
		if r, ok := m.reports[p]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) All(_ context.Context) ([]report.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]report.Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.reports, p)
	}
	return nil
}

func (m *Memory) Revision(context.Context) (archive.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, nil
}

func (m *Memory) SetRevision(_ context.Context, rev archive.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision = rev
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// orderByPaths reorders rows to follow paths, dropping unknown ones.
func orderByPaths(rows []report.Report, paths []string) []report.Report {
	byPath := make(map[string]report.Report, len(rows))
	for _, r := range rows {
		byPath[r.Path] = r
	}
	out := make([]report.Report, 0, len(rows))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if r, ok := byPath[p]; ok && !seen[p] {
			out = append(out, r)
			seen[p] = true
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
