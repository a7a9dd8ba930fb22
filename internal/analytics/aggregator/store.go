// Package aggregator snapshots the analytics aggregate to PostgreSQL so
// totals and trending queries survive a restart of the analytics service.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/postgres"
)

// DefaultKeep is how many snapshots Save retains.
const DefaultKeep = 48

// ErrNoSnapshot is returned by Latest before the first Save.
var ErrNoSnapshot = errors.New("no analytics snapshot")

var migrations = []postgres.Migration{
	{
		Version:     1,
		Description: "analytics snapshots",
		SQL: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    revision    TEXT NOT NULL DEFAULT '',
    searches    BIGINT NOT NULL,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		Version:     2,
		Description: "analytics snapshots by capture time",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_analytics_snapshots_captured ON analytics_snapshots (captured_at DESC)`,
	},
}

// Store reads and writes aggregate snapshots.
type Store struct {
	client *postgres.Client
	keep   int
	logger *slog.Logger
}

// NewStore wraps an open client. keep <= 0 means DefaultKeep.
func NewStore(client *postgres.Client, keep int) *Store {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Store{
		client: client,
		keep:   keep,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}
}

// Migrate creates or upgrades the snapshot table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.Migrate(ctx, "analytics", migrations)
}

// Save writes stats as the newest snapshot and deletes all but the newest
// keep, in one transaction.
func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding analytics snapshot: %w", err)
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (revision, searches, data, captured_at) VALUES ($1, $2, $3, $4)`,
			stats.LastRevision, stats.TotalSearches, data, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("inserting analytics snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE id NOT IN (
    SELECT id FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1
)`, s.keep); err != nil {
			return fmt.Errorf("pruning analytics snapshots: %w", err)
		}
		return nil
	})
}

// Latest returns the newest snapshot and when it was taken.
func (s *Store) Latest(ctx context.Context) (analytics.AggregatedStats, time.Time, error) {
	var (
		stats analytics.AggregatedStats
		data  []byte
		at    time.Time
	)
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`,
	).Scan(&data, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return stats, time.Time{}, fmt.Errorf("reading latest analytics snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, time.Time{}, fmt.Errorf("decoding analytics snapshot: %w", err)
	}
	return stats, at, nil
}

// Restore seeds agg from the newest snapshot. Having none is not an error.
func (s *Store) Restore(ctx context.Context, agg *analytics.Aggregator) error {
	stats, at, err := s.Latest(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.logger.Info("no analytics snapshot to restore")
		return nil
	}
	if err != nil {
		return err
	}
	agg.Restore(stats)
	s.logger.Info("analytics restored", "captured_at", at, "total_searches", stats.TotalSearches, "age", time.Since(at).Round(time.Second))
	return nil
}

// Saver persists a snapshot. *Store satisfies it.
type Saver interface {
	Save(ctx context.Context, stats analytics.AggregatedStats) error
}

// RunSnapshots saves stats() every interval until ctx ends, then once more
// under a short deadline. Ticks where no search or index event arrived
// since the last save are skipped.
func RunSnapshots(ctx context.Context, saver Saver, stats func() analytics.AggregatedStats, interval time.Duration) {
	logger := slog.Default().With("component", "analytics-snapshots")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last analytics.AggregatedStats
	saved := false
	save := func(ctx context.Context) {
		cur := stats()
		if saved && cur.TotalSearches == last.TotalSearches && cur.TotalIndexed == last.TotalIndexed {
			return
		}
		if err := saver.Save(ctx, cur); err != nil {
			logger.Error("saving analytics snapshot failed", "error", err)
			return
		}
		last, saved = cur, true
		logger.Debug("analytics snapshot saved", "total_searches", cur.TotalSearches, "total_reports_indexed", cur.TotalIndexed)
	}

	for {
		select {
		case <-ticker.C:
			save(ctx)
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			save(finalCtx)
			cancel()
			return
		}
	}
}
