package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/pkg/postgres"
)

var postgresMigrations = []postgres.Migration{
	{
		Version:     1,
		Description: "reports and archive state",
		SQL: `
CREATE TABLE IF NOT EXISTS reports (
    path          TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    content       TEXT NOT NULL,
    category_slug TEXT NOT NULL,
    category_name TEXT NOT NULL,
    date          TEXT NOT NULL,
    version       TEXT NOT NULL,
    source_url    TEXT NOT NULL DEFAULT '',
    read_time     INTEGER NOT NULL DEFAULT 0,
    last_modified TIMESTAMPTZ,
    saved_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS archive_state (
    id            SMALLINT PRIMARY KEY CHECK (id = 1),
    revision      TEXT NOT NULL,
    revision_time TIMESTAMPTZ
);`,
	},
	{
		Version:     2,
		Description: "category and date indexes",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_reports_category ON reports (category_slug);
CREATE INDEX IF NOT EXISTS idx_reports_date ON reports (date DESC);`,
	},
}

// Postgres stores the snapshot in PostgreSQL so several searchers can share
// one indexer.
type Postgres struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{
		client: client,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// Migrate applies pending report store migrations.
func (s *Postgres) Migrate(ctx context.Context) error {
	return s.client.Migrate(ctx, "reports", postgresMigrations)
}

func (s *Postgres) Save(ctx context.Context, reports []report.Report) error {
	if len(reports) == 0 {
		return nil
	}
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO reports (`+reportColumns+`, saved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (path) DO UPDATE SET
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				category_slug = EXCLUDED.category_slug,
				category_name = EXCLUDED.category_name,
				date = EXCLUDED.date,
				version = EXCLUDED.version,
				source_url = EXCLUDED.source_url,
				read_time = EXCLUDED.read_time,
				last_modified = EXCLUDED.last_modified,
				saved_at = NOW()`)
		if err != nil {
			return fmt.Errorf("preparing save: %w", err)
		}
		defer stmt.Close()
		for _, r := range reports {
			if _, err := stmt.ExecContext(ctx,
				r.Path, r.Title, r.Content, r.Category.Slug, r.Category.Display,
				r.Date, r.Version, r.SourceURL, r.ReadTime, nullTime(r.LastModified),
			); err != nil {
				return fmt.Errorf("saving %s: %w", r.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("reports saved", "count", len(reports))
	return nil
}

func (s *Postgres) Load(ctx context.Context, paths ...string) ([]report.Report, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE path = ANY($1)`, pq.Array(paths))
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	found, err := scanPostgresReports(rows)
	if err != nil {
		return nil, err
	}
	return orderByPaths(found, paths), nil
}

func (s *Postgres) All(ctx context.Context) ([]report.Report, error) {
	rows, err := s.client.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return scanPostgresReports(rows)
}

func (s *Postgres) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := s.client.DB.ExecContext(ctx, `DELETE FROM reports WHERE path = ANY($1)`, pq.Array(paths)); err != nil {
		return fmt.Errorf("deleting reports: %w", err)
	}
	return nil
}

func (s *Postgres) Revision(ctx context.Context) (archive.Revision, error) {
	var (
		id string
		at sql.NullTime
	)
	err := s.client.DB.QueryRowContext(ctx, `SELECT revision, revision_time FROM archive_state WHERE id = 1`).Scan(&id, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Revision{}, nil
	}
	if err != nil {
		return archive.Revision{}, fmt.Errorf("reading revision: %w", err)
	}
	return archive.Revision{ID: id, Time: at.Time}, nil
}

func (s *Postgres) SetRevision(ctx context.Context, rev archive.Revision) error {
	_, err := s.client.DB.ExecContext(ctx, `INSERT INTO archive_state (id, revision, revision_time) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET revision = EXCLUDED.revision, revision_time = EXCLUDED.revision_time`,
		rev.ID, nullTime(rev.Time))
	if err != nil {
		return fmt.Errorf("recording revision: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *Postgres) Close() error { return s.client.Close() }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func scanPostgresReports(rows *sql.Rows) ([]report.Report, error) {
	defer rows.Close()
	var out []report.Report
	for rows.Next() {
		var (
			r        report.Report
			modified sql.NullTime
		)
		if err := rows.Scan(&r.Path, &r.Title, &r.Content, &r.Category.Slug, &r.Category.Display,
			&r.Date, &r.Version, &r.SourceURL, &r.ReadTime, &modified); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.LastModified = modified.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return out, nil
}
