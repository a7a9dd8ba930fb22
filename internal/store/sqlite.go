package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
)

type migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

func execAll(stmts ...string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return err
			}
		}
		return nil
	}
}

var migrations = []migration{
	{1, "create reports", execAll(`CREATE TABLE IF NOT EXISTS reports (
		path          TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		content       TEXT NOT NULL,
		category_slug TEXT NOT NULL,
		category_name TEXT NOT NULL,
		date          TEXT NOT NULL,
		version       TEXT NOT NULL,
		source_url    TEXT NOT NULL DEFAULT '',
		read_time     INTEGER NOT NULL DEFAULT 0,
		last_modified TEXT NOT NULL DEFAULT '',
		saved_at      TEXT NOT NULL
	)`)},
	{2, "archive state and report indexes", execAll(
		`CREATE TABLE IF NOT EXISTS archive_state (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			revision      TEXT NOT NULL,
			revision_time TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_category ON reports (category_slug)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_date ON reports (date)`,
	)},
}

func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

// SQLite stores the snapshot in a single database file.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite creates or opens the database at path and applies pending
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store needs a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; WAL lets readers proceed during a save.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	s := &SQLite{db: db, path: path, logger: slog.Default().With("component", "sqlite-store", "path", path)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		// user_version is set outside the transaction; the DDL above is
		// idempotent if this step is lost.
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}
	return nil
}

const reportColumns = `path, title, content, category_slug, category_name, date, version, source_url, read_time, last_modified`

func (s *SQLite) Save(ctx context.Context, reports []report.Report) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO reports (`+reportColumns+`, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category_slug = excluded.category_slug,
			category_name = excluded.category_name,
			date = excluded.date,
			version = excluded.version,
			source_url = excluded.source_url,
			read_time = excluded.read_time,
			last_modified = excluded.last_modified,
			saved_at = excluded.saved_at`)
	if err != nil {
		return fmt.Errorf("preparing save: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for _, r := range reports {
		if _, err := stmt.ExecContext(ctx,
			r.Path, r.Title, r.Content, r.Category.Slug, r.Category.Display,
			r.Date, r.Version, r.SourceURL, r.ReadTime, formatTime(r.LastModified), now,
		); err != nil {
			return fmt.Errorf("saving %s: %w", r.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, paths ...string) ([]report.Report, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE path IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}
	found, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	return orderByPaths(found, paths), nil
}

func (s *SQLite) All(ctx context.Context) ([]report.Report, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	return scanReports(rows)
}

func (s *SQLite) Delete(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(paths)), ",")
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE path IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("deleting reports: %w", err)
	}
	return nil
}

func (s *SQLite) Revision(ctx context.Context) (archive.Revision, error) {
	var id, at string
	err := s.db.QueryRowContext(ctx, `SELECT revision, revision_time FROM archive_state WHERE id = 1`).Scan(&id, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Revision{}, nil
	}
	if err != nil {
		return archive.Revision{}, fmt.Errorf("reading revision: %w", err)
	}
	return archive.Revision{ID: id, Time: parseTime(at)}, nil
}

func (s *SQLite) SetRevision(ctx context.Context, rev archive.Revision) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO archive_state (id, revision, revision_time) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET revision = excluded.revision, revision_time = excluded.revision_time`,
		rev.ID, formatTime(rev.Time))
	if err != nil {
		return fmt.Errorf("recording revision: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

func scanReports(rows *sql.Rows) ([]report.Report, error) {
	defer rows.Close()
	var out []report.Report
	for rows.Next() {
		var (
			r        report.Report
			modified string
		)
		if err := rows.Scan(&r.Path, &r.Title, &r.Content, &r.Category.Slug, &r.Category.Display,
			&r.Date, &r.Version, &r.SourceURL, &r.ReadTime, &modified); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.LastModified = parseTime(modified)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return out, nil
}
