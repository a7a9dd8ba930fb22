// Package postgres wraps a lib/pq connection pool with transactions and
// per-component schema migrations. The report store and the analytics
// snapshot store share one database and one migrations table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
)

// Client owns a lib/pq connection pool.
type Client struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New opens the pool and verifies connectivity.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{
		DB:     db,
		logger: slog.Default().With("component", "postgres", "database", cfg.Database),
	}, nil
}

// Ping checks connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Migration is one schema step. Versions are numbered per component.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    component   TEXT NOT NULL,
    version     INTEGER NOT NULL,
    description TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (component, version)
)`

// Migrate applies the migrations of component newer than the recorded
// version. Each step and its bookkeeping row commit together.
func (c *Client) Migrate(ctx context.Context, component string, migrations []Migration) error {
	if err := checkOrder(migrations); err != nil {
		return fmt.Errorf("%s migrations: %w", component, err)
	}
	if _, err := c.DB.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	var current int
	err := c.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE component = $1`, component,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading %s schema version: %w", component, err)
	}
	for _, m := range Pending(migrations, current) {
		c.logger.Info("applying migration", "schema", component, "version", m.Version, "description", m.Description)
		err := c.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (component, version, description) VALUES ($1, $2, $3)`,
				component, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s migration %d (%s): %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

// Pending returns the migrations after version current.
func Pending(migrations []Migration, current int) []Migration {
	for i, m := range migrations {
		if m.Version > current {
			return migrations[i:]
		}
	}
	return nil
}

func checkOrder(migrations []Migration) error {
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return fmt.Errorf("version %d follows %d", m.Version, prev)
		}
		prev = m.Version
	}
	return nil
}
