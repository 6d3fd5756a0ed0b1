// Package postgres opens the lib/pq pool behind the post store and brings
// its schema up to date.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/resilience"
	_ "github.com/lib/pq"
)

// Client owns the *sql.DB pool.
type Client struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New opens the pool described by cfg. The first ping is retried with
// backoff, since the database often starts alongside the server.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = resilience.Retry(ctx, "postgres.connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     3 * time.Second,
	}, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return &Client{
		DB:     db,
		logger: slog.Default().With("component", "postgres", "database", cfg.Database),
	}, nil
}

// Ping checks that a connection can still be obtained.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Migrate applies every *.sql file in migrations that has not run yet, in
// name order, each in its own transaction. Applied names are kept in
// schema_migrations.
func (c *Client) Migrate(ctx context.Context, migrations fs.FS) error {
	if _, err := c.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations, "*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		ran, err := c.migrated(ctx, name)
		if err != nil {
			return err
		}
		if ran {
			continue
		}
		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = c.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		c.logger.Info("migration applied", "name", name)
		applied++
	}
	c.logger.Debug("schema up to date", "applied", applied, "total", len(names))
	return nil
}

func (c *Client) migrated(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking migration %s: %w", name, err)
	}
	return exists, nil
}
