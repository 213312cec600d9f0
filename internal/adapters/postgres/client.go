package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"stockpulse/internal/adapters/config"
	"stockpulse/pkg/errors"
)

const connectTimeout = 5 * time.Second

// Client owns the report database connection pool.
type Client struct {
	db *sqlx.DB
}

// NewClient opens the pool and verifies the database is reachable before
// anything depends on it. Report writes sit on the finalize path, so a
// misconfigured DSN should fail startup rather than the first completed task.
func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres pool")
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	return &Client{db: db}, nil
}

// DB exposes the pool to repositories.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close drains the pool.
func (c *Client) Close() error {
	return c.db.Close()
}
