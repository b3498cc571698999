// Package platform is the client for the managed data platform.
//
// All non-trivial business logic (borrowing, quotas, invitation lifecycle,
// authorization) lives in the platform's stored procedures; this package only
// invokes them by name and normalizes their ad hoc JSON envelopes into typed
// results. Procedures that resolve the caller from the request context are
// invoked inside a transaction that pins the caller's id first.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Client invokes the data platform's stored procedures.
type Client struct {
	pool *pgxpool.Pool
}

// Connect creates a connection pool to the platform and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse platform DSN: %w", err)
	}

	// Pool tuning
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping platform: %w", err)
	}

	return &Client{pool: pool}, nil
}

// NewClient wraps an existing pool. Used by tests and the admin CLI.
func NewClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Pool exposes the underlying pool for collaborators that write their own
// tables (audit log).
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies platform connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// asUser runs fn inside a transaction with the caller's id pinned, so
// procedures that resolve the current principal themselves see the right one.
func (c *Client) asUser(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('request.jwt.claim.sub', $1, true)`, userID.String()); err != nil {
		return fmt.Errorf("failed to pin caller id: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// callProc invokes a procedure returning a JSON envelope as the given user
// and decodes the envelope into out (which may be nil).
func (c *Client) callProc(ctx context.Context, userID uuid.UUID, proc, query string, out interface{}, args ...interface{}) error {
	return c.asUser(ctx, userID, func(tx pgx.Tx) error {
		var raw []byte
		if err := tx.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
			return fmt.Errorf("%s failed: %w", proc, err)
		}
		return decodeEnvelope(proc, raw, out)
	})
}

// envelope is the common {success, error} shape every mutating proc returns.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// decodeEnvelope parses a proc's JSON result. A false success is translated
// through mapRPCError; on success the raw payload is decoded into out so
// procs can carry extra fields next to the envelope.
func decodeEnvelope(proc string, raw []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s returned malformed JSON: %w", proc, err)
	}
	if !env.Success {
		return mapRPCError(proc, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s returned malformed payload: %w", proc, err)
		}
	}
	return nil
}
