// Package usagelog accounts ingest volume per user in a sqlite database and
// enforces the per-user byte budget as the indexer's quota gate.
package usagelog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/docbase-ai/docbase/internal/config"
	"github.com/docbase-ai/docbase/internal/errors"
	"github.com/docbase-ai/docbase/internal/indexer"
)

var _ indexer.Quota = (*Log)(nil)

// Log is the sqlite-backed usage log. It keeps a running byte total per user
// plus an append-only event trail for inspection.
type Log struct {
	db       *sql.DB
	maxBytes int64
}

// Entry is one recorded ingest event.
type Entry struct {
	User      string
	Tenant    string
	Bytes     int64
	Timestamp time.Time
}

// Open creates or opens the usage database at cfg.DBPath.
// MaxBytesPerUser of zero disables the gate; Allow always passes.
func Open(cfg config.QuotaConfig) (*Log, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, maxBytes: cfg.MaxBytesPerUser}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	-- Running byte total per user
	CREATE TABLE IF NOT EXISTS usage_totals (
		user TEXT PRIMARY KEY,
		bytes INTEGER NOT NULL DEFAULT 0
	);

	-- Append-only ingest trail
	CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		tenant TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_usage_events_user ON usage_events(user);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create usage schema: %w", err)
	}
	return nil
}

// userOf extracts the user from a <user>_<org>_<app> tenant. Budgets are per
// user, so every tenant of one user draws from the same pool.
func userOf(tenant string) string {
	if i := strings.IndexByte(tenant, '_'); i > 0 {
		return tenant[:i]
	}
	return tenant
}

// Allow reports whether the tenant's user may ingest size more bytes.
func (l *Log) Allow(ctx context.Context, tenant string, size int64) error {
	if l.maxBytes <= 0 {
		return nil
	}
	user := userOf(tenant)
	var used int64
	err := l.db.QueryRowContext(ctx,
		`SELECT bytes FROM usage_totals WHERE user = ?`, user).Scan(&used)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read usage total: %w", err)
	}
	if used+size > l.maxBytes {
		return errors.Quota(fmt.Sprintf(
			"user %s at %d of %d bytes, ingest of %d denied", user, used, l.maxBytes, size))
	}
	return nil
}

// Record accounts size ingested bytes to the tenant's user.
func (l *Log) Record(ctx context.Context, tenant string, size int64) error {
	user := userOf(tenant)
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_totals (user, bytes) VALUES (?, ?)
		ON CONFLICT(user) DO UPDATE SET bytes = bytes + excluded.bytes
	`, user, size); err != nil {
		return fmt.Errorf("update usage total: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (user, tenant, bytes) VALUES (?, ?, ?)
	`, user, tenant, size); err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Used returns the user's running byte total.
func (l *Log) Used(ctx context.Context, user string) (int64, error) {
	var used int64
	err := l.db.QueryRowContext(ctx,
		`SELECT bytes FROM usage_totals WHERE user = ?`, user).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage total: %w", err)
	}
	return used, nil
}

// Events returns the most recent ingest events for a user, newest first.
func (l *Log) Events(ctx context.Context, user string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT user, tenant, bytes, timestamp FROM usage_events
		WHERE user = ? ORDER BY id DESC LIMIT ?
	`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.User, &e.Tenant, &e.Bytes, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
