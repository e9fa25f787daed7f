package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteBackend persists entries in a single table with an expiry column.
// Expired rows are ignored on read and pruned opportunistically on write.
type SQLiteBackend struct {
	db  *sqlx.DB
	now func() time.Time

	mu         sync.Mutex
	lastPruned time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_at ON cache_entries (expires_at);
`

type cacheRow struct {
	Value     []byte `db:"value"`
	ExpiresAt int64  `db:"expires_at"`
}

func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite cache path is empty")
	}
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var row cacheRow
	err := b.db.GetContext(ctx, &row, `SELECT value, expires_at FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if row.ExpiresAt <= b.now().UnixNano() {
		return nil, ErrMiss
	}
	return row.Value, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.now()
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	b.pruneIfDue(ctx, now)
	return nil
}

func (b *SQLiteBackend) pruneIfDue(ctx context.Context, now time.Time) {
	b.mu.Lock()
	if now.Sub(b.lastPruned) < time.Hour {
		b.mu.Unlock()
		return
	}
	b.lastPruned = now
	b.mu.Unlock()
	_, _ = b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixNano())
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
