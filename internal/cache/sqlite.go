package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores entries in a SQLite table so the cache survives
// restarts and can be shared by processes on one host.
type SQLiteBackend struct {
	db         *sql.DB
	maxEntries int
}

// NewSQLiteBackend opens (or creates) the database at path. maxEntries <= 0
// leaves the table unbounded.
func NewSQLiteBackend(path string, maxEntries int) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, maxEntries: maxEntries}
	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	statements := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);`,
	}
	for _, stmt := range statements {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite cache: migrate: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (Entry, error) {
	var (
		e                    = Entry{Key: key}
		createdAt, expiresAt int64
	)
	err := b.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET hit_count = hit_count + 1
		WHERE key = ?
		RETURNING value, source, created_at, expires_at, hit_count
	`, key).Scan(&e.Value, &e.Source, &createdAt, &expiresAt, &e.HitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: get %s: %v", ErrBackendUnavailable, key, err)
	}
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return e, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, e Entry) (evicted int, err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %v", ErrBackendUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, source, created_at, expires_at, hit_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = 0
	`, e.Key, e.Value, e.Source, e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: set %s: %v", ErrBackendUnavailable, e.Key, err)
	}

	if b.maxEntries > 0 {
		var count int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
			return 0, fmt.Errorf("%w: count: %v", ErrBackendUnavailable, err)
		}
		if over := count - b.maxEntries; over > 0 {
			var res sql.Result
			res, err = tx.ExecContext(ctx, `
				DELETE FROM cache_entries WHERE key IN (
					SELECT key FROM cache_entries ORDER BY created_at ASC, rowid ASC LIMIT ?
				)
			`, over)
			if err != nil {
				return 0, fmt.Errorf("%w: evict: %v", ErrBackendUnavailable, err)
			}
			n, _ := res.RowsAffected()
			evicted = int(n)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrBackendUnavailable, err)
	}
	return evicted, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// DeleteExpired removes all rows where expires_at <= now.
func (b *SQLiteBackend) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired: %v", ErrBackendUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite cache: rows affected: %w", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Len(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
