package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a persistent Store over a single-table SQLite database. It
// honors the same TTL and oldest-10% eviction contract as MemoryStore, so an
// audit ledger survives client restarts.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_kv (
	key         TEXT PRIMARY KEY,
	value       BLOB NOT NULL,
	inserted_at INTEGER NOT NULL,
	expires_at  INTEGER
);
CREATE INDEX IF NOT EXISTS audit_kv_inserted_at ON audit_kv(inserted_at);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// The ledger is low-contention; a single connection sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM audit_kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger get failed: %w", err)
	}

	if expiresAt.Valid && s.now().Unix() > expiresAt.Int64 {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	now := s.now()

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_kv WHERE key != ?`, key).Scan(&count); err != nil {
		return fmt.Errorf("ledger count failed: %w", err)
	}
	if count >= s.maxEntries {
		if err := s.evictOldest(ctx, count); err != nil {
			return err
		}
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_kv (key, value, inserted_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		   inserted_at = excluded.inserted_at, expires_at = excluded.expires_at`,
		key, []byte(value), now.Unix(), expiresAt)
	if err != nil {
		return fmt.Errorf("ledger set failed: %w", err)
	}
	return nil
}

// Has implements Store.
func (s *SQLiteStore) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := s.Get(ctx, key)
	return found, err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("ledger delete failed: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_kv`); err != nil {
		return fmt.Errorf("ledger clear failed: %w", err)
	}
	return nil
}

// evictOldest drops the oldest 10% of entries by insertion time.
func (s *SQLiteStore) evictOldest(ctx context.Context, count int) error {
	n := count / 10
	if n < 1 {
		n = 1
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_kv WHERE key IN
		   (SELECT key FROM audit_kv ORDER BY inserted_at ASC LIMIT ?)`, n)
	if err != nil {
		return fmt.Errorf("ledger eviction failed: %w", err)
	}
	return nil
}
