// ABOUTME: SQLite-backed Store using modernc.org/sqlite for single-node persistence
// ABOUTME: Expired rows are hidden on read and purged by a cron-scheduled janitor

package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// DefaultPurgeSchedule is how often expired rows are deleted.
const DefaultPurgeSchedule = "@every 1m"

// SQLiteStore implements Store on a single kv table. Expiry is stored as
// unix milliseconds; NULL means the key never expires.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	cron    *cron.Cron
	timeout time.Duration
}

// NewSQLiteStore opens (or creates) the database at path and creates the
// schema. Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	// SQLite allows one writer; a single connection serializes SetNX claims.
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, logger, nil)
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite kv store initialized", "path", path)
	return s, nil
}

// NewSQLStore wraps an already opened database whose schema exists.
// A nil clock uses time.Now.
func NewSQLStore(db *sql.DB, logger *slog.Logger, now func() time.Time) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "kv.sqlite"),
		now:    now,
	}
}

// createSchema creates the kv table if it doesn't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires_at
			ON kv(expires_at) WHERE expires_at IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetTimeout bounds every store call. Zero leaves calls bounded only by the
// caller's context.
func (s *SQLiteStore) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLiteStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *SQLiteStore) expiresAt(ttl time.Duration) sql.NullInt64 {
	exp := expiry(s.now(), ttl)
	if exp.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: exp.UnixMilli(), Valid: true}
}

// Get returns the value at key unless it has expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.nowMillis(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying key %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value and its expiry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, s.expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// SetNX inserts value unless a live row exists. An expired row is replaced.
func (s *SQLiteStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?
	`, key, value, s.expiresAt(ttl), s.nowMillis())
	if err != nil {
		return false, fmt.Errorf("claiming key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming key %s: %w", key, err)
	}
	return n == 1, nil
}

// Del removes key.
func (s *SQLiteStore) Del(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("purging expired keys: %w", err)
	}
	return res.RowsAffected()
}

// StartJanitor schedules Purge on the given cron spec (DefaultPurgeSchedule
// when empty). It is stopped by Close.
func (s *SQLiteStore) StartJanitor(spec string) error {
	if s.cron != nil {
		return nil
	}
	if spec == "" {
		spec = DefaultPurgeSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := s.Purge(context.Background())
		if err != nil {
			s.logger.Warn("purge failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Debug("purged expired keys", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling janitor: %w", err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Close stops the janitor and closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	return s.db.Close()
}
