// Package sqlite implements the storage driver on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hrygo/querycache/internal/profile"
	"github.com/hrygo/querycache/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_cache (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_ts BIGINT NOT NULL
)`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens (and if needed initializes) the SQLite database at the
// profile's DSN.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p == nil {
		return nil, errors.New("profile is nil")
	}

	// WAL keeps concurrent readers from blocking the single writer.
	db, err := sql.Open("sqlite", p.DSN+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", p.DSN)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent persistence.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize query_cache table")
	}

	return &DB{db: db, profile: p}, nil
}

func (d *DB) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, "SELECT value FROM query_cache WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(store.ErrReadFailed, "key %q: %v", key, err)
	}
	return value, true, nil
}

func (d *DB) Write(ctx context.Context, key string, value []byte) error {
	stmt := `
		INSERT INTO query_cache (key, value, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, key, value, time.Now().Unix()); err != nil {
		return errors.Wrapf(store.ErrWriteFailed, "key %q: %v", key, err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM query_cache WHERE key = ?", key); err != nil {
		return errors.Wrapf(store.ErrWriteFailed, "delete key %q: %v", key, err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.Driver = (*DB)(nil)
