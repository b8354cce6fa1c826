// Package postgres implements the storage driver on a PostgreSQL database.
package postgres

import (
	"context"
	"database/sql"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/querycache/internal/profile"
	"github.com/hrygo/querycache/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_cache (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_ts BIGINT NOT NULL
)`

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB connects to the PostgreSQL database at the profile's DSN and
// initializes the cache table.
func NewDB(p *profile.Profile) (store.Driver, error) {
	if p == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", p.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", p.DSN)
	}

	// A cache sidecar needs very little of the pool.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize query_cache table")
	}

	return &DB{db: db, profile: p}, nil
}

func (d *DB) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, "SELECT value FROM query_cache WHERE key = $1", key).Scan(&value)
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
		INSERT INTO query_cache (key, value, updated_ts) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, key, value, time.Now().Unix()); err != nil {
		return errors.Wrapf(store.ErrWriteFailed, "key %q: %v", key, err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM query_cache WHERE key = $1", key); err != nil {
		return errors.Wrapf(store.ErrWriteFailed, "delete key %q: %v", key, err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.Driver = (*DB)(nil)
