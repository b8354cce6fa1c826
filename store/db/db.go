// Package db selects a persistent storage driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/querycache/internal/profile"
	"github.com/hrygo/querycache/store"
	"github.com/hrygo/querycache/store/db/postgres"
	"github.com/hrygo/querycache/store/db/sqlite"
)

// NewDriver creates the storage driver named by the profile.
//
// SQLite is the zero-setup backend for personal and development use;
// PostgreSQL is for deployments that already run one. Both store the same
// single key/value table.
func NewDriver(p *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch p.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(p)
	case "postgres":
		driver, err = postgres.NewDB(p)
	default:
		return nil, errors.Errorf("unknown storage driver %q: only 'sqlite' and 'postgres' are supported", p.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage driver")
	}
	return driver, nil
}
