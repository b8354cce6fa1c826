package querycache

import "github.com/pkg/errors"

var (
	// ErrDuplicateKey is returned when a query is registered under a key that
	// already exists. Get-or-create prevents this from reaching callers; seeing
	// it means the registry invariant was violated.
	ErrDuplicateKey = errors.New("querycache: duplicate key")

	// ErrTypeMismatch is returned when an existing query for a key holds a
	// different value type than the one requested.
	ErrTypeMismatch = errors.New("querycache: value type mismatch for existing key")

	// ErrRegistryClosed is returned when a query is requested from a registry
	// that has been closed.
	ErrRegistryClosed = errors.New("querycache: registry closed")
)
