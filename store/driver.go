// Package store defines the storage collaborator used by the query cache as
// a fallback and persistence layer. Drivers deal in raw bytes; the cache owns
// the value codec.
package store

import (
	"context"

	"github.com/pkg/errors"
)

// Driver is the capability set the cache expects from a storage backend.
//
// Read misses are reported via the found flag, not an error. Drivers wrap
// operational failures with ErrReadFailed or ErrWriteFailed so callers can
// tell the two kinds apart: the cache treats read failures as a miss and
// write failures as loggable but non-fatal.
type Driver interface {
	Read(ctx context.Context, key string) (value []byte, found bool, err error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var (
	// ErrReadFailed wraps storage read failures.
	ErrReadFailed = errors.New("store: read failed")
	// ErrWriteFailed wraps storage write failures.
	ErrWriteFailed = errors.New("store: write failed")
)
