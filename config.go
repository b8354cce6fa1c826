package querycache

import (
	"time"
)

// Default freshness windows, used when neither the profile nor the per-query
// options set one.
const (
	DefaultCacheDuration   = 5 * time.Minute
	DefaultRefetchDuration = 30 * time.Second
)

// Config holds the per-query cache policy. Zero fields fall back to the
// registry defaults when the query is created.
type Config struct {
	// CacheDuration is how long the entry survives in the registry without
	// subscribers before it becomes eligible for eviction.
	CacheDuration time.Duration
	// RefetchDuration is how long after TimeCreated the entry is considered
	// fresh; past it the entry is stale and eligible for refetch on access.
	RefetchDuration time.Duration
	// StoreQuery enables the storage collaborator for this query: reads warm
	// an empty query, successful fetches and updates are persisted.
	StoreQuery bool
	// Rethrow makes fetch failures propagate to the caller of Result in
	// addition to being recorded in the state.
	Rethrow bool
}

// Option customizes a query at creation time. Options passed to GetOrCreate
// for an already-registered key are discarded (first writer wins).
type Option[T any] func(*options[T])

type options[T any] struct {
	cfg           Config
	initial       *T
	onSuccess     func(T)
	onError       func(error)
	shouldRefetch func(q *Query[T], fromStorage bool) bool
}

// WithConfig replaces the whole cache policy for the query.
func WithConfig[T any](cfg Config) Option[T] {
	return func(o *options[T]) { o.cfg = cfg }
}

// WithCacheDuration overrides the eviction window.
func WithCacheDuration[T any](d time.Duration) Option[T] {
	return func(o *options[T]) { o.cfg.CacheDuration = d }
}

// WithRefetchDuration overrides the staleness window.
func WithRefetchDuration[T any](d time.Duration) Option[T] {
	return func(o *options[T]) { o.cfg.RefetchDuration = d }
}

// WithStoreQuery enables the storage collaborator for the query.
func WithStoreQuery[T any]() Option[T] {
	return func(o *options[T]) { o.cfg.StoreQuery = true }
}

// WithRethrow makes fetch failures visible to Result callers.
func WithRethrow[T any]() Option[T] {
	return func(o *options[T]) { o.cfg.Rethrow = true }
}

// WithInitialData seeds the query with a value before the first fetch.
// The seeded state is StatusInitial with TimeCreated set to now.
func WithInitialData[T any](data T) Option[T] {
	return func(o *options[T]) { o.initial = &data }
}

// WithOnSuccess registers a callback invoked with every successfully fetched
// value. Callback panics are recovered and logged; they never alter the
// recorded fetch outcome.
func WithOnSuccess[T any](fn func(T)) Option[T] {
	return func(o *options[T]) { o.onSuccess = fn }
}

// WithOnError registers a callback invoked with every fetch failure.
func WithOnError[T any](fn func(error)) Option[T] {
	return func(o *options[T]) { o.onError = fn }
}

// WithShouldRefetch overrides the default staleness-triggered refetch policy.
// fromStorage is true when the query was just warmed from the storage
// collaborator; returning false in that case lets the stored value become the
// resting state without a fetch.
func WithShouldRefetch[T any](fn func(q *Query[T], fromStorage bool) bool) Option[T] {
	return func(o *options[T]) { o.shouldRefetch = fn }
}
