package querycache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// FetchFunc produces the value for a query. It is responsible for its own
// timeout; the cache never cancels a fetch once started.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Query memoizes the result of a FetchFunc under a key. The registry owns
// the canonical instance per key; all state transitions for one query are
// serialized by its mutex, and at most one fetch runs at a time (concurrent
// requesters join the in-flight fetch instead of starting another).
type Query[T any] struct {
	key    string // encoded, registry identity
	rawKey any    // original key object, kept for diagnostics
	cfg    Config

	// Behavior is bound at creation and immutable for the query's lifetime.
	fetchFn       FetchFunc[T]
	onSuccess     func(T)
	onError       func(error)
	shouldRefetch func(q *Query[T], fromStorage bool) bool

	registry *Registry
	logger   *slog.Logger

	mu          sync.Mutex
	state       State[T]
	inflight    *flight[T]
	subscribers map[string]func(State[T])
	lastChange  time.Time
}

// flight is the single-flight slot: present iff a fetch is executing.
// Requesters wait on done and then share state/err.
type flight[T any] struct {
	done  chan struct{}
	state State[T]
	err   error
}

func newQuery[T any](r *Registry, encoded string, rawKey any, fetch FetchFunc[T], opts ...Option[T]) *Query[T] {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}
	if o.cfg.CacheDuration <= 0 {
		o.cfg.CacheDuration = r.profile.CacheDuration
	}
	if o.cfg.RefetchDuration <= 0 {
		o.cfg.RefetchDuration = r.profile.RefetchDuration
	}
	// Rethrow can only be widened per query, not narrowed below the profile.
	o.cfg.Rethrow = o.cfg.Rethrow || r.profile.Rethrow

	st := State[T]{Status: StatusInitial}
	if o.initial != nil {
		st.Data = *o.initial
		st.HasData = true
		st.TimeCreated = time.Now()
	}

	return &Query[T]{
		key:           encoded,
		rawKey:        rawKey,
		cfg:           o.cfg,
		fetchFn:       fetch,
		onSuccess:     o.onSuccess,
		onError:       o.onError,
		shouldRefetch: o.shouldRefetch,
		registry:      r,
		logger:        r.logger.With("key", encoded),
		state:         st,
		subscribers:   make(map[string]func(State[T])),
		lastChange:    time.Now(),
	}
}

// Key returns the encoded key identifying the query in the registry.
func (q *Query[T]) Key() string { return q.key }

// RawKey returns the original key object the query was created with.
func (q *Query[T]) RawKey() any { return q.rawKey }

// Config returns the cache policy the query was created with.
func (q *Query[T]) Config() Config { return q.cfg }

// State returns the current snapshot without triggering a fetch.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Result produces the best-known state, fetching when required.
//
// A fresh, non-error state with data is returned immediately without a
// fetch. Otherwise the refetch policy is consulted; if a fetch proceeds
// while one is already in flight, the caller joins the existing fetch
// rather than starting a new one.
//
// Fetch failures are always recorded in the state first; they are returned
// to the caller only when the query was created with Rethrow.
func (q *Query[T]) Result(ctx context.Context) (State[T], error) {
	return q.result(ctx, false)
}

// Refetch forces a fetch, bypassing the freshness check. A refetch forced
// while a fetch is in flight joins the existing one (join, not preempt).
func (q *Query[T]) Refetch(ctx context.Context) (State[T], error) {
	return q.result(ctx, true)
}

func (q *Query[T]) result(ctx context.Context, force bool) (State[T], error) {
	q.mu.Lock()
	st := q.state
	fresh := st.HasData && st.Status != StatusError && !st.Stale(q.cfg.RefetchDuration, time.Now())
	if !force && fresh {
		q.emitLocked(st)
		q.mu.Unlock()
		return st, nil
	}
	q.mu.Unlock()

	// The policy hook runs unlocked so it may inspect the query.
	if !force && st.Status != StatusInitial && !q.refetchAllowed(false) {
		return st, nil
	}

	q.mu.Lock()
	if f := q.inflight; f != nil {
		q.mu.Unlock()
		select {
		case <-f.done:
			return q.flightResult(f)
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
	if !force {
		// A flight that completed while the policy hook ran may have
		// refreshed the state already; don't start a redundant fetch.
		st = q.state
		if st.HasData && st.Status != StatusError && !st.Stale(q.cfg.RefetchDuration, time.Now()) {
			q.emitLocked(st)
			q.mu.Unlock()
			return st, nil
		}
	}
	f := &flight[T]{done: make(chan struct{})}
	q.inflight = f
	q.mu.Unlock()

	q.runFetch(ctx, f)
	return q.flightResult(f)
}

func (q *Query[T]) flightResult(f *flight[T]) (State[T], error) {
	if f.err != nil && q.cfg.Rethrow {
		return f.state, f.err
	}
	return f.state, nil
}

// runFetch executes one fetch cycle. The deferred block is the finally-style
// cleanup: whatever happens, the slot is cleared, the final state is captured
// on the flight, and subscribers get the final emission.
func (q *Query[T]) runFetch(ctx context.Context, f *flight[T]) {
	atomic.AddInt64(&q.registry.fetches, 1)

	defer func() {
		r := recover()
		q.mu.Lock()
		if r != nil {
			err := errors.Errorf("fetch panicked: %v", r)
			q.state.Status = StatusError
			q.state.Err = err
			f.err = err
		}
		f.state = q.state
		q.inflight = nil
		q.lastChange = time.Now()
		q.emitLocked(q.state)
		q.mu.Unlock()
		close(f.done)
	}()

	q.mu.Lock()
	q.state.Status = StatusLoading
	q.state.Err = nil
	st := q.state
	q.emitLocked(st)
	q.mu.Unlock()

	if !st.HasData && q.cfg.StoreQuery && q.registry.store != nil {
		if value, ok := q.readStorage(ctx); ok {
			q.mu.Lock()
			q.state.Data = value
			q.state.HasData = true
			q.emitLocked(q.state)
			q.mu.Unlock()

			if !q.refetchAllowed(true) {
				// The stored value becomes the resting state; no fetch.
				q.mu.Lock()
				q.state.Status = StatusSuccess
				q.state.TimeCreated = time.Now()
				q.mu.Unlock()
				return
			}
		}
	}

	value, err := q.fetchFn(ctx)
	if err != nil {
		q.invokeOnError(err)
		q.mu.Lock()
		q.state.Status = StatusError
		q.state.Err = err
		q.mu.Unlock()
		f.err = err
		q.logger.Debug("fetch failed", "error", err)
		return
	}

	q.invokeOnSuccess(value)
	q.mu.Lock()
	q.state.Data = value
	q.state.HasData = true
	q.state.Status = StatusSuccess
	q.state.Err = nil
	q.state.TimeCreated = time.Now()
	snapshot := q.state
	q.mu.Unlock()

	if q.cfg.StoreQuery {
		q.persist(ctx, snapshot)
	}
}

// Update applies a pure transformation to the cached value without invoking
// the fetch function. Status, error, and TimeCreated are untouched: an
// update is not a fresh fetch and does not reset the staleness clock.
// The new value is persisted when the query stores to the collaborator.
func (q *Query[T]) Update(ctx context.Context, fn func(old T) T) State[T] {
	q.mu.Lock()
	q.state.Data = fn(q.state.Data)
	q.state.HasData = true
	st := q.state
	q.lastChange = time.Now()
	q.emitLocked(st)
	q.mu.Unlock()

	if q.cfg.StoreQuery {
		q.persist(ctx, st)
	}
	return st
}

// Invalidate removes the query from the registry and, when the query stores
// to the collaborator, deletes the persisted value. Subsequent get-or-create
// for the key builds a fresh instance.
func (q *Query[T]) Invalidate(ctx context.Context) {
	q.registry.Remove(q.key)
	if q.cfg.StoreQuery && q.registry.store != nil {
		if err := q.registry.store.Delete(ctx, q.key); err != nil {
			q.logger.Warn("storage delete failed", "error", err)
		}
	}
}

func (q *Query[T]) refetchAllowed(fromStorage bool) bool {
	if q.shouldRefetch == nil {
		return true
	}
	return q.shouldRefetch(q, fromStorage)
}

func (q *Query[T]) readStorage(ctx context.Context) (T, bool) {
	var zero T
	b, found, err := q.registry.store.Read(ctx, q.key)
	if err != nil {
		// Read failures are a cache miss, not an error.
		q.logger.Debug("storage read failed, treating as miss", "error", err)
		return zero, false
	}
	if !found {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(b, &value); err != nil {
		q.logger.Warn("stored value does not decode, treating as miss", "error", err)
		return zero, false
	}
	return value, true
}

func (q *Query[T]) persist(ctx context.Context, st State[T]) {
	if q.registry.store == nil {
		return
	}
	b, err := json.Marshal(st.Data)
	if err != nil {
		q.logger.Warn("value does not encode for storage", "error", err)
		return
	}
	// Write failures are loggable but never fail the fetch.
	if err := q.registry.store.Write(ctx, q.key, b); err != nil {
		q.logger.Warn("storage write failed", "error", err)
	}
}

// A panicking callback must never mask or alter the fetch outcome; it is
// recovered and logged instead.
func (q *Query[T]) invokeOnSuccess(value T) {
	if q.onSuccess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("success callback panicked", "panic", r)
		}
	}()
	q.onSuccess(value)
}

func (q *Query[T]) invokeOnError(err error) {
	if q.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("error callback panicked", "panic", r)
		}
	}()
	q.onError(err)
}

func (q *Query[T]) encodedKey() string { return q.key }

// evictable reports whether the query has no subscribers, no fetch in
// flight, and has not changed state within its eviction window.
func (q *Query[T]) evictable(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.subscribers) == 0 && q.inflight == nil && now.Sub(q.lastChange) > q.cfg.CacheDuration
}
