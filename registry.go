package querycache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/querycache/internal/profile"
	"github.com/hrygo/querycache/store"
)

// Outcome tags the result of GetOrCreate.
type Outcome int

const (
	// OutcomeCreated means a new query was built and registered.
	OutcomeCreated Outcome = iota
	// OutcomeExisting means the key was already registered; the
	// caller-supplied fetch function and options were discarded
	// (first writer wins).
	OutcomeExisting
)

func (o Outcome) String() string {
	if o == OutcomeCreated {
		return "created"
	}
	return "existing"
}

// entry is the registry's type-erased view of a query.
type entry interface {
	encodedKey() string
	evictable(now time.Time) bool
}

// RegistryConfig configures a Registry. Zero fields fall back to the
// built-in profile defaults.
type RegistryConfig struct {
	// Profile supplies the process-wide cache policy defaults.
	Profile *profile.Profile
	// Store is the optional storage collaborator shared by all queries
	// created with StoreQuery.
	Store store.Driver
	// Logger receives cache diagnostics; defaults to slog.Default().
	Logger *slog.Logger
}

// Registry owns the canonical query instance per encoded key. Mutations are
// serialized by its mutex so two concurrent get-or-create calls for the same
// key can never produce two live instances. A background loop evicts queries
// with no subscribers once their eviction window has elapsed.
type Registry struct {
	profile *profile.Profile
	store   store.Driver
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]entry
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hits      int64
	misses    int64
	fetches   int64
	evictions int64
}

// NewRegistry creates a registry and starts its eviction loop.
// Call Close to stop it.
func NewRegistry(cfg RegistryConfig) *Registry {
	p := cfg.Profile.Normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		profile: p,
		store:   cfg.Store,
		logger:  logger,
		entries: make(map[string]entry),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.wg.Add(1)
	go r.cleanupLoop()

	return r
}

// Close stops the eviction loop and drops all queries. The storage
// collaborator is not closed; its lifecycle belongs to the caller.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	r.entries = make(map[string]entry)
	r.mu.Unlock()
}

// GetOrCreate returns the query registered under key, creating and
// registering it when absent. Creation is idempotent: for an existing key
// the original instance is returned unchanged and the supplied fetch
// function and options are never used.
func GetOrCreate[T any](r *Registry, key any, fetch FetchFunc[T], opts ...Option[T]) (*Query[T], Outcome, error) {
	encoded, err := EncodeKey(key)
	if err != nil {
		return nil, OutcomeCreated, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, OutcomeCreated, ErrRegistryClosed
	}
	if e, ok := r.entries[encoded]; ok {
		q, ok := e.(*Query[T])
		if !ok {
			return nil, OutcomeExisting, errors.Wrapf(ErrTypeMismatch, "key %s", encoded)
		}
		atomic.AddInt64(&r.hits, 1)
		return q, OutcomeExisting, nil
	}

	q := newQuery(r, encoded, key, fetch, opts...)
	if err := r.addLocked(q); err != nil {
		return nil, OutcomeCreated, err
	}
	atomic.AddInt64(&r.misses, 1)
	return q, OutcomeCreated, nil
}

// Lookup returns the query registered under key, if any. No side effects.
func Lookup[T any](r *Registry, key any) (*Query[T], bool, error) {
	encoded, err := EncodeKey(key)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[encoded]
	if !ok {
		return nil, false, nil
	}
	q, ok := e.(*Query[T])
	if !ok {
		return nil, false, errors.Wrapf(ErrTypeMismatch, "key %s", encoded)
	}
	return q, true, nil
}

func (r *Registry) addLocked(e entry) error {
	if _, ok := r.entries[e.encodedKey()]; ok {
		return errors.Wrapf(ErrDuplicateKey, "key %s", e.encodedKey())
	}
	r.entries[e.encodedKey()] = e
	return nil
}

// Remove deletes the query registered under the encoded key. Subsequent
// lookups miss; a live *Query held by callers keeps working but is no longer
// the canonical instance.
func (r *Registry) Remove(encodedKey string) {
	r.mu.Lock()
	delete(r.entries, encodedKey)
	r.mu.Unlock()
}

// Len returns the number of registered queries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stats is a point-in-time snapshot of registry counters.
type Stats struct {
	Queries   int
	Hits      int64
	Misses    int64
	Fetches   int64
	Evictions int64
}

func (r *Registry) Stats() Stats {
	return Stats{
		Queries:   r.Len(),
		Hits:      atomic.LoadInt64(&r.hits),
		Misses:    atomic.LoadInt64(&r.misses),
		Fetches:   atomic.LoadInt64(&r.fetches),
		Evictions: atomic.LoadInt64(&r.evictions),
	}
}

func (r *Registry) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.profile.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	now := time.Now()

	// Probe outside r.mu: evictable takes the query mutex, and holding both
	// would deadlock a subscriber that calls into the registry mid-emission.
	r.mu.Lock()
	candidates := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.Unlock()

	var expired []string
	for _, e := range candidates {
		if e.evictable(now) {
			expired = append(expired, e.encodedKey())
		}
	}
	if len(expired) == 0 {
		return
	}

	r.mu.Lock()
	for _, key := range expired {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	atomic.AddInt64(&r.evictions, int64(len(expired)))
	r.logger.Debug("evicted queries", "count", len(expired))
}

var _ entry = (*Query[any])(nil)
