// Package querycache provides a process-wide asynchronous query cache.
//
// A query binds a key to a fetch function. The cache memoizes the fetched
// value, tracks its freshness against two independent windows (refetch and
// eviction), deduplicates concurrent fetches for the same key, and notifies
// subscribers on every state transition.
//
// Basic usage:
//
//	reg := querycache.NewRegistry(querycache.RegistryConfig{})
//	defer reg.Close()
//
//	q, _, err := querycache.GetOrCreate(reg, "user:42", func(ctx context.Context) (User, error) {
//	    return loadUser(ctx, 42)
//	})
//	state, err := q.Result(ctx)
//
// Storage fallback is optional: configure the registry with a store.Driver
// and mark queries with StoreQuery to warm them from (and persist them to)
// the backing store.
package querycache
