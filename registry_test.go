package querycache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/querycache/internal/profile"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstWriterWins", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{})

		var firstCalls, secondCalls int64
		q1, outcome, err := GetOrCreate(r, "k1", func(context.Context) (string, error) {
			atomic.AddInt64(&firstCalls, 1)
			return "first", nil
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, outcome)

		q2, outcome, err := GetOrCreate(r, "k1", func(context.Context) (string, error) {
			atomic.AddInt64(&secondCalls, 1)
			return "second", nil
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeExisting, outcome)
		assert.Same(t, q1, q2)

		st, err := q2.Result(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", st.Data)
		assert.Equal(t, int64(1), atomic.LoadInt64(&firstCalls))
		assert.Equal(t, int64(0), atomic.LoadInt64(&secondCalls), "second caller's fetch function is never invoked")
	})

	t.Run("ConcurrentCreateYieldsOneInstance", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{})

		instances := make([]*Query[int], 16)
		var eg errgroup.Group
		for i := range instances {
			i := i
			eg.Go(func() error {
				q, _, err := GetOrCreate(r, "k2", func(context.Context) (int, error) { return 1, nil })
				instances[i] = q
				return err
			})
		}
		require.NoError(t, eg.Wait())

		for _, q := range instances[1:] {
			assert.Same(t, instances[0], q)
		}
		assert.Equal(t, 1, r.Len())
	})

	t.Run("LogicallyEqualKeysShareAQuery", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{})

		type key struct {
			Kind string
			ID   int
		}
		q1, _, err := GetOrCreate(r, key{Kind: "user", ID: 7}, func(context.Context) (string, error) { return "", nil })
		require.NoError(t, err)
		q2, outcome, err := GetOrCreate(r, key{Kind: "user", ID: 7}, func(context.Context) (string, error) { return "", nil })
		require.NoError(t, err)
		assert.Equal(t, OutcomeExisting, outcome)
		assert.Same(t, q1, q2)
		assert.Equal(t, key{Kind: "user", ID: 7}, q1.RawKey())
	})

	t.Run("TypeMismatchOnExistingKey", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{})

		_, _, err := GetOrCreate(r, "k3", func(context.Context) (string, error) { return "", nil })
		require.NoError(t, err)

		_, _, err = GetOrCreate(r, "k3", func(context.Context) (int, error) { return 0, nil })
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("SparseProfileIsNormalized", func(t *testing.T) {
		// A hand-built profile with zero durations must not reach the
		// cleanup ticker or degrade every query to instantly stale.
		r := NewRegistry(RegistryConfig{Profile: &profile.Profile{Mode: "dev"}})
		defer r.Close()

		q, _, err := GetOrCreate(r, "k5", func(context.Context) (string, error) { return "", nil })
		require.NoError(t, err)

		def := profile.Default()
		assert.Equal(t, def.CacheDuration, q.Config().CacheDuration)
		assert.Equal(t, def.RefetchDuration, q.Config().RefetchDuration)
	})

	t.Run("ClosedRegistryRefusesQueries", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		r.Close()

		_, _, err := GetOrCreate(r, "k4", func(context.Context) (string, error) { return "", nil })
		assert.ErrorIs(t, err, ErrRegistryClosed)
	})
}

func TestRegistry_Lookup(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	_, found, err := Lookup[string](r, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	q, _, err := GetOrCreate(r, "k1", func(context.Context) (string, error) { return "", nil })
	require.NoError(t, err)

	got, found, err := Lookup[string](r, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, q, got)

	_, _, err = Lookup[int](r, "k1")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})

	q, _, err := GetOrCreate(r, "k1", func(context.Context) (string, error) { return "", nil })
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	r.Remove(q.Key())
	assert.Equal(t, 0, r.Len())

	_, found, err := Lookup[string](r, "k1")
	require.NoError(t, err)
	assert.False(t, found)

	// A fresh instance takes over the key.
	q2, outcome, err := GetOrCreate(r, "k1", func(context.Context) (string, error) { return "", nil })
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NotSame(t, q, q2)
}

func TestRegistry_Eviction(t *testing.T) {
	ctx := context.Background()

	evictionProfile := func() *profile.Profile {
		p := profile.Default()
		p.CleanupInterval = 20 * time.Millisecond
		return p
	}

	t.Run("IdleQueryIsEvicted", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{Profile: evictionProfile()})

		q, _, err := GetOrCreate(r, "ev1", func(context.Context) (string, error) { return "v", nil },
			WithCacheDuration[string](30*time.Millisecond))
		require.NoError(t, err)
		_, err = q.Result(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond)
		assert.GreaterOrEqual(t, r.Stats().Evictions, int64(1))
	})

	t.Run("SubscribedQuerySurvives", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{Profile: evictionProfile()})

		q, _, err := GetOrCreate(r, "ev2", func(context.Context) (string, error) { return "v", nil },
			WithCacheDuration[string](30*time.Millisecond))
		require.NoError(t, err)
		_, err = q.Result(ctx)
		require.NoError(t, err)

		cancel := q.Subscribe(func(State[string]) {})
		defer cancel()

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("SubscriberMayCallRegistryDuringEviction", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{Profile: evictionProfile()})

		q, _, err := GetOrCreate(r, "ev4", func(context.Context) (string, error) { return "v", nil },
			WithCacheDuration[string](10*time.Millisecond),
			WithRefetchDuration[string](time.Nanosecond))
		require.NoError(t, err)

		// Emissions run under the query mutex; registry calls from the
		// observer must not deadlock against a concurrent eviction scan.
		cancel := q.Subscribe(func(State[string]) { _ = r.Len() })
		defer cancel()

		deadline := time.Now().Add(200 * time.Millisecond)
		for time.Now().Before(deadline) {
			_, err := q.Result(ctx)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, r.Len(), "subscribed query is never evicted")
	})

	t.Run("FreshQuerySurvives", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{Profile: evictionProfile()})

		q, _, err := GetOrCreate(r, "ev3", func(context.Context) (string, error) { return "v", nil },
			WithCacheDuration[string](time.Hour))
		require.NoError(t, err)
		_, err = q.Result(ctx)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, r.Len())
	})
}

func TestRegistry_Stats(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, RegistryConfig{})

	q, _, err := GetOrCreate(r, "st1", func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)
	_, _, err = GetOrCreate(r, "st1", func(context.Context) (string, error) { return "v", nil })
	require.NoError(t, err)
	_, err = q.Result(ctx)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Queries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Fetches)
}
