package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/querycache/internal/profile"
)

func TestConfig_Defaults(t *testing.T) {
	t.Run("ProfileSuppliesDefaults", func(t *testing.T) {
		p := profile.Default()
		p.CacheDuration = 3 * time.Minute
		p.RefetchDuration = 7 * time.Second
		r := newTestRegistry(t, RegistryConfig{Profile: p})

		q, _, err := GetOrCreate(r, "c1", func(context.Context) (string, error) { return "", nil })
		require.NoError(t, err)
		assert.Equal(t, 3*time.Minute, q.Config().CacheDuration)
		assert.Equal(t, 7*time.Second, q.Config().RefetchDuration)
	})

	t.Run("OptionsOverrideProfile", func(t *testing.T) {
		r := newTestRegistry(t, RegistryConfig{})

		q, _, err := GetOrCreate(r, "c2", func(context.Context) (string, error) { return "", nil },
			WithConfig[string](Config{
				CacheDuration:   time.Hour,
				RefetchDuration: time.Minute,
			}))
		require.NoError(t, err)
		assert.Equal(t, time.Hour, q.Config().CacheDuration)
		assert.Equal(t, time.Minute, q.Config().RefetchDuration)
	})

	t.Run("ProfileRethrowAppliesToAllQueries", func(t *testing.T) {
		p := profile.Default()
		p.Rethrow = true
		r := newTestRegistry(t, RegistryConfig{Profile: p})

		fetchErr := errors.New("boom")
		q, _, err := GetOrCreate(r, "c3", func(context.Context) (string, error) { return "", fetchErr })
		require.NoError(t, err)

		_, err = q.Result(context.Background())
		assert.ErrorIs(t, err, fetchErr)
	})
}
