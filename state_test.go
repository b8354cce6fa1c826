package querycache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "initial", StatusInitial.String())
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestState_Stale(t *testing.T) {
	now := time.Now()

	t.Run("NoDataIsAlwaysStale", func(t *testing.T) {
		st := State[string]{}
		assert.True(t, st.Stale(time.Hour, now))
	})

	t.Run("WithinWindowIsFresh", func(t *testing.T) {
		st := State[string]{HasData: true, TimeCreated: now.Add(-time.Second)}
		assert.False(t, st.Stale(time.Minute, now))
	})

	t.Run("PastWindowIsStale", func(t *testing.T) {
		st := State[string]{HasData: true, TimeCreated: now.Add(-2 * time.Minute)}
		assert.True(t, st.Stale(time.Minute, now))
	})
}
