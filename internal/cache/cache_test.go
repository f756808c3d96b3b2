package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()

	c, err := New(ttl, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	return c
}

func TestGetSet(t *testing.T) {
	t.Parallel()

	c := setup(t, time.Minute)

	_, ok := c.Get("GET /movies")
	assert.False(t, ok)

	require.NoError(t, c.Set("GET /movies", []byte(`[]`)))

	v, ok := c.Get("GET /movies")
	require.True(t, ok)
	assert.Equal(t, []byte(`[]`), v)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	c := setup(t, time.Minute)

	require.NoError(t, c.Set("GET /movies?limit=1", []byte("a")))
	require.NoError(t, c.Set("GET /movies/1", []byte("b")))
	require.NoError(t, c.Set("GET /healthz", []byte("c")))

	require.NoError(t, c.Invalidate("GET /movies"))

	_, ok := c.Get("GET /movies?limit=1")
	assert.False(t, ok)
	_, ok = c.Get("GET /movies/1")
	assert.False(t, ok)
	_, ok = c.Get("GET /healthz")
	assert.True(t, ok)
}

func TestExpiry(t *testing.T) {
	t.Parallel()

	// badger TTLs have a resolution of one second
	c := setup(t, time.Second)

	require.NoError(t, c.Set("k", []byte("v")))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewInvalidTTL(t *testing.T) {
	t.Parallel()

	_, err := New(0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSetIfUnchanged(t *testing.T) {
	t.Parallel()

	c := setup(t, time.Minute)

	gen := c.Generation()

	stored, err := c.SetIfUnchanged("GET /movies", []byte("a"), gen)
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, c.Invalidate("GET /movies"))
	assert.NotEqual(t, gen, c.Generation())

	stored, err = c.SetIfUnchanged("GET /movies", []byte("b"), gen)
	require.NoError(t, err)
	assert.False(t, stored)

	_, ok := c.Get("GET /movies")
	assert.False(t, ok)

	stored, err = c.SetIfUnchanged("GET /movies", []byte("c"), c.Generation())
	require.NoError(t, err)
	assert.True(t, stored)
}
