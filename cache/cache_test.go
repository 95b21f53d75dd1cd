package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiderfoot/core/cache"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := cache.New(cache.Config{Capacity: 10})
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := cache.New(cache.Config{Capacity: 10})
	require.NoError(t, err)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSpillToDiskOnEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.New(cache.Config{Capacity: 1, SpillDirectory: dir})
	require.NoError(t, err)

	require.NoError(t, c.Put("a", []byte("1")))
	require.NoError(t, c.Put("b", []byte("2"))) // evicts "a" to spill

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.SpillFiles)

	v, ok, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestTTLExpiry(t *testing.T) {
	c, err := cache.New(cache.Config{Capacity: 10, TTL: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c, err := cache.New(cache.Config{Capacity: 10})
	require.NoError(t, err)

	require.NoError(t, c.Put("k", []byte("v")))
	c.Delete("k")

	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}
