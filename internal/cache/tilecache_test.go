package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileCacheSetGet(t *testing.T) {
	c, err := NewTileCache(t.TempDir(), DefaultConfig(), nil)
	require.NoError(t, err)

	_, ok := c.Get("https://t/1/0/0")
	assert.False(t, ok)

	require.NoError(t, c.Set("https://t/1/0/0", []byte("tile-a")))
	data, ok := c.Get("https://t/1/0/0")
	require.True(t, ok)
	assert.Equal(t, []byte("tile-a"), data)

	// Overwrite keeps size accounting consistent
	require.NoError(t, c.Set("https://t/1/0/0", []byte("tile-bb")))
	entries, size, _ := c.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(7), size)
}

func TestTileCacheTTL(t *testing.T) {
	c, err := NewTileCache(t.TempDir(), Config{MaxSizeMB: 1, TTLDays: 1}, nil)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v")))
	now = now.Add(23 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)
	entries, size, _ := c.Stats()
	assert.Zero(t, entries)
	assert.Zero(t, size)
}

func TestTileCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewTileCache(t.TempDir(), Config{MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	chunk := bytes.Repeat([]byte{1}, 400*1024)
	require.NoError(t, c.Set("a", chunk))
	require.NoError(t, c.Set("b", chunk))
	_, ok := c.Get("a") // a is now more recent than b
	require.True(t, ok)
	require.NoError(t, c.Set("c", chunk))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("c")
	assert.True(t, ok)
	_, size, max := c.Stats()
	assert.LessOrEqual(t, size, max)
}

func TestTileCacheReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := NewTileCache(dir, DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Set("persisted", []byte("data")))

	reopened, err := NewTileCache(dir, DefaultConfig(), nil)
	require.NoError(t, err)
	data, ok := reopened.Get("persisted")
	require.True(t, ok)
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, reopened.Clear())
	_, ok = reopened.Get("persisted")
	assert.False(t, ok)
}

func TestTTLCache(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache[string](2, 50*time.Millisecond)

	c.Put(ctx, "a", "1")
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	c.Put(ctx, "b", "2")
	c.Put(ctx, "c", "3")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok, "size bound evicts the oldest entry")

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "c")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
