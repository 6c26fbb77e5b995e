package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FreshAndStaleWindows(t *testing.T) {
	c := NewCache(time.Minute, time.Hour)
	defer c.Stop()

	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	record := &Record{PluginID: "p", UserID: "u"}
	c.Set("u", "p", record)

	got, ok := c.Get("u", "p")
	require.True(t, ok)
	assert.Same(t, record, got)

	// Past the TTL: no longer fresh, still within grace.
	clock = base.Add(2 * time.Minute)
	_, ok = c.Get("u", "p")
	assert.False(t, ok)

	got, ok = c.GetStale("u", "p")
	require.True(t, ok)
	assert.Same(t, record, got)

	// Past the grace window: gone entirely.
	clock = base.Add(2 * time.Hour)
	_, ok = c.GetStale("u", "p")
	assert.False(t, ok)
}

func TestCache_SetResetsAge(t *testing.T) {
	c := NewCache(time.Minute, time.Hour)
	defer c.Stop()

	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	c.Set("u", "p", &Record{PluginID: "p"})
	clock = base.Add(50 * time.Second)
	c.Set("u", "p", &Record{PluginID: "p"})

	clock = base.Add(90 * time.Second)
	_, ok := c.Get("u", "p")
	assert.True(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(time.Minute, time.Hour)
	defer c.Stop()

	c.Set("u", "p", &Record{PluginID: "p"})
	require.Equal(t, 1, c.Len())

	c.Invalidate("u", "p")
	assert.Equal(t, 0, c.Len())
	_, ok := c.GetStale("u", "p")
	assert.False(t, ok)
}

func TestCache_KeysAreIndependent(t *testing.T) {
	c := NewCache(time.Minute, time.Hour)
	defer c.Stop()

	c.Set("u1", "p", &Record{UserID: "u1"})
	c.Set("u2", "p", &Record{UserID: "u2"})

	got, ok := c.Get("u1", "p")
	require.True(t, ok)
	assert.Equal(t, "u1", got.UserID)

	got, ok = c.Get("u2", "p")
	require.True(t, ok)
	assert.Equal(t, "u2", got.UserID)
}

func TestCache_EvictExpired(t *testing.T) {
	c := NewCache(time.Minute, time.Hour)
	defer c.Stop()

	base := time.Now()
	clock := base
	c.now = func() time.Time { return clock }

	c.Set("u", "old", &Record{})
	clock = base.Add(30 * time.Minute)
	c.Set("u", "new", &Record{})

	clock = base.Add(70 * time.Minute)
	c.evictExpired()

	assert.Equal(t, 1, c.Len())
	_, ok := c.GetStale("u", "new")
	assert.True(t, ok)
}
