package devinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider counts snapshots taken from the wrapped provider.
type countingProvider struct {
	Provider
	calls     int
	lastFlags Flags
}

func (c *countingProvider) Snapshot(root string, flags Flags) (Image, error) {
	c.calls++
	c.lastFlags = flags
	return c.Provider.Snapshot(root, flags)
}

func newTestCache(t *testing.T) (*CacheProvider, *countingProvider) {
	t.Helper()
	src := &countingProvider{Provider: NewFixtureProvider(loadTestFixture(t, "system.yaml"))}
	return &CacheProvider{
		Source: src,
		Path:   filepath.Join(t.TempDir(), "devinfo.cache"),
	}, src
}

func acquireCached(t *testing.T, c *CacheProvider, root string, flags Flags) *Snapshot {
	t.Helper()
	s, err := Acquire(c, root, flags, WithPrivileged())
	require.NoError(t, err)
	t.Cleanup(func() {
		if !s.Released() {
			_ = s.Close()
		}
	})
	return s
}

func TestCacheMissThenHit(t *testing.T) {
	c, src := newTestCache(t)

	s1 := acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, CopyAll, src.lastFlags, "cache flags are not passed on")
	_, err := os.Stat(c.Path)
	require.NoError(t, err, "miss writes the cache file")

	s2 := acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls, "hit does not call the source")
	assert.Equal(t, s1.NodeCount(), s2.NodeCount())
	assert.NotEqual(t, s1.ID(), s2.ID())

	disk, ok := s2.Lookup("/pci@0,0/pci1af4,2@4")
	require.True(t, ok)
	p, ok := disk.Property("vendor-id")
	require.True(t, ok)
	assert.Equal(t, []int32{6900}, p.Decode().Ints)
}

func TestCacheKeyedByRootAndFlags(t *testing.T) {
	c, src := newTestCache(t)

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	acquireCached(t, c, "/pci@0,0", CopyAll|FlagUseCache)
	assert.Equal(t, 2, src.calls, "different root misses")

	acquireCached(t, c, "/pci@0,0", FlagSubtree|FlagUseCache)
	assert.Equal(t, 3, src.calls, "different flags miss")

	s := acquireCached(t, c, "/pci@0,0", FlagSubtree|FlagUseCache)
	assert.Equal(t, 3, src.calls)
	root, err := s.Root()
	require.NoError(t, err)
	assert.Equal(t, "pci", root.Name())
}

func TestCacheWithoutFlagIsPassThrough(t *testing.T) {
	c, src := newTestCache(t)

	acquireCached(t, c, "/", CopyAll)
	acquireCached(t, c, "/", CopyAll)
	assert.Equal(t, 2, src.calls)
	_, err := os.Stat(c.Path)
	assert.True(t, os.IsNotExist(err), "no cache file without FlagUseCache")
}

func TestCacheCleanup(t *testing.T) {
	c, src := newTestCache(t)

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	acquireCached(t, c, "/", CopyAll|FlagCleanupCache)
	_, err := os.Stat(c.Path)
	assert.True(t, os.IsNotExist(err))

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 3, src.calls, "cleanup forces a fresh snapshot")

	// Cleanup of a missing file is not an error.
	require.NoError(t, os.Remove(c.Path))
	acquireCached(t, c, "/", CopyAll|FlagCleanupCache)
}

func TestCacheMaxAge(t *testing.T) {
	c, src := newTestCache(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.MaxAge = time.Minute

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	now = now.Add(30 * time.Second)
	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls)

	now = now.Add(time.Minute)
	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 2, src.calls, "expired entry is refreshed")
}

func TestCacheCorruptFileFallsBack(t *testing.T) {
	c, src := newTestCache(t)
	require.NoError(t, os.WriteFile(c.Path, []byte("definitely not cbor"), 0o600))

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls)

	e, err := c.read()
	require.NoError(t, err, "fallback rewrote a valid entry")
	assert.Equal(t, cacheVersion, e.Version)
	assert.Equal(t, "/", e.Root)
	assert.Equal(t, CopyAll, e.Flags)
}

func TestCacheCorruptImageFallsBack(t *testing.T) {
	c, src := newTestCache(t)
	require.NoError(t, c.write("/", CopyAll, []byte("garbage image bytes")))

	acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls, "corrupt image is a miss")

	s := acquireCached(t, c, "/", CopyAll|FlagUseCache)
	assert.Equal(t, 1, src.calls, "refreshed entry is a hit")
	assert.Equal(t, 5, s.NodeCount())
}

func TestCacheFlagsArePrivileged(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := Acquire(c, "/", CopyAll|FlagUseCache)
	assert.ErrorIs(t, err, ErrPrivilegedFlags)
}
