package generators

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCache_PutGet(t *testing.T) {
	cache := NewFileCache(t.TempDir(), ".wav", 10, time.Hour, nil)
	require.NoError(t, cache.Load())

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	path, err := cache.Put("abc", []byte("RIFF"), map[string]string{"voice": "grandma.wav"})
	require.NoError(t, err)
	assert.Equal(t, "abc.wav", filepath.Base(path))

	got, ok := cache.Get("abc")
	require.True(t, ok)
	assert.Equal(t, path, got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(4), stats.TotalSize)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestFileCache_LoadExisting(t *testing.T) {
	dir := t.TempDir()
	first := NewFileCache(dir, ".png", 10, time.Hour, nil)
	require.NoError(t, first.Load())
	_, err := first.Put("owl", []byte("png"), nil)
	require.NoError(t, err)

	second := NewFileCache(dir, ".png", 10, time.Hour, nil)
	require.NoError(t, second.Load())
	path, ok := second.Get("owl")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "owl.png"), path)
}

func TestFileCache_Expiry(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir, ".wav", 10, 20*time.Millisecond, nil)
	require.NoError(t, cache.Load())
	_, err := cache.Put("old", []byte("x"), nil)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, cache.Cleanup())
	_, ok := cache.Get("old")
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, "old.wav"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileCache_EvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCache(dir, ".wav", 2, 0, nil)
	require.NoError(t, cache.Load())

	_, err := cache.Put("a", []byte("a"), nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = cache.Put("b", []byte("b"), nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, ok := cache.Get("a")
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)
	_, err = cache.Put("c", []byte("c"), nil)
	require.NoError(t, err)

	_, ok = cache.Get("b")
	assert.False(t, ok)
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
	_, err = os.Stat(filepath.Join(dir, "b.wav"))
	assert.True(t, os.IsNotExist(err))
}

func TestAssetKeys(t *testing.T) {
	assert.Equal(t, AudioKey("Hello.", "grandma.wav", 1), AudioKey("Hello.", "grandma.wav", 1))
	assert.NotEqual(t, AudioKey("Hello.", "grandma.wav", 1), AudioKey("Hello.", "grandpa.wav", 1))
	assert.NotEqual(t, AudioKey("Hello.", "grandma.wav", 1), AudioKey("Hello.", "grandma.wav", 1.2))
	assert.Len(t, AudioKey("x", "y", 1), 32)

	opts := &GenerateOptions{Prompt: "owl", Seed: 1}
	ApplyDefaults(opts)
	other := *opts
	other.Seed = 2
	assert.NotEqual(t, ImageKey(opts), ImageKey(&other))
}
