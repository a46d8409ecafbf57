package generators

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const metaSuffix = ".meta"

// cacheEntry is the sidecar metadata written next to each cached file.
type cacheEntry struct {
	Key          string            `json:"key"`
	File         string            `json:"file"`
	Size         int64             `json:"size"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CacheStats summarizes cache performance.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int     `json:"entries"`
	TotalSize int64   `json:"total_size"`
}

// FileCache keeps generated assets on disk, one file per key. Entries expire
// after ttl and the least recently used entry is evicted beyond maxEntries.
type FileCache struct {
	dir        string
	ext        string
	maxEntries int
	ttl        time.Duration
	log        *zap.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewFileCache creates a cache storing files with extension ext under dir.
func NewFileCache(dir, ext string, maxEntries int, ttl time.Duration, log *zap.Logger) *FileCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileCache{
		dir:        dir,
		ext:        ext,
		maxEntries: maxEntries,
		ttl:        ttl,
		log:        log,
		entries:    make(map[string]*cacheEntry),
	}
}

// Load creates the directory and indexes the entries already on disk,
// removing expired ones.
func (c *FileCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(data, &entry); err != nil || entry.Key == "" {
			c.log.Warn("Skipping unreadable cache metadata", zap.String("file", f.Name()))
			continue
		}
		if c.expired(&entry) {
			c.removeFiles(&entry)
			continue
		}
		c.entries[entry.Key] = &entry
	}
	c.evict()
	return nil
}

// Get returns the path of the cached file for key.
func (c *FileCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Inc()
		return "", false
	}
	path := filepath.Join(c.dir, entry.File)
	if c.expired(entry) {
		delete(c.entries, key)
		c.removeFiles(entry)
		c.misses.Inc()
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		delete(c.entries, key)
		c.misses.Inc()
		return "", false
	}

	entry.LastAccessed = time.Now()
	c.hits.Inc()
	return path, true
}

// Put writes data for key and returns its path.
func (c *FileCache) Put(key string, data []byte, metadata map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry := &cacheEntry{
		Key:          key,
		File:         key + c.ext,
		Size:         int64(len(data)),
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     metadata,
	}
	path := filepath.Join(c.dir, entry.File)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cache file: %w", err)
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(c.dir, key+metaSuffix), meta, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cache metadata: %w", err)
	}

	c.entries[key] = entry
	c.evict()
	return path, nil
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *FileCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, key)
			c.removeFiles(entry)
			removed++
		}
	}
	return removed
}

// Stats returns hit/miss counters and the current size.
func (c *FileCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: len(c.entries),
	}
	for _, entry := range c.entries {
		stats.TotalSize += entry.Size
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *FileCache) expired(entry *cacheEntry) bool {
	return c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl
}

// evict drops least recently used entries until the cache fits. Callers hold mu.
func (c *FileCache) evict() {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}
	ordered := make([]*cacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LastAccessed.Before(ordered[j].LastAccessed)
	})
	for _, entry := range ordered[:len(ordered)-c.maxEntries] {
		delete(c.entries, entry.Key)
		c.removeFiles(entry)
	}
}

func (c *FileCache) removeFiles(entry *cacheEntry) {
	_ = os.Remove(filepath.Join(c.dir, entry.File))
	_ = os.Remove(filepath.Join(c.dir, entry.Key+metaSuffix))
}
