package rag

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"bedtime-stories/server/internal/interfaces"
)

const (
	defaultCacheTTL     = 24 * time.Hour
	defaultCacheEntries = 1024
)

type cachedEmbedding struct {
	vector    []float32
	createdAt time.Time
}

// CachedEmbedder normalizes the vectors of another embedder and keeps them
// for a while, keyed by text.
type CachedEmbedder struct {
	embedder   interfaces.Embedder
	ttl        time.Duration
	maxEntries int

	mu    sync.RWMutex
	cache map[string]*cachedEmbedding
}

// NewCachedEmbedder wraps embedder. Non-positive ttl or maxEntries use defaults.
func NewCachedEmbedder(embedder interfaces.Embedder, ttl time.Duration, maxEntries int) *CachedEmbedder {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &CachedEmbedder{
		embedder:   embedder,
		ttl:        ttl,
		maxEntries: maxEntries,
		cache:      make(map[string]*cachedEmbedding),
	}
}

// Embed returns the unit-length embedding of text.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.get(text); ok {
		return vec, nil
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !IsValidVector(vec) {
		return nil, fmt.Errorf("%w: embedding contains NaN or Inf", interfaces.ErrEmbeddingUnavailable)
	}

	vec = NormalizeVector(vec)
	e.put(text, vec)
	return vec, nil
}

// CacheSize returns the number of cached embeddings.
func (e *CachedEmbedder) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops every cached embedding.
func (e *CachedEmbedder) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*cachedEmbedding)
}

func (e *CachedEmbedder) get(text string) ([]float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cached, ok := e.cache[text]
	if !ok || time.Since(cached.createdAt) > e.ttl {
		return nil, false
	}
	return cached.vector, true
}

func (e *CachedEmbedder) put(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.cache) >= e.maxEntries {
		e.evictLocked()
	}
	e.cache[text] = &cachedEmbedding{vector: vec, createdAt: time.Now()}
}

// evictLocked removes expired entries, or the oldest one if none expired.
func (e *CachedEmbedder) evictLocked() {
	var oldestKey string
	var oldest time.Time
	removed := false
	for key, entry := range e.cache {
		if time.Since(entry.createdAt) > e.ttl {
			delete(e.cache, key)
			removed = true
			continue
		}
		if oldestKey == "" || entry.createdAt.Before(oldest) {
			oldestKey, oldest = key, entry.createdAt
		}
	}
	if !removed && oldestKey != "" {
		delete(e.cache, oldestKey)
	}
}

var _ interfaces.Embedder = (*CachedEmbedder)(nil)

// NormalizeVector scales vector to unit length. Zero vectors are returned as is.
func NormalizeVector(vector []float32) []float32 {
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vector
	}

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// CosineSimilarity compares two vectors of equal length.
func CosineSimilarity(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions don't match: %d vs %d", len(v1), len(v2))
	}

	var dot, norm1, norm2 float64
	for i := range v1 {
		a, b := float64(v1[i]), float64(v2[i])
		dot += a * b
		norm1 += a * a
		norm2 += b * b
	}
	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2)), nil
}

// IsValidVector reports whether vector is free of NaN and Inf values.
func IsValidVector(vector []float32) bool {
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
