package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bedtime-stories/server/internal/interfaces"
)

type storedPoint struct {
	id       string
	vector   []float32
	metadata map[string]any
}

// MemoryIndex is an in-process VectorIndex used when no Qdrant server is
// configured. Points without a query vector are returned in insertion order.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]*storedPoint
	order  []string
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]*storedPoint)}
}

// Upsert stores or replaces the point with id.
func (m *MemoryIndex) Upsert(_ context.Context, id string, vector []float32, metadata map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: point id is empty", interfaces.ErrStoreUnavailable)
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.points[id]; !exists {
		m.order = append(m.order, id)
	}
	m.points[id] = &storedPoint{
		id:       id,
		vector:   append([]float32(nil), vector...),
		metadata: meta,
	}
	return nil
}

// Query returns up to TopK points matching the filter, ranked by cosine
// similarity when a vector is given.
func (m *MemoryIndex) Query(_ context.Context, query interfaces.VectorQuery) ([]interfaces.VectorMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]interfaces.VectorMatch, 0)
	for _, id := range m.order {
		point := m.points[id]
		if !matchesFilter(point.metadata, query.Filter) {
			continue
		}

		score := 0.0
		if len(query.Vector) > 0 {
			var err error
			score, err = CosineSimilarity(query.Vector, point.vector)
			if err != nil {
				continue
			}
		}
		matches = append(matches, interfaces.VectorMatch{
			ID:       point.id,
			Score:    score,
			Metadata: copyMetadata(point.metadata),
		})
	}

	if len(query.Vector) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Score > matches[j].Score
		})
	}
	if query.TopK > 0 && len(matches) > query.TopK {
		matches = matches[:query.TopK]
	}
	return matches, nil
}

// Len returns the number of stored points.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matchesFilter(metadata map[string]any, filter interfaces.VectorFilter) bool {
	for key, want := range filter.Must {
		got, ok := metadata[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func copyMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

var _ interfaces.VectorIndex = (*MemoryIndex)(nil)
