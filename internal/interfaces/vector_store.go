package interfaces

import "context"

// VectorFilter restricts a query to points whose payload matches every
// key/value pair exactly.
type VectorFilter struct {
	Must map[string]string
}

// VectorQuery selects points. A nil Vector lists matching points without
// similarity ranking.
type VectorQuery struct {
	Vector []float32
	Filter VectorFilter
	TopK   int
}

// VectorMatch is one point returned by a query.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorIndex is the vector-similarity store. Failures wrap ErrStoreUnavailable.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	Query(ctx context.Context, query VectorQuery) ([]VectorMatch, error)
}
