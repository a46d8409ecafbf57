package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"bedtime-stories/server/internal/config"
	"bedtime-stories/server/internal/interfaces"
)

const (
	defaultCollectionName = "bedtime_stories"
	defaultVectorSize     = 1536
)

// QdrantIndex stores story vectors in a Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
	log        *zap.Logger
}

// NewQdrantIndex connects to Qdrant and makes sure the collection exists.
func NewQdrantIndex(ctx context.Context, cfg config.QdrantConfig, log *zap.Logger) (*QdrantIndex, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect qdrant: %v", interfaces.ErrStoreUnavailable, err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		vectorSize: uint64(cfg.VectorSize),
		log:        log,
	}
	if idx.collection == "" {
		idx.collection = defaultCollectionName
	}
	if idx.vectorSize == 0 {
		idx.vectorSize = defaultVectorSize
	}

	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", interfaces.ErrStoreUnavailable, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", interfaces.ErrStoreUnavailable, err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "user_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		q.log.Warn("Failed to index user_id payload field", zap.Error(err))
	}

	q.log.Info("Qdrant collection created",
		zap.String("collection", q.collection),
		zap.Uint64("vector_size", q.vectorSize))
	return nil
}

// Upsert stores the point. id must be a UUID.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	payload, err := qdrant.TryValueMap(metadata)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", interfaces.ErrStoreUnavailable, err)
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Query scrolls the filtered points when no vector is given and runs a
// similarity search otherwise.
func (q *QdrantIndex) Query(ctx context.Context, query interfaces.VectorQuery) ([]interfaces.VectorMatch, error) {
	filter := toQdrantFilter(query.Filter)
	limit := query.TopK
	if limit <= 0 {
		limit = 10
	}

	if len(query.Vector) == 0 {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll: %v", interfaces.ErrStoreUnavailable, err)
		}
		matches := make([]interfaces.VectorMatch, 0, len(points))
		for _, p := range points {
			matches = append(matches, interfaces.VectorMatch{
				ID:       pointID(p.GetId()),
				Metadata: fromPayload(p.GetPayload()),
			})
		}
		return matches, nil
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query.Vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", interfaces.ErrStoreUnavailable, err)
	}
	matches := make([]interfaces.VectorMatch, 0, len(points))
	for _, p := range points {
		matches = append(matches, interfaces.VectorMatch{
			ID:       pointID(p.GetId()),
			Score:    float64(p.GetScore()),
			Metadata: fromPayload(p.GetPayload()),
		})
	}
	return matches, nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func toQdrantFilter(filter interfaces.VectorFilter) *qdrant.Filter {
	if len(filter.Must) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter.Must))
	for key, value := range filter.Must {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}
	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprint(id.GetNum())
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, 0, len(values))
		for _, item := range values {
			list = append(list, fromValue(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return fromPayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}

var _ interfaces.VectorIndex = (*QdrantIndex)(nil)
