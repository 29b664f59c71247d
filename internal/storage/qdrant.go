package storage

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/logging"
	"course-rag-server/pkg/types"
)

// QdrantStore implements VectorStore backed by Qdrant over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	config     *config.QdrantConfig
	vectorSize uint64
	logger     logging.Logger
}

// NewQdrantStore connects to Qdrant and returns the gateway. The caller
// owns the connection and should Close it on shutdown.
func NewQdrantStore(cfg *config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.NewStoreUnavailableError("vector", err)
	}

	return &QdrantStore{
		client:     client,
		config:     cfg,
		vectorSize: cfg.VectorSize,
		logger:     logging.WithComponent("qdrant"),
	}, nil
}

// EnsureCollection creates the collection with cosine distance when it does
// not exist yet. Safe to call repeatedly.
func (qs *QdrantStore) EnsureCollection(ctx context.Context, collection string) error {
	exists, err := qs.HasCollection(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     qs.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return errors.NewStoreUnavailableError("vector", err)
	}
	qs.logger.InfoContext(ctx, "created collection", "collection", collection, "vector_size", qs.vectorSize)
	return nil
}

// HasCollection reports whether the collection exists.
func (qs *QdrantStore) HasCollection(ctx context.Context, collection string) (bool, error) {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return false, errors.NewStoreUnavailableError("vector", err)
	}
	for _, name := range collections {
		if name == collection {
			return true, nil
		}
	}
	return false, nil
}

// DeleteCollection drops the collection and all its points.
func (qs *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := qs.client.DeleteCollection(ctx, collection); err != nil {
		return errors.NewStoreUnavailableError("vector", err)
	}
	qs.logger.InfoContext(ctx, "deleted collection", "collection", collection)
	return nil
}

// ListCollections returns every collection name.
func (qs *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("vector", err)
	}
	return collections, nil
}

// PointsCount returns the total number of points in the collection.
func (qs *QdrantStore) PointsCount(ctx context.Context, collection string) (uint64, error) {
	info, err := qs.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, errors.NewStoreUnavailableError("vector", err)
	}
	return info.GetPointsCount(), nil
}

// Upsert writes chunks in one batch. Every chunk must already carry its
// embedding and tenant payload.
func (qs *QdrantStore) Upsert(ctx context.Context, collection string, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		if err := chunk.Validate(); err != nil {
			return errors.NewInvariantViolationError(fmt.Sprintf("invalid chunk %d: %v", chunk.ChunkIndex, err))
		}
		if len(chunk.Embedding) != int(qs.vectorSize) {
			return errors.NewInvariantViolationError(fmt.Sprintf(
				"chunk %d embedding has %d dimensions, expected %d",
				chunk.ChunkIndex, len(chunk.Embedding), qs.vectorSize))
		}
		points = append(points, qs.chunkToPoint(chunk))
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return errors.NewStoreUnavailableError("vector", err)
	}
	return nil
}

// Search runs a filtered top-k similarity query, payload included.
func (qs *QdrantStore) Search(ctx context.Context, collection string, params SearchParams) ([]types.SearchHit, error) {
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(params.Vector...),
		Limit:          qdrant.PtrOf(params.TopK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qs.buildFilter(params.Filter),
	}
	if params.ScoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(params.ScoreThreshold)
	}

	scored, err := qs.client.Query(ctx, query)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("vector", err)
	}

	hits := make([]types.SearchHit, 0, len(scored))
	for _, point := range scored {
		hits = append(hits, types.SearchHit{
			ID:      pointIDToString(point.GetId()),
			Score:   point.GetScore(),
			Payload: payloadToMap(point.GetPayload()),
		})
	}
	return hits, nil
}

// Count returns the number of points matching the filter.
func (qs *QdrantStore) Count(ctx context.Context, collection string, filter Filter) (uint64, error) {
	count, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         qs.buildFilter(filter),
	})
	if err != nil {
		return 0, errors.NewStoreUnavailableError("vector", err)
	}
	return count, nil
}

// DeleteByFilter counts the matching points and then removes them. An empty
// match set deletes nothing and returns zero.
func (qs *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) (uint64, error) {
	if filter.IsEmpty() {
		return 0, errors.NewInvariantViolationError("refusing to delete with an empty filter")
	}

	count, err := qs.Count(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	_, err = qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: qs.buildFilter(filter),
			},
		},
	})
	if err != nil {
		return 0, errors.NewStoreUnavailableError("vector", err)
	}

	qs.logger.InfoContext(ctx, "deleted points by filter",
		"collection", collection,
		"course_id", filter.CourseID,
		"course_material_id", filter.MaterialID,
		"deleted", count)
	return count, nil
}

// HealthCheck verifies the store is reachable.
func (qs *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := qs.client.ListCollections(ctx); err != nil {
		return errors.NewStoreUnavailableError("vector", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (qs *QdrantStore) Close() error {
	return qs.client.Close()
}

// buildFilter translates the equality conjunction into a Qdrant filter.
// An empty filter returns nil so the query is unconstrained.
func (qs *QdrantStore) buildFilter(filter Filter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, 2)
	if filter.CourseID != "" {
		conditions = append(conditions, keywordCondition(types.PayloadKeyCourseID, filter.CourseID))
	}
	if filter.MaterialID != "" {
		conditions = append(conditions, keywordCondition(types.PayloadKeyMaterialID, filter.MaterialID))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func (qs *QdrantStore) chunkToPoint(chunk *types.Chunk) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		types.PayloadKeyText:         stringToValue(chunk.Text),
		types.PayloadKeyCourseID:     stringToValue(chunk.CourseID),
		types.PayloadKeyMaterialID:   stringToValue(chunk.MaterialID),
		types.PayloadKeyMaterialName: stringToValue(chunk.MaterialName),
		types.PayloadKeyChunkIndex:   int64ToValue(int64(chunk.ChunkIndex)),
		types.PayloadKeyCreatedAt:    stringToValue(chunk.CreatedAt.Format("2006-01-02T15:04:05Z07:00")),
	}

	return &qdrant.PointStruct{
		Id:      stringToPointID(chunk.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: chunk.Embedding}}},
		Payload: payload,
	}
}

// Utility conversion helpers

func stringToValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func int64ToValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		switch kind := value.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			out[key] = kind.BoolValue
		default:
			out[key] = value.String()
		}
	}
	return out
}
