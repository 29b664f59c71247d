package storage

import (
	"context"
	"math"
	"sort"
	"sync"

	"course-rag-server/internal/errors"
	"course-rag-server/pkg/types"
)

// MockVectorStore is an in-memory VectorStore for testing. Similarity is
// real cosine similarity over the stored embeddings, so ranking behaves
// like the real store.
type MockVectorStore struct {
	mu          sync.Mutex
	collections map[string]map[string]types.Chunk

	// FailWith makes every operation fail when set.
	FailWith error
}

// NewMockVectorStore creates an empty mock store.
func NewMockVectorStore() *MockVectorStore {
	return &MockVectorStore{
		collections: make(map[string]map[string]types.Chunk),
	}
}

func (m *MockVectorStore) EnsureCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]types.Chunk)
	}
	return nil
}

func (m *MockVectorStore) HasCollection(ctx context.Context, collection string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}
	_, ok := m.collections[collection]
	return ok, nil
}

func (m *MockVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.collections, collection)
	return nil
}

func (m *MockVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockVectorStore) PointsCount(ctx context.Context, collection string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	points, ok := m.collections[collection]
	if !ok {
		return 0, errors.NewNotFoundError("collection", collection)
	}
	return uint64(len(points)), nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, collection string, chunks []types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	points, ok := m.collections[collection]
	if !ok {
		return errors.NewNotFoundError("collection", collection)
	}
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return errors.NewInvariantViolationError(err.Error())
		}
		points[chunk.ID] = chunk
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, collection string, params SearchParams) ([]types.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	points, ok := m.collections[collection]
	if !ok {
		return nil, errors.NewNotFoundError("collection", collection)
	}

	hits := make([]types.SearchHit, 0)
	for _, chunk := range points {
		if !matches(chunk, params.Filter) {
			continue
		}
		score := cosineSimilarity(params.Vector, chunk.Embedding)
		if params.ScoreThreshold > 0 && score < params.ScoreThreshold {
			continue
		}
		hits = append(hits, types.SearchHit{
			ID:    chunk.ID,
			Score: score,
			Payload: map[string]interface{}{
				types.PayloadKeyText:         chunk.Text,
				types.PayloadKeyCourseID:     chunk.CourseID,
				types.PayloadKeyMaterialID:   chunk.MaterialID,
				types.PayloadKeyMaterialName: chunk.MaterialName,
				types.PayloadKeyChunkIndex:   int64(chunk.ChunkIndex),
			},
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > params.TopK {
		hits = hits[:params.TopK]
	}
	return hits, nil
}

func (m *MockVectorStore) Count(ctx context.Context, collection string, filter Filter) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	points, ok := m.collections[collection]
	if !ok {
		return 0, errors.NewNotFoundError("collection", collection)
	}
	var count uint64
	for _, chunk := range points {
		if matches(chunk, filter) {
			count++
		}
	}
	return count, nil
}

func (m *MockVectorStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	if filter.IsEmpty() {
		return 0, errors.NewInvariantViolationError("refusing to delete with an empty filter")
	}
	points, ok := m.collections[collection]
	if !ok {
		return 0, errors.NewNotFoundError("collection", collection)
	}
	var deleted uint64
	for id, chunk := range points {
		if matches(chunk, filter) {
			delete(points, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockVectorStore) HealthCheck(ctx context.Context) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return nil
}

func (m *MockVectorStore) Close() error { return nil }

func matches(chunk types.Chunk, filter Filter) bool {
	if filter.CourseID != "" && chunk.CourseID != filter.CourseID {
		return false
	}
	if filter.MaterialID != "" && chunk.MaterialID != filter.MaterialID {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
