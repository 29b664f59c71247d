package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// MockService is a deterministic in-memory Service for testing. Embeddings
// are derived from the text hash so equal texts embed equally.
type MockService struct {
	mu        sync.Mutex
	dimension int
	FailWith  error
	Calls     []string
}

// NewMockService creates a mock embedder with the given dimension.
func NewMockService(dimension int) *MockService {
	return &MockService{dimension: dimension}
}

func (m *MockService) embed(text string) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, m.dimension)
	for i := range vec {
		word := binary.BigEndian.Uint32(hash[(i*4)%28 : (i*4)%28+4])
		vec[i] = float32(word%1000)/1000.0 - 0.5
	}
	return vec
}

func (m *MockService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.Calls = append(m.Calls, text)
	return m.embed(text), nil
}

func (m *MockService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		m.Calls = append(m.Calls, t)
		out[i] = m.embed(t)
	}
	return out, nil
}

func (m *MockService) Dimension() int { return m.dimension }

func (m *MockService) Model() string { return "mock-embedding" }

func (m *MockService) HealthCheck(ctx context.Context) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return nil
}
