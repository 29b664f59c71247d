package memstore

import (
	"context"
	"sync"
	"time"

	"course-rag-server/pkg/types"
)

// MockConversationStore is an in-memory ConversationStore for testing.
type MockConversationStore struct {
	mu      sync.Mutex
	records map[string]types.ConversationRecord

	// FailWith makes every operation fail when set.
	FailWith error
}

// NewMockConversationStore creates an empty mock store.
func NewMockConversationStore() *MockConversationStore {
	return &MockConversationStore{records: make(map[string]types.ConversationRecord)}
}

func (m *MockConversationStore) Load(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	record, ok := m.records[conversationID]
	if !ok {
		return nil, nil
	}
	copied := record
	copied.Messages = append([]types.ChatMessage(nil), record.Messages...)
	return &copied, nil
}

func (m *MockConversationStore) Save(ctx context.Context, conversationID string, record *types.ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	record.UpdatedAt = time.Now().UTC()
	copied := *record
	copied.Messages = append([]types.ChatMessage(nil), record.Messages...)
	m.records[conversationID] = copied
	return nil
}

func (m *MockConversationStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.records, conversationID)
	return nil
}

func (m *MockConversationStore) HealthCheck(ctx context.Context) error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return nil
}

func (m *MockConversationStore) Close() error { return nil }

// Has reports whether a conversation exists, for test assertions.
func (m *MockConversationStore) Has(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[conversationID]
	return ok
}
