// Package memstore provides the Redis-backed conversation store. Each
// conversation lives under a single key as one JSON value, so the message
// window, summary and token count always move together.
package memstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/logging"
	"course-rag-server/pkg/types"
)

const keyPrefix = "conversation:"

// ConversationStore is the gateway to conversation memory.
type ConversationStore interface {
	// Load returns the record for a conversation, or nil when absent.
	Load(ctx context.Context, conversationID string) (*types.ConversationRecord, error)

	// Save writes the whole record and refreshes the TTL.
	Save(ctx context.Context, conversationID string, record *types.ConversationRecord) error

	// Delete removes the conversation. Deleting a missing key succeeds.
	Delete(ctx context.Context, conversationID string) error

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// RedisStore implements ConversationStore on go-redis.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  logging.Logger
}

// NewRedisStore parses the URL, connects and verifies the connection.
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.NewStoreUnavailableError("memory", err)
	}
	client := redis.NewClient(opts)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewStoreUnavailableError("memory", err)
	}

	return &RedisStore{
		client:  client,
		ttl:     time.Duration(cfg.TTLSeconds) * time.Second,
		timeout: timeout,
		logger:  logging.WithComponent("memstore"),
	}, nil
}

func conversationKey(conversationID string) string {
	return keyPrefix + conversationID
}

// Load returns the record for a conversation, or nil when the key expired
// or never existed.
func (s *RedisStore) Load(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, conversationKey(conversationID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreUnavailableError("memory", err)
	}

	var record types.ConversationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt record is unreadable; treat the conversation as new.
		s.logger.WarnContext(ctx, "dropping unreadable conversation record",
			"conversation_id", conversationID, "error", err.Error())
		return nil, nil
	}
	return &record, nil
}

// Save writes the whole record and refreshes the TTL, so active
// conversations never expire mid-exchange.
func (s *RedisStore) Save(ctx context.Context, conversationID string, record *types.ConversationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewInvariantViolationError("conversation record not serializable: " + err.Error())
	}

	if err := s.client.Set(ctx, conversationKey(conversationID), data, s.ttl).Err(); err != nil {
		return errors.NewStoreUnavailableError("memory", err)
	}
	return nil
}

// Delete removes the conversation. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, conversationKey(conversationID)).Err(); err != nil {
		return errors.NewStoreUnavailableError("memory", err)
	}
	return nil
}

// HealthCheck verifies the store is reachable.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.NewStoreUnavailableError("memory", err)
	}
	return nil
}

// Close releases the connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
