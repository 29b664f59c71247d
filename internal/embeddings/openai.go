// Package embeddings provides the OpenAI-compatible embedding client with
// caching and client-side rate limiting.
package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/logging"
)

// Service defines the interface for generating embeddings
type Service interface {
	// EmbedQuery generates an embedding for a single text
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension of embeddings produced by this service
	Dimension() int

	// Model name in use
	Model() string

	// HealthCheck verifies the provider is reachable
	HealthCheck(ctx context.Context) error
}

// OpenAIService implements Service using an OpenAI-compatible API
type OpenAIService struct {
	client      *openai.Client
	config      *config.OpenAIConfig
	cache       map[string][]float32
	cacheMu     sync.RWMutex
	rateLimiter *RateLimiter
	logger      logging.Logger
}

// RateLimiter implements a token-bucket limiter for API calls
type RateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if tokensToAdd := int(elapsed / rl.refillRate); tokensToAdd > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+tokensToAdd)
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a request can proceed or the context ends
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

const maxCacheEntries = 1000

// NewOpenAIService creates the embedding client. A non-default BaseURL
// routes requests to any OpenAI-compatible endpoint.
func NewOpenAIService(cfg *config.OpenAIConfig) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}

	return &OpenAIService{
		client:      openai.NewClientWithConfig(clientCfg),
		config:      cfg,
		cache:       make(map[string][]float32),
		rateLimiter: NewRateLimiter(rpm, time.Minute/time.Duration(rpm)),
		logger:      logging.WithComponent("embeddings"),
	}
}

// EmbedQuery generates an embedding for a single text
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.NewBadRequestError("embedding text cannot be empty")
	}

	cacheKey := s.cacheKey(text)
	if cached := s.fromCache(cacheKey); cached != nil {
		return cached, nil
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.NewEmbedFailedError("rate limiter wait interrupted", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.EmbedTimeout)*time.Second)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(timeoutCtx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.config.EmbeddingModel),
	})
	if err != nil {
		return nil, errors.NewEmbedFailedError("embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.NewEmbedFailedError("provider returned no embeddings", nil)
	}

	embedding := resp.Data[0].Embedding
	s.toCache(cacheKey, embedding)
	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts, reusing cached
// entries and sending only the misses to the provider.
func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.NewBadRequestError("embedding batch cannot be empty")
	}

	results := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if text == "" {
			return nil, errors.NewBadRequestError(fmt.Sprintf("embedding text at index %d is empty", i))
		}
		if cached := s.fromCache(s.cacheKey(text)); cached != nil {
			results[i] = cached
		} else {
			misses = append(misses, text)
			missIdx = append(missIdx, i)
		}
	}

	if len(misses) == 0 {
		return results, nil
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.NewEmbedFailedError("rate limiter wait interrupted", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.EmbedTimeout)*time.Second)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(timeoutCtx, openai.EmbeddingRequest{
		Input: misses,
		Model: openai.EmbeddingModel(s.config.EmbeddingModel),
	})
	if err != nil {
		return nil, errors.NewEmbedFailedError("batch embedding request failed", err)
	}
	if len(resp.Data) != len(misses) {
		return nil, errors.NewEmbedFailedError(
			fmt.Sprintf("provider returned %d embeddings for %d inputs", len(resp.Data), len(misses)), nil)
	}

	for i, data := range resp.Data {
		results[missIdx[i]] = data.Embedding
		s.toCache(s.cacheKey(misses[i]), data.Embedding)
	}
	return results, nil
}

// Dimension returns the embedding width for the configured model.
func (s *OpenAIService) Dimension() int {
	switch s.config.EmbeddingModel {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// Model returns the model name
func (s *OpenAIService) Model() string {
	return s.config.EmbeddingModel
}

// HealthCheck verifies the service is working
func (s *OpenAIService) HealthCheck(ctx context.Context) error {
	_, err := s.EmbedQuery(ctx, "health check")
	return err
}

func (s *OpenAIService) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(s.config.EmbeddingModel + "|" + text))
	return fmt.Sprintf("%x", hash)
}

func (s *OpenAIService) fromCache(key string) []float32 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if embedding, exists := s.cache[key]; exists {
		result := make([]float32, len(embedding))
		copy(result, embedding)
		return result
	}
	return nil
}

func (s *OpenAIService) toCache(key string, embedding []float32) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	cached := make([]float32, len(embedding))
	copy(cached, embedding)
	s.cache[key] = cached

	if len(s.cache) > maxCacheEntries {
		removed := 0
		for k := range s.cache {
			delete(s.cache, k)
			removed++
			if removed >= maxCacheEntries/10 {
				break
			}
		}
		s.logger.Debug("embedding cache cleanup", "removed", removed)
	}
}
