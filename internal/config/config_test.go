package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidWithKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenAI.APIKey = "test-key"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "course_materials", cfg.Qdrant.Collection)
	assert.Equal(t, uint64(1536), cfg.Qdrant.VectorSize)
	assert.Equal(t, time.Hour, cfg.RedisTTL())
	assert.Equal(t, 10*time.Second, cfg.EmbedTimeout())
	assert.Equal(t, 60*time.Second, cfg.GenTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAG_SERVER_PORT", "9001")
	t.Setenv("RAG_QDRANT_HOST", "qdrant.internal")
	t.Setenv("RAG_REDIS_TTL", "120")
	t.Setenv("RAG_LLM_TEMPERATURE", "0.7")
	t.Setenv("RAG_CONVERSATION_SIMILARITY_TOP_K", "3")
	t.Setenv("RAG_QDRANT_PREFER_GRPC", "false")

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 120, cfg.Redis.TTLSeconds)
	assert.InDelta(t, 0.7, cfg.OpenAI.Temperature, 1e-9)
	assert.Equal(t, 3, cfg.Conversation.SimilarityTopK)
	assert.False(t, cfg.Qdrant.PreferGRPC)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty collection", func(c *Config) { c.Qdrant.Collection = "" }},
		{"overlap too large", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }},
		{"tail keep above cap", func(c *Config) { c.Conversation.TailKeep = c.Conversation.MaxMessages }},
		{"temperature out of range", func(c *Config) { c.OpenAI.Temperature = 2.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.OpenAI.APIKey = "test-key"
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
