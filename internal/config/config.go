// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Qdrant       QdrantConfig       `json:"qdrant"`
	Redis        RedisConfig        `json:"redis"`
	OpenAI       OpenAIConfig       `json:"openai"`
	Chunking     ChunkingConfig     `json:"chunking"`
	Conversation ConversationConfig `json:"conversation"`
	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// QdrantConfig represents the vector database configuration
type QdrantConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	APIKey         string `json:"-"` // Never serialize API key
	UseTLS         bool   `json:"use_tls"`
	Collection     string `json:"collection"`
	PreferGRPC     bool   `json:"prefer_grpc"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	VectorSize     uint64 `json:"vector_size"`
}

// RedisConfig represents the conversation store configuration
type RedisConfig struct {
	URL            string `json:"url"`
	TTLSeconds     int    `json:"ttl_seconds"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIConfig represents the OpenAI-compatible API configuration
type OpenAIConfig struct {
	APIKey         string  `json:"-"` // Never serialize API key
	BaseURL        string  `json:"base_url"`
	LLMModel       string  `json:"llm_model"`
	Temperature    float64 `json:"temperature"`
	EmbeddingModel string  `json:"embedding_model"`
	EmbedTimeout   int     `json:"embed_timeout_seconds"`
	GenTimeout     int     `json:"gen_timeout_seconds"`
	RateLimitRPM   int     `json:"rate_limit_rpm"`
}

// ChunkingConfig represents chunking configuration
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// ConversationConfig represents chat memory and retrieval configuration
type ConversationConfig struct {
	TokenLimit      int     `json:"token_limit"`
	MaxMessages     int     `json:"max_messages"`
	TailKeep        int     `json:"tail_keep"`
	SimilarityTopK  int     `json:"similarity_top_k"`
	ScoreThreshold  float64 `json:"score_threshold"`
	SummaryMaxChars int     `json:"summary_max_chars"`
}

// StorageConfig represents upload and output directory configuration
type StorageConfig struct {
	UploadDir   string   `json:"upload_dir"`
	OutlineDir  string   `json:"outline_dir"`
	MaxFileSize int64    `json:"max_file_size"`
	AllowedExts []string `json:"allowed_extensions"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 90,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			UseTLS:         false,
			Collection:     "course_materials",
			PreferGRPC:     true,
			TimeoutSeconds: 10,
			VectorSize:     1536,
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379",
			TTLSeconds:     3600,
			TimeoutSeconds: 5,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			LLMModel:       "gpt-4o-mini",
			Temperature:    0.1,
			EmbeddingModel: "text-embedding-3-small",
			EmbedTimeout:   10,
			GenTimeout:     60,
			RateLimitRPM:   60,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
		},
		Conversation: ConversationConfig{
			TokenLimit:      4000,
			MaxMessages:     20,
			TailKeep:        4,
			SimilarityTopK:  6,
			ScoreThreshold:  0,
			SummaryMaxChars: 300,
		},
		Storage: StorageConfig{
			UploadDir:   "./data/uploads",
			OutlineDir:  "./data/outputs/outlines",
			MaxFileSize: 10 * 1024 * 1024,
			AllowedExts: []string{".md", ".txt"},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from .env (when present) and the
// environment, then validates it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()
	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	loadServerConfig(config)
	loadQdrantConfig(config)
	loadRedisConfig(config)
	loadOpenAIConfig(config)
	loadChunkingConfig(config)
	loadConversationConfig(config)
	loadStorageConfig(config)
	loadLoggingConfig(config)
}

func loadServerConfig(config *Config) {
	setString(&config.Server.Host, "RAG_SERVER_HOST")
	setInt(&config.Server.Port, "RAG_SERVER_PORT")
	setInt(&config.Server.ReadTimeout, "RAG_SERVER_READ_TIMEOUT_SECONDS")
	setInt(&config.Server.WriteTimeout, "RAG_SERVER_WRITE_TIMEOUT_SECONDS")
}

func loadQdrantConfig(config *Config) {
	setString(&config.Qdrant.Host, "RAG_QDRANT_HOST")
	setInt(&config.Qdrant.Port, "RAG_QDRANT_PORT")
	setString(&config.Qdrant.APIKey, "RAG_QDRANT_API_KEY")
	setBool(&config.Qdrant.UseTLS, "RAG_QDRANT_USE_TLS")
	setString(&config.Qdrant.Collection, "RAG_QDRANT_COLLECTION_NAME")
	setBool(&config.Qdrant.PreferGRPC, "RAG_QDRANT_PREFER_GRPC")
	setInt(&config.Qdrant.TimeoutSeconds, "RAG_QDRANT_TIMEOUT")
}

func loadRedisConfig(config *Config) {
	setString(&config.Redis.URL, "RAG_REDIS_URL")
	setInt(&config.Redis.TTLSeconds, "RAG_REDIS_TTL")
	setInt(&config.Redis.TimeoutSeconds, "RAG_REDIS_TIMEOUT")
}

func loadOpenAIConfig(config *Config) {
	setString(&config.OpenAI.APIKey, "API_KEY")
	setString(&config.OpenAI.BaseURL, "BASE_URL")
	setString(&config.OpenAI.LLMModel, "RAG_LLM_MODEL")
	setFloat(&config.OpenAI.Temperature, "RAG_LLM_TEMPERATURE")
	setString(&config.OpenAI.EmbeddingModel, "RAG_EMBED_MODEL")
	setInt(&config.OpenAI.EmbedTimeout, "RAG_EMBED_TIMEOUT")
	setInt(&config.OpenAI.GenTimeout, "RAG_GEN_TIMEOUT")
	setInt(&config.OpenAI.RateLimitRPM, "RAG_EMBED_RATE_LIMIT_RPM")
}

func loadChunkingConfig(config *Config) {
	setInt(&config.Chunking.ChunkSize, "RAG_CHUNK_SIZE")
	setInt(&config.Chunking.ChunkOverlap, "RAG_CHUNK_OVERLAP")
}

func loadConversationConfig(config *Config) {
	setInt(&config.Conversation.TokenLimit, "RAG_CONVERSATION_TOKEN_LIMIT")
	setInt(&config.Conversation.MaxMessages, "RAG_CONVERSATION_MAX_MESSAGES")
	setInt(&config.Conversation.TailKeep, "RAG_CONVERSATION_TAIL_KEEP")
	setInt(&config.Conversation.SimilarityTopK, "RAG_CONVERSATION_SIMILARITY_TOP_K")
	setFloat(&config.Conversation.ScoreThreshold, "RAG_CONVERSATION_SCORE_THRESHOLD")
}

func loadStorageConfig(config *Config) {
	setString(&config.Storage.UploadDir, "RAG_UPLOAD_DIR")
	setString(&config.Storage.OutlineDir, "RAG_OUTLINE_DIR")
	if v := os.Getenv("RAG_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Storage.MaxFileSize = n
		}
	}
}

func loadLoggingConfig(config *Config) {
	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks the loaded configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant host cannot be empty")
	}
	if c.Qdrant.Port <= 0 {
		return fmt.Errorf("qdrant port must be greater than 0")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant collection cannot be empty")
	}
	if c.Qdrant.VectorSize == 0 {
		return fmt.Errorf("qdrant vector size must be positive")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty")
	}
	if c.Redis.TTLSeconds <= 0 {
		return fmt.Errorf("redis ttl must be positive")
	}

	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.OpenAI.LLMModel == "" {
		return fmt.Errorf("llm model cannot be empty")
	}
	if c.OpenAI.EmbeddingModel == "" {
		return fmt.Errorf("embedding model cannot be empty")
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk overlap must be smaller than chunk size")
	}

	if c.Conversation.TokenLimit <= 0 {
		return fmt.Errorf("conversation token limit must be positive")
	}
	if c.Conversation.TailKeep <= 0 || c.Conversation.TailKeep >= c.Conversation.MaxMessages {
		return fmt.Errorf("tail keep must be positive and below the message cap")
	}
	if c.Conversation.SimilarityTopK <= 0 {
		return fmt.Errorf("similarity top k must be positive")
	}

	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}

	return nil
}

// RedisTTL returns the conversation TTL as a duration.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

// EmbedTimeout returns the embedding call deadline.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.OpenAI.EmbedTimeout) * time.Second
}

// GenTimeout returns the generation call deadline.
func (c *Config) GenTimeout() time.Duration {
	return time.Duration(c.OpenAI.GenTimeout) * time.Second
}

// QdrantTimeout returns the vector store call deadline.
func (c *Config) QdrantTimeout() time.Duration {
	return time.Duration(c.Qdrant.TimeoutSeconds) * time.Second
}

// RedisTimeout returns the memory store call deadline.
func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.Redis.TimeoutSeconds) * time.Second
}
