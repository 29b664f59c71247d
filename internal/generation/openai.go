// Package generation provides the chat completion client used for answers,
// question condensing and memory summaries.
package generation

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"

	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/pkg/types"
)

// Service defines the interface for text generation
type Service interface {
	// Complete runs one chat completion with an optional system prompt
	Complete(ctx context.Context, systemPrompt string, messages []types.ChatMessage) (string, error)

	// Model name in use
	Model() string
}

// OpenAIService implements Service using an OpenAI-compatible API
type OpenAIService struct {
	client *openai.Client
	config *config.OpenAIConfig
}

// NewOpenAIService creates the generation client.
func NewOpenAIService(cfg *config.OpenAIConfig) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
	}
}

// Complete sends the system prompt followed by the message history and
// returns the assistant text of the first choice.
func (s *OpenAIService) Complete(ctx context.Context, systemPrompt string, messages []types.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", errors.NewBadRequestError("generation requires at least one message")
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == types.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.GenTimeout)*time.Second)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(timeoutCtx, openai.ChatCompletionRequest{
		Model:       s.config.LLMModel,
		Messages:    chatMessages,
		Temperature: float32(s.config.Temperature),
	})
	if err != nil {
		return "", errors.NewGenFailedError("chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.NewGenFailedError("provider returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name
func (s *OpenAIService) Model() string {
	return s.config.LLMModel
}
