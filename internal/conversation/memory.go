// Package conversation implements chat memory and the chat orchestrator.
package conversation

import (
	"context"
	"strings"

	"course-rag-server/internal/generation"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/prompts"
	"course-rag-server/pkg/types"
)

// MemoryConfig bounds the per-conversation message window.
type MemoryConfig struct {
	// TokenLimit triggers compaction when the window estimate exceeds it.
	TokenLimit int
	// MaxMessages is the hard cap on stored messages regardless of tokens.
	MaxMessages int
	// TailKeep is how many recent messages survive a compaction verbatim.
	TailKeep int
}

// Memory manages the token-bounded conversation window. Older turns are
// folded into a running summary instead of being dropped outright.
type Memory struct {
	store     memstore.ConversationStore
	generator generation.Service
	prompts   *prompts.Registry
	cfg       MemoryConfig
	logger    logging.Logger
}

// NewMemory creates the memory manager.
func NewMemory(store memstore.ConversationStore, generator generation.Service, registry *prompts.Registry, cfg MemoryConfig) *Memory {
	return &Memory{
		store:     store,
		generator: generator,
		prompts:   registry,
		cfg:       cfg,
		logger:    logging.WithComponent("memory"),
	}
}

// History returns the conversation record, empty when the conversation is
// new or has expired.
func (m *Memory) History(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	record, err := m.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &types.ConversationRecord{}
	}
	return record, nil
}

// AppendExchange appends a user/assistant turn pair, compacts when the
// window outgrows its bounds, and persists the result.
func (m *Memory) AppendExchange(ctx context.Context, conversationID, question, answer string) error {
	record, err := m.History(ctx, conversationID)
	if err != nil {
		return err
	}

	record.Messages = append(record.Messages,
		types.ChatMessage{Role: types.RoleUser, Content: question},
		types.ChatMessage{Role: types.RoleAssistant, Content: answer},
	)
	record.TokenCount = recordTokens(record.Summary, record.Messages)

	m.compactIfNeeded(ctx, conversationID, record)

	return m.store.Save(ctx, conversationID, record)
}

// compactIfNeeded folds everything but the recent tail into the summary
// once the window exceeds the token limit or the message cap.
func (m *Memory) compactIfNeeded(ctx context.Context, conversationID string, record *types.ConversationRecord) {
	if record.TokenCount <= m.cfg.TokenLimit && len(record.Messages) <= m.cfg.MaxMessages {
		return
	}
	if len(record.Messages) <= m.cfg.TailKeep {
		return
	}

	cut := len(record.Messages) - m.cfg.TailKeep
	head := record.Messages[:cut]
	tail := record.Messages[cut:]

	summary, err := m.summarize(ctx, record.Summary, head)
	if err != nil {
		// Summarization is best effort. Keep the previous summary and
		// drop the head so the window still shrinks.
		m.logger.WarnContext(ctx, "summary generation failed, truncating window",
			"conversation_id", conversationID, "error", err.Error())
		summary = record.Summary
	}

	record.Summary = summary
	record.Messages = append([]types.ChatMessage(nil), tail...)
	record.TokenCount = recordTokens(record.Summary, record.Messages)

	m.logger.InfoContext(ctx, "compacted conversation window",
		"conversation_id", conversationID,
		"dropped_messages", len(head),
		"kept_messages", len(tail),
		"token_count", record.TokenCount)
}

// summarize asks the generator to condense the prior summary plus the
// dropped messages into one fresh summary.
func (m *Memory) summarize(ctx context.Context, priorSummary string, dropped []types.ChatMessage) (string, error) {
	systemPrompt, err := m.prompts.Get(prompts.ChatSummary)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("此前的对话总结：")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	b.WriteString(RenderTranscript(dropped))

	return m.generator.Complete(ctx, systemPrompt, []types.ChatMessage{
		{Role: types.RoleUser, Content: b.String()},
	})
}

// Clear removes the conversation. Clearing a missing conversation succeeds.
func (m *Memory) Clear(ctx context.Context, conversationID string) error {
	return m.store.Delete(ctx, conversationID)
}

// RenderTranscript formats messages as a plain role-prefixed transcript for
// prompt embedding.
func RenderTranscript(messages []types.ChatMessage) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
