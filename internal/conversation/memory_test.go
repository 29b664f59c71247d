package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-rag-server/internal/errors"
	"course-rag-server/internal/generation"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/prompts"
	"course-rag-server/pkg/types"
)

func newTestMemory(t *testing.T, cfg MemoryConfig) (*Memory, *memstore.MockConversationStore, *generation.MockService) {
	t.Helper()
	registry, err := prompts.NewRegistry()
	require.NoError(t, err)
	store := memstore.NewMockConversationStore()
	gen := &generation.MockService{Response: "总结内容"}
	return NewMemory(store, gen, registry, cfg), store, gen
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	// Pure CJK counts one per rune.
	assert.Equal(t, 4, EstimateTokens("数据库课"))
	// Pure ASCII counts one per four runes, rounded up.
	assert.Equal(t, 2, EstimateTokens("database"))
	// Mixed text sums both parts.
	assert.Equal(t, 2+2, EstimateTokens("索引index"))
}

func TestAppendExchangeStoresTurnPair(t *testing.T) {
	ctx := context.Background()
	mem, store, _ := newTestMemory(t, MemoryConfig{TokenLimit: 4000, MaxMessages: 20, TailKeep: 4})

	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "什么是索引？", "索引是一种数据结构。"))

	record, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, record.Messages, 2)
	assert.Equal(t, types.RoleUser, record.Messages[0].Role)
	assert.Equal(t, types.RoleAssistant, record.Messages[1].Role)
	assert.Greater(t, record.TokenCount, 0)
}

func TestCompactionOnMessageCap(t *testing.T) {
	ctx := context.Background()
	mem, store, gen := newTestMemory(t, MemoryConfig{TokenLimit: 100000, MaxMessages: 6, TailKeep: 2})

	for i := 0; i < 4; i++ {
		require.NoError(t, mem.AppendExchange(ctx, "conv-1", "问题", "回答"))
	}

	record, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.LessOrEqual(t, len(record.Messages), 6)
	assert.Equal(t, "总结内容", record.Summary)
	assert.NotEmpty(t, gen.Calls)
}

func TestCompactionOnTokenLimit(t *testing.T) {
	ctx := context.Background()
	mem, store, _ := newTestMemory(t, MemoryConfig{TokenLimit: 50, MaxMessages: 100, TailKeep: 2})

	long := strings.Repeat("知识点", 30)
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", long, long))
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "短问题", "短回答"))

	record, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	// Only the tail survives verbatim.
	assert.LessOrEqual(t, len(record.Messages), 2)
	assert.NotEmpty(t, record.Summary)
}

func TestCompactionKeepsTailVerbatim(t *testing.T) {
	ctx := context.Background()
	mem, store, _ := newTestMemory(t, MemoryConfig{TokenLimit: 100000, MaxMessages: 4, TailKeep: 2})

	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "第一问", "第一答"))
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "第二问", "第二答"))
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "第三问", "第三答"))

	record, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, record.Messages, 2)
	assert.Equal(t, "第三问", record.Messages[0].Content)
	assert.Equal(t, "第三答", record.Messages[1].Content)
}

func TestCompactionSummaryFailureStillShrinks(t *testing.T) {
	ctx := context.Background()
	mem, store, gen := newTestMemory(t, MemoryConfig{TokenLimit: 100000, MaxMessages: 4, TailKeep: 2})
	gen.FailWith = errors.NewGenFailedError("provider down", nil)

	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "一", "二"))
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "三", "四"))
	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "五", "六"))

	record, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.LessOrEqual(t, len(record.Messages), 2)
	assert.Empty(t, record.Summary)
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem, store, _ := newTestMemory(t, MemoryConfig{TokenLimit: 4000, MaxMessages: 20, TailKeep: 4})

	require.NoError(t, mem.AppendExchange(ctx, "conv-1", "问", "答"))
	require.NoError(t, mem.Clear(ctx, "conv-1"))
	assert.False(t, store.Has("conv-1"))

	// Clearing again succeeds.
	require.NoError(t, mem.Clear(ctx, "conv-1"))
}

func TestRenderTranscript(t *testing.T) {
	out := RenderTranscript([]types.ChatMessage{
		{Role: types.RoleUser, Content: "问题"},
		{Role: types.RoleAssistant, Content: "回答"},
	})
	assert.Equal(t, "user: 问题\nassistant: 回答", out)
}
