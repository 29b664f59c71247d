package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerValidation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)

	_, err = NewChunker(100, 100)
	assert.Error(t, err)

	_, err = NewChunker(100, -1)
	assert.Error(t, err)

	c, err := NewChunker(100, 20)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSplitEmptyInput(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	chunks := c.Split("第一句话。第二句话。")
	require.Len(t, chunks, 1)
	assert.Equal(t, "第一句话。第二句话。", chunks[0])
}

func TestSplitRespectsChunkSize(t *testing.T) {
	c, err := NewChunker(50, 10)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("这是一个测试句子。")
	}
	chunks := c.Split(b.String())

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), 50)
	}
}

func TestSplitPreservesOrderAndContent(t *testing.T) {
	c, err := NewChunker(30, 0)
	require.NoError(t, err)

	text := "alpha one. beta two. gamma three. delta four."
	chunks := c.Split(text)

	require.NotEmpty(t, chunks)
	// With zero overlap the concatenation covers the input in order.
	joined := strings.Join(chunks, " ")
	assert.Contains(t, joined, "alpha one.")
	assert.Contains(t, joined, "delta four.")
	assert.Less(t, strings.Index(joined, "alpha"), strings.Index(joined, "delta"))
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	c, err := NewChunker(20, 8)
	require.NoError(t, err)

	text := "aaaaaaaaaa. bbbbbbbbbb. cccccccccc."
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	// Each later chunk starts with text already seen at the end of the
	// previous one.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		head := []rune(chunks[i])
		if len(head) > 8 {
			head = head[:8]
		}
		assert.Contains(t, string(prev), strings.TrimSpace(string(head)))
	}
}

func TestSplitOversizedSentence(t *testing.T) {
	c, err := NewChunker(10, 2)
	require.NoError(t, err)

	chunks := c.Split(strings.Repeat("x", 35))
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch)), 10)
	}
	assert.Contains(t, strings.Join(chunks, ""), "xxxxxxxxxx")
}

func TestSplitRuneSafety(t *testing.T) {
	c, err := NewChunker(5, 1)
	require.NoError(t, err)

	chunks := c.Split("数据库索引结构与查询优化策略详解")
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.True(t, strings.ContainsAny(ch, "数据库索引结构与查询优化策略详解"))
		for _, r := range ch {
			assert.NotEqual(t, rune(0xFFFD), r)
		}
	}
}

func TestMarkdownToText(t *testing.T) {
	src := []byte("# 标题\n\n这是**加粗**内容，含[链接](https://example.com)。\n\n- 列表项一\n- 列表项二\n\n```go\nfmt.Println(\"hi\")\n```\n")
	out := MarkdownToText(src)

	assert.Contains(t, out, "标题")
	assert.Contains(t, out, "这是加粗内容，含链接。")
	assert.Contains(t, out, "列表项一")
	assert.Contains(t, out, "fmt.Println(\"hi\")")
	assert.NotContains(t, out, "**")
	assert.NotContains(t, out, "https://example.com")
	assert.NotContains(t, out, "#")
}
