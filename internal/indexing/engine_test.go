package indexing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-rag-server/internal/chunking"
	"course-rag-server/internal/embeddings"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *storage.MockVectorStore, *embeddings.MockService) {
	t.Helper()
	chunker, err := chunking.NewChunker(64, 8)
	require.NoError(t, err)
	store := storage.NewMockVectorStore()
	embedder := embeddings.NewMockService(8)
	return NewEngine(chunker, embedder, store, locks.NewKeyedMutex(), "course_materials"), store, embedder
}

func indexRequest(content string) *types.IndexRequest {
	return &types.IndexRequest{
		FileContent: content,
		Metadata: types.DocumentMetadata{
			CourseID:           "course-a",
			CourseMaterialID:   "mat-1",
			CourseMaterialName: "第一章.txt",
		},
	}
}

func TestIndexDocument(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)

	resp, err := engine.IndexDocument(ctx, indexRequest("第一句。第二句。第三句。"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.DocumentCount)
	assert.Greater(t, resp.ChunkCount, 0)
	assert.Equal(t, "course_materials", resp.CollectionName)

	count, err := store.Count(ctx, "course_materials", storage.ByTenant("course-a", "mat-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(resp.ChunkCount), count)
}

func TestIndexValidation(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.IndexDocument(ctx, &types.IndexRequest{
		FileContent: "内容",
		Metadata:    types.DocumentMetadata{CourseID: "c"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorCodeBadRequest))

	_, err = engine.IndexDocument(ctx, indexRequest("   "))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorCodeBadRequest))
}

func TestReindexReplacesPreviousVectors(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newTestEngine(t)

	first, err := engine.IndexDocument(ctx, indexRequest(strings.Repeat("旧版本内容。", 30)))
	require.NoError(t, err)
	require.Greater(t, first.ChunkCount, 1)

	second, err := engine.IndexDocument(ctx, indexRequest("新版本。"))
	require.NoError(t, err)

	count, err := store.Count(ctx, "course_materials", storage.ByTenant("course-a", "mat-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(second.ChunkCount), count)
}

func TestIndexEmbedFailureAborts(t *testing.T) {
	ctx := context.Background()
	engine, store, embedder := newTestEngine(t)
	embedder.FailWith = errors.NewEmbedFailedError("quota exceeded", nil)

	_, err := engine.IndexDocument(ctx, indexRequest("内容一。内容二。"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorCodeEmbedFailed))
	assert.Contains(t, err.Error(), "chunk 0")

	// Nothing was written.
	count, err := store.Count(ctx, "course_materials", storage.ByTenant("course-a", "mat-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndexMarkdownIsStripped(t *testing.T) {
	ctx := context.Background()
	engine, store, embedder := newTestEngine(t)

	req := indexRequest("# 标题\n\n这是**正文**内容。")
	req.Metadata.CourseMaterialName = "第一章.md"
	_, err := engine.IndexDocument(ctx, req)
	require.NoError(t, err)

	vec, err := embedder.EmbedQuery(ctx, "查询")
	require.NoError(t, err)
	hits, err := store.Search(ctx, "course_materials", storage.SearchParams{
		Vector: vec,
		Filter: storage.ByTenant("course-a", "mat-1"),
		TopK:   10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, hit := range hits {
		text, _ := hit.Payload[types.PayloadKeyText].(string)
		assert.NotContains(t, text, "**")
		assert.NotContains(t, text, "#")
	}
}

func TestIndexChunkOrderIsContiguous(t *testing.T) {
	ctx := context.Background()
	engine, store, embedder := newTestEngine(t)

	resp, err := engine.IndexDocument(ctx, indexRequest(strings.Repeat("知识点讲解。", 40)))
	require.NoError(t, err)
	require.Greater(t, resp.ChunkCount, 1)

	vec, err := embedder.EmbedQuery(ctx, "知识点")
	require.NoError(t, err)
	hits, err := store.Search(ctx, "course_materials", storage.SearchParams{
		Vector: vec,
		Filter: storage.ByTenant("course-a", "mat-1"),
		TopK:   100,
	})
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for _, hit := range hits {
		idx, ok := hit.Payload[types.PayloadKeyChunkIndex].(int64)
		require.True(t, ok)
		seen[idx] = true
	}
	for i := int64(0); i < int64(resp.ChunkCount); i++ {
		assert.True(t, seen[i], "missing chunk index %d", i)
	}
}

func TestIndexWaitsForTenantLockHolder(t *testing.T) {
	ctx := context.Background()
	chunker, err := chunking.NewChunker(64, 8)
	require.NoError(t, err)
	shared := locks.NewKeyedMutex()
	engine := NewEngine(chunker, embeddings.NewMockService(8), storage.NewMockVectorStore(), shared, "course_materials")

	// Another writer, such as cleanup, holds the tenant entry.
	release := shared.Lock(locks.TenantKey("course-a", "mat-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := engine.IndexDocument(ctx, indexRequest("第一句。第二句。"))
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("indexing proceeded while the tenant lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	<-done
}

func TestDeleteOperations(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	_, err := engine.IndexDocument(ctx, indexRequest("课程A材料一。"))
	require.NoError(t, err)

	req2 := indexRequest("课程A材料二。")
	req2.Metadata.CourseMaterialID = "mat-2"
	_, err = engine.IndexDocument(ctx, req2)
	require.NoError(t, err)

	deleted, err := engine.DeleteByMaterial(ctx, "", "course-a", "mat-1")
	require.NoError(t, err)
	assert.Greater(t, deleted, uint64(0))

	count, err := engine.CountByCourse(ctx, "", "course-a")
	require.NoError(t, err)
	assert.Greater(t, count, uint64(0))

	deleted, err = engine.DeleteByCourse(ctx, "", "course-a")
	require.NoError(t, err)
	assert.Equal(t, count, deleted)

	count, err = engine.CountByCourse(ctx, "", "course-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	// Validation.
	_, err = engine.DeleteByCourse(ctx, "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorCodeBadRequest))

	_, err = engine.DeleteByMaterial(ctx, "", "course-a", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorCodeBadRequest))
}
