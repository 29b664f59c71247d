package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-rag-server/internal/chunking"
	"course-rag-server/internal/cleanup"
	"course-rag-server/internal/config"
	"course-rag-server/internal/conversation"
	"course-rag-server/internal/embeddings"
	"course-rag-server/internal/generation"
	"course-rag-server/internal/indexing"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/prompts"
	"course-rag-server/internal/retrieval"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

type apiFixture struct {
	router      *Router
	cfg         *config.Config
	vectorStore *storage.MockVectorStore
	memStore    *memstore.MockConversationStore
	generator   *generation.MockService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.UploadDir = t.TempDir()
	cfg.Storage.OutlineDir = t.TempDir()

	registry, err := prompts.NewRegistry()
	require.NoError(t, err)
	chunker, err := chunking.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	require.NoError(t, err)

	vectorStore := storage.NewMockVectorStore()
	memStore := memstore.NewMockConversationStore()
	embedder := embeddings.NewMockService(8)
	generator := &generation.MockService{}

	memory := conversation.NewMemory(memStore, generator, registry, conversation.MemoryConfig{
		TokenLimit:  cfg.Conversation.TokenLimit,
		MaxMessages: cfg.Conversation.MaxMessages,
		TailKeep:    cfg.Conversation.TailKeep,
	})
	retriever := retrieval.NewEngine(embedder, vectorStore, retrieval.Options{
		TopK: uint64(cfg.Conversation.SimilarityTopK),
	})
	orchestrator := conversation.NewOrchestrator(memory, retriever, generator, registry, cfg.Qdrant.Collection)
	tenantLocks := locks.NewKeyedMutex()
	indexer := indexing.NewEngine(chunker, embedder, vectorStore, tenantLocks, cfg.Qdrant.Collection)
	cleaner := cleanup.NewCoordinator(vectorStore, memStore, tenantLocks, &cfg.Storage, cfg.Qdrant.Collection)

	router := NewRouter(cfg, &Services{
		Indexer:      indexer,
		Orchestrator: orchestrator,
		Cleaner:      cleaner,
		VectorStore:  vectorStore,
		MemoryStore:  memStore,
	})

	return &apiFixture{
		router:      router,
		cfg:         cfg,
		vectorStore: vectorStore,
		memStore:    memStore,
		generator:   generator,
	}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) indexDocument(t *testing.T, filename, content, courseID, materialID string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("course_id", courseID))
	require.NoError(t, writer.WriteField("course_material_id", materialID))
	require.NoError(t, writer.WriteField("course_material_name", filename))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/rag/index", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return f.do(t, req)
}

func postJSON(t *testing.T, path string, payload interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIndexDocumentEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.indexDocument(t, "第一章.txt", "第一句。第二句。第三句。", "course-a", "mat-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Greater(t, body["chunk_count"].(float64), 0.0)
	assert.Equal(t, f.cfg.Qdrant.Collection, body["collection_name"])
}

func TestIndexRejectsBadExtension(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.indexDocument(t, "slides.pdf", "内容", "course-a", "mat-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexRequiresFile(t *testing.T) {
	f := newAPIFixture(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("course_id", "course-a"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/rag/index", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.indexDocument(t, "第一章.txt", "课程内容。", "course-a", "mat-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/rag/collections/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []types.CollectionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, f.cfg.Qdrant.Collection, infos[0].Name)
	assert.Greater(t, infos[0].VectorsCount, uint64(0))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/rag/collections/"+f.cfg.Qdrant.Collection, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/rag/collections/"+f.cfg.Qdrant.Collection+"/count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Greater(t, body["document_count"].(float64), 0.0)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/rag/collections/"+f.cfg.Qdrant.Collection, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/rag/collections/"+f.cfg.Qdrant.Collection, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownCollectionIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/rag/collections/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/rag/collections/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDocumentEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.indexDocument(t, "一.txt", "材料一内容。", "course-a", "mat-1")
	require.Equal(t, http.StatusOK, rec.Code)
	indexed := decodeBody(t, rec)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/rag/documents/material/course-a/mat-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, indexed["chunk_count"], body["deleted_count"])

	rec = f.indexDocument(t, "二.txt", "材料二内容。", "course-a", "mat-2")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/rag/documents/course/course-a", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Greater(t, body["deleted_count"].(float64), 0.0)
}

func TestChatEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.indexDocument(t, "第一章.txt", "光合作用将光能转化为化学能。", "course-a", "mat-1")
	require.Equal(t, http.StatusOK, rec.Code)
	f.generator.Response = "光合作用发生在叶绿体中。"

	rec = f.do(t, postJSON(t, "/conversation/chat", types.ChatRequest{
		ConversationID: "conv-1",
		Question:       "什么是光合作用？",
		ChatEngineType: types.EngineRetrievalAugmented,
		CourseID:       "course-a",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "光合作用发生在叶绿体中。", resp.Answer)
	assert.NotEmpty(t, resp.Sources)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.Contains(t, resp.FilterInfo, "course_id = course-a")
}

func TestChatRefusalWithoutFilter(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, postJSON(t, "/conversation/chat", types.ChatRequest{
		ConversationID: "conv-1",
		Question:       "问题",
		ChatEngineType: types.EngineRetrievalAugmented,
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conversation.AnswerFilterRequired, resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestChatValidationIs400(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, postJSON(t, "/conversation/chat", types.ChatRequest{
		ConversationID: "conv-1",
		ChatEngineType: types.EngineDirect,
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/conversation/chat", bytes.NewReader([]byte("{bad json")))
	req.Header.Set("Content-Type", "application/json")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearConversationEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, postJSON(t, "/conversation/chat", types.ChatRequest{
		ConversationID: "conv-1",
		Question:       "你好",
		ChatEngineType: types.EngineDirect,
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.memStore.Has("conv-1"))

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/conversation/conversations/conv-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.False(t, f.memStore.Has("conv-1"))
}

func TestConversationStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/conversation/conversations/conv-1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["exists"])

	rec = f.do(t, postJSON(t, "/conversation/chat", types.ChatRequest{
		ConversationID: "conv-1",
		Question:       "你好",
		ChatEngineType: types.EngineDirect,
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/conversation/conversations/conv-1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, 2.0, body["message_count"])
}

func TestEnginesCatalog(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/conversation/engines", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	engines, ok := body["engines"].([]interface{})
	require.True(t, ok)
	require.Len(t, engines, 2)
	first := engines[0].(map[string]interface{})
	assert.Equal(t, string(types.EngineRetrievalAugmented), first["type"])
	assert.Equal(t, string(types.EngineRetrievalAugmented), body["default"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/conversation/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])

	info := body["service_info"].(map[string]interface{})
	assert.Equal(t, "course-rag-server", info["service"])
}

func TestConfigEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/conversation/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	conv := body["conversation"].(map[string]interface{})
	assert.Equal(t, float64(f.cfg.Conversation.TokenLimit), conv["token_limit"])
	assert.Equal(t, float64(f.cfg.Conversation.SimilarityTopK), conv["similarity_top_k"])
}

func TestCleanupEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.indexDocument(t, "一.txt", "内容。", "course-a", "mat-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, postJSON(t, "/rag/cleanup", types.CleanupRequest{
		CourseID:       "course-a",
		CleanupFiles:   true,
		CleanupVectors: true,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Greater(t, body["vectors_deleted"].(float64), 0.0)
	assert.Greater(t, body["files_deleted"].(float64), 0.0)
}

func TestNotFoundIsJSON(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	errInfo := body["error"].(map[string]interface{})
	assert.Equal(t, "NOT_FOUND", errInfo["code"])
}

func TestMethodNotAllowedIsJSON(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodPut, "/conversation/chat", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body := decodeBody(t, rec)
	errInfo := body["error"].(map[string]interface{})
	assert.Equal(t, "METHOD_NOT_ALLOWED", errInfo["code"])
}
