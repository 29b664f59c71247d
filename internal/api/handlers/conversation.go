package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"course-rag-server/internal/api/response"
	"course-rag-server/internal/config"
	"course-rag-server/internal/conversation"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

// ConversationHandler serves the chat endpoints.
type ConversationHandler struct {
	orchestrator *conversation.Orchestrator
	memStore     memstore.ConversationStore
	vectorStore  storage.VectorStore
	cfg          *config.Config
	logger       logging.Logger
}

// NewConversationHandler creates the chat endpoint handler.
func NewConversationHandler(orchestrator *conversation.Orchestrator, memStore memstore.ConversationStore, vectorStore storage.VectorStore, cfg *config.Config) *ConversationHandler {
	return &ConversationHandler{
		orchestrator: orchestrator,
		memStore:     memStore,
		vectorStore:  vectorStore,
		cfg:          cfg,
		logger:       logging.WithComponent("api.conversation"),
	}
}

// Chat handles POST /conversation/chat.
func (h *ConversationHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	resp, err := h.orchestrator.Chat(r.Context(), &req)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

// ClearConversation handles DELETE /conversation/conversations/{id}.
func (h *ConversationHandler) ClearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.orchestrator.ClearConversation(r.Context(), id); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"conversation_id": id,
	})
}

// ConversationStatus handles GET /conversation/conversations/{id}/status.
func (h *ConversationHandler) ConversationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.orchestrator.Status(r.Context(), id)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, status)
}

// Engines handles GET /conversation/engines with the static mode catalog.
func (h *ConversationHandler) Engines(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"engines": []map[string]interface{}{
			{
				"type":        string(types.EngineRetrievalAugmented),
				"name":        "检索增强对话引擎",
				"description": "先压缩追问为独立问题，再检索课程材料并结合上下文回答",
				"features": []string{
					"问题压缩",
					"元数据过滤检索",
					"来源引用",
					"对话记忆",
				},
				"use_cases": []string{
					"课程内容问答",
					"材料要点讲解",
				},
			},
			{
				"type":        string(types.EngineDirect),
				"name":        "直接对话引擎",
				"description": "不检索课程材料，直接基于对话历史回答",
				"features": []string{
					"低延迟",
					"对话记忆",
				},
				"use_cases": []string{
					"通用问答",
					"闲聊",
				},
			},
		},
		"default": string(types.EngineRetrievalAugmented),
		"configuration": map[string]interface{}{
			"similarity_top_k": h.cfg.Conversation.SimilarityTopK,
			"token_limit":      h.cfg.Conversation.TokenLimit,
			"llm_model":        h.cfg.OpenAI.LLMModel,
		},
	})
}

// Health handles GET /conversation/health. Both dependency stores are
// probed; a failed probe degrades the status but still returns 200 so the
// caller sees which piece is down.
func (h *ConversationHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	vectorStatus := "ok"
	if err := h.vectorStore.HealthCheck(ctx); err != nil {
		vectorStatus = err.Error()
		status = "degraded"
	}
	memoryStatus := "ok"
	if err := h.memStore.HealthCheck(ctx); err != nil {
		memoryStatus = err.Error()
		status = "degraded"
	}

	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"service_info": map[string]interface{}{
			"service":         "course-rag-server",
			"llm_model":       h.cfg.OpenAI.LLMModel,
			"embedding_model": h.cfg.OpenAI.EmbeddingModel,
			"collection":      h.cfg.Qdrant.Collection,
			"vector_store":    vectorStatus,
			"memory_store":    memoryStatus,
		},
	})
}

// Config handles GET /conversation/config with the live conversation
// settings.
func (h *ConversationHandler) Config(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"chat_engine_types": []string{
			string(types.EngineRetrievalAugmented),
			string(types.EngineDirect),
		},
		"conversation": map[string]interface{}{
			"token_limit":      h.cfg.Conversation.TokenLimit,
			"max_messages":     h.cfg.Conversation.MaxMessages,
			"tail_keep":        h.cfg.Conversation.TailKeep,
			"similarity_top_k": h.cfg.Conversation.SimilarityTopK,
			"score_threshold":  h.cfg.Conversation.ScoreThreshold,
		},
		"memory": map[string]interface{}{
			"ttl_seconds": h.cfg.Redis.TTLSeconds,
		},
		"models": map[string]interface{}{
			"llm_model":       h.cfg.OpenAI.LLMModel,
			"temperature":     h.cfg.OpenAI.Temperature,
			"embedding_model": h.cfg.OpenAI.EmbeddingModel,
		},
	})
}

// decodeJSON decodes a JSON request body, rejecting unknown garbage with a
// BAD_REQUEST instead of a bare 500.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}
