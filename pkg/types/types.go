// Package types provides core data structures and type definitions for the
// course RAG server: chunks, tenant metadata, conversation memory, and the
// request/response shapes shared by the engines and the HTTP layer.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message roles stored in conversation memory.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Payload keys carried on every vector point. Filtered search relies on
// these, so they are fixed identifiers rather than free-form metadata.
const (
	PayloadKeyCourseID     = "course_id"
	PayloadKeyMaterialID   = "course_material_id"
	PayloadKeyMaterialName = "course_material_name"
	PayloadKeyText         = "text"
	PayloadKeyChunkIndex   = "chunk_index"
	PayloadKeyCreatedAt    = "created_at"
)

const maxTenantKeyBytes = 50

// TenantKey partitions the corpus: course_id identifies a course,
// course_material_id one document within it.
type TenantKey struct {
	CourseID         string `json:"course_id"`
	CourseMaterialID string `json:"course_material_id"`
}

// Validate checks both components are present and within the size bound.
func (k TenantKey) Validate() error {
	if k.CourseID == "" {
		return errors.New("course_id cannot be empty")
	}
	if k.CourseMaterialID == "" {
		return errors.New("course_material_id cannot be empty")
	}
	if len(k.CourseID) > maxTenantKeyBytes {
		return fmt.Errorf("course_id exceeds %d bytes", maxTenantKeyBytes)
	}
	if len(k.CourseMaterialID) > maxTenantKeyBytes {
		return fmt.Errorf("course_material_id exceeds %d bytes", maxTenantKeyBytes)
	}
	return nil
}

// DocumentMetadata describes one ingested document.
type DocumentMetadata struct {
	CourseID           string `json:"course_id"`
	CourseMaterialID   string `json:"course_material_id"`
	CourseMaterialName string `json:"course_material_name"`
	FilePath           string `json:"file_path,omitempty"`
	FileSize           int64  `json:"file_size,omitempty"`
	UploadTime         string `json:"upload_time,omitempty"`
}

// TenantKey returns the tenant pair embedded in the metadata.
func (m *DocumentMetadata) TenantKey() TenantKey {
	return TenantKey{CourseID: m.CourseID, CourseMaterialID: m.CourseMaterialID}
}

// Validate checks the metadata fields required for indexing.
func (m *DocumentMetadata) Validate() error {
	if err := m.TenantKey().Validate(); err != nil {
		return err
	}
	if m.CourseMaterialName == "" {
		return errors.New("course_material_name cannot be empty")
	}
	return nil
}

// Chunk is one segment of a document together with its embedding and the
// tenant payload that makes filtered search possible without joins.
type Chunk struct {
	ID           string    `json:"id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding"`
	CourseID     string    `json:"course_id"`
	MaterialID   string    `json:"course_material_id"`
	MaterialName string    `json:"course_material_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewChunk creates a chunk with a fresh random ID.
func NewChunk(index int, text string, meta *DocumentMetadata) Chunk {
	return Chunk{
		ID:           uuid.New().String(),
		ChunkIndex:   index,
		Text:         text,
		CourseID:     meta.CourseID,
		MaterialID:   meta.CourseMaterialID,
		MaterialName: meta.CourseMaterialName,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks the chunk invariants prior to storage.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk id cannot be empty")
	}
	if c.ChunkIndex < 0 {
		return errors.New("chunk_index must be >= 0")
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	if c.CourseID == "" || c.MaterialID == "" {
		return errors.New("chunk must carry its tenant payload")
	}
	return nil
}

// SearchHit is one scored result from the vector store.
type SearchHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// CollectionInfo summarises one vector store collection.
type CollectionInfo struct {
	Name         string `json:"name"`
	VectorsCount uint64 `json:"vectors_count"`
}

// ChatMessage is a single turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationRecord is the single value stored per conversation key:
// the rolling message window, the compaction summary, and the cached
// token estimate. Keeping it one value keeps appends atomic per key.
type ConversationRecord struct {
	Messages   []ChatMessage `json:"messages"`
	Summary    string        `json:"summary,omitempty"`
	TokenCount int           `json:"token_count"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// EngineMode selects the chat orchestration path. There are exactly two
// modes; they share the pre/post skeleton and differ only in the middle.
type EngineMode string

const (
	// EngineRetrievalAugmented grounds answers in retrieved chunks.
	EngineRetrievalAugmented EngineMode = "condense_plus_context"
	// EngineDirect talks to the model without retrieval.
	EngineDirect EngineMode = "simple"
)

// Valid reports whether the mode is one of the two supported engines.
func (m EngineMode) Valid() bool {
	return m == EngineRetrievalAugmented || m == EngineDirect
}

// FilterKind enumerates the retrieval constraint derived from a request.
type FilterKind int

const (
	// FilterNone means no metadata constraint.
	FilterNone FilterKind = iota
	// FilterByCourse constrains to one course_id.
	FilterByCourse
	// FilterByMaterial constrains to one course_material_id.
	FilterByMaterial
)

// FilterSpec is the intended metadata constraint on retrieval.
type FilterSpec struct {
	Kind  FilterKind
	Value string
}

// DeriveFilterSpec applies the tie-break rule: when both ids are supplied
// the course filter wins. Callers log the tie-break warning.
func DeriveFilterSpec(courseID, materialID string) FilterSpec {
	switch {
	case courseID != "":
		return FilterSpec{Kind: FilterByCourse, Value: courseID}
	case materialID != "":
		return FilterSpec{Kind: FilterByMaterial, Value: materialID}
	default:
		return FilterSpec{Kind: FilterNone}
	}
}

// IsNone reports whether no constraint was requested.
func (f FilterSpec) IsNone() bool { return f.Kind == FilterNone }

// DescribeFilter renders the human-readable filter description that is part
// of the response contract.
func DescribeFilter(courseID, materialID string) string {
	switch {
	case courseID != "" && materialID != "":
		return fmt.Sprintf("course_id = %s (优先使用)", courseID)
	case courseID != "":
		return fmt.Sprintf("course_id = %s", courseID)
	case materialID != "":
		return fmt.Sprintf("course_material_id = %s", materialID)
	default:
		return "无过滤条件，搜索全部文档"
	}
}

// ChatRequest is the body of POST /conversation/chat.
type ChatRequest struct {
	ConversationID   string     `json:"conversation_id"`
	Question         string     `json:"question"`
	ChatEngineType   EngineMode `json:"chat_engine_type"`
	CourseID         string     `json:"course_id,omitempty"`
	CourseMaterialID string     `json:"course_material_id,omitempty"`
	CollectionName   string     `json:"collection_name,omitempty"`
}

// Validate checks the request fields the orchestrator depends on.
func (r *ChatRequest) Validate() error {
	if r.ConversationID == "" {
		return errors.New("conversation_id cannot be empty")
	}
	if r.Question == "" {
		return errors.New("question cannot be empty")
	}
	if !r.ChatEngineType.Valid() {
		return fmt.Errorf("unknown chat_engine_type: %q", r.ChatEngineType)
	}
	return nil
}

// SourceInfo identifies one retrieved chunk backing an answer.
type SourceInfo struct {
	CourseID           string  `json:"course_id"`
	CourseMaterialID   string  `json:"course_material_id"`
	CourseMaterialName string  `json:"course_material_name"`
	ChunkText          string  `json:"chunk_text"`
	Score              float32 `json:"score"`
}

// ChatResponse is the body returned by POST /conversation/chat.
type ChatResponse struct {
	Answer         string       `json:"answer"`
	Sources        []SourceInfo `json:"sources"`
	ConversationID string       `json:"conversation_id"`
	ChatEngineType EngineMode   `json:"chat_engine_type"`
	FilterInfo     string       `json:"filter_info"`
	ProcessingTime float64      `json:"processing_time"`
}

// IndexRequest carries a document into the indexing engine.
type IndexRequest struct {
	FileContent    string           `json:"file_content"`
	Metadata       DocumentMetadata `json:"metadata"`
	CollectionName string           `json:"collection_name,omitempty"`
}

// IndexResponse reports the outcome of one indexing run.
type IndexResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	DocumentCount  int     `json:"document_count"`
	ChunkCount     int     `json:"chunk_count"`
	ProcessingTime float64 `json:"processing_time"`
	CollectionName string  `json:"collection_name"`
}

// CleanupRequest selects the cleanup targets for one tenant.
type CleanupRequest struct {
	CourseID         string   `json:"course_id"`
	CourseMaterialID string   `json:"course_material_id,omitempty"`
	CollectionName   string   `json:"collection_name,omitempty"`
	ConversationIDs  []string `json:"conversation_ids,omitempty"`
	CleanupFiles     bool     `json:"cleanup_files"`
	CleanupVectors   bool     `json:"cleanup_vectors"`
	CleanupMemory    bool     `json:"cleanup_memory"`
	ForceCleanup     bool     `json:"force_cleanup"`
}

// CleanupOperation records one step of a cleanup run.
type CleanupOperation struct {
	OperationType string `json:"operation_type"`
	Target        string `json:"target"`
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
}

// CleanupResponse aggregates a cleanup run.
type CleanupResponse struct {
	Success            bool               `json:"success"`
	Message            string             `json:"message"`
	CourseID           string             `json:"course_id"`
	CourseMaterialID   string             `json:"course_material_id,omitempty"`
	Operations         []CleanupOperation `json:"operations"`
	FilesDeleted       int                `json:"files_deleted"`
	VectorsDeleted     int                `json:"vectors_deleted"`
	DirectoriesCleaned int                `json:"directories_cleaned"`
	MemoriesCleared    int                `json:"memories_cleared"`
	CleanupTime        float64            `json:"cleanup_time"`
}
