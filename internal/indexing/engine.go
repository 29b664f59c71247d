// Package indexing turns uploaded documents into embedded chunks in the
// vector store.
package indexing

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"course-rag-server/internal/chunking"
	"course-rag-server/internal/embeddings"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

// embedBatchSize bounds one provider call during ingestion.
const embedBatchSize = 32

// Engine ingests documents: ensure collection, chunk, embed, upsert.
type Engine struct {
	chunker           *chunking.Chunker
	embedder          embeddings.Service
	store             storage.VectorStore
	locks             *locks.KeyedMutex
	defaultCollection string
	logger            logging.Logger
}

// NewEngine creates an indexing engine. The tenant mutex is shared with
// every other writer of the same course materials, so ingestion, deletes
// and cleanup for one tenant pair never overlap.
func NewEngine(chunker *chunking.Chunker, embedder embeddings.Service, store storage.VectorStore, tenantLocks *locks.KeyedMutex, defaultCollection string) *Engine {
	return &Engine{
		chunker:           chunker,
		embedder:          embedder,
		store:             store,
		locks:             tenantLocks,
		defaultCollection: defaultCollection,
		logger:            logging.WithComponent("indexing"),
	}
}

// IndexDocument ingests one document. Re-indexing the same course material
// replaces its previous vectors, so the tenant pair stays unique. Ingestion
// for the same tenant is serialized.
func (e *Engine) IndexDocument(ctx context.Context, req *types.IndexRequest) (*types.IndexResponse, error) {
	start := time.Now()

	if err := req.Metadata.Validate(); err != nil {
		return nil, errors.NewBadRequestError(err.Error())
	}
	if strings.TrimSpace(req.FileContent) == "" {
		return nil, errors.NewBadRequestError("file content cannot be empty")
	}

	collection := req.CollectionName
	if collection == "" {
		collection = e.defaultCollection
	}

	tenant := req.Metadata.TenantKey()
	unlock := e.locks.Lock(locks.TenantKey(tenant.CourseID, tenant.CourseMaterialID))
	defer unlock()

	if err := e.store.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}

	text := req.FileContent
	if isMarkdown(req.Metadata) {
		text = chunking.MarkdownToText([]byte(req.FileContent))
	}

	pieces := e.chunker.Split(text)
	if len(pieces) == 0 {
		return nil, errors.NewBadRequestError("document produced no chunks")
	}

	// Replace any previous version of this material before writing the
	// new chunks, so the tenant pair never holds two generations at once.
	replaced, err := e.store.DeleteByFilter(ctx, collection, storage.ByTenant(tenant.CourseID, tenant.CourseMaterialID))
	if err != nil {
		return nil, err
	}
	if replaced > 0 {
		e.logger.InfoContext(ctx, "replacing existing material vectors",
			"course_id", tenant.CourseID,
			"course_material_id", tenant.CourseMaterialID,
			"replaced", replaced)
	}

	chunks := make([]types.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = types.NewChunk(i, piece, &req.Metadata)
	}

	if err := e.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	if err := e.store.Upsert(ctx, collection, chunks); err != nil {
		return nil, err
	}

	elapsed := time.Since(start).Seconds()
	e.logger.InfoContext(ctx, "indexed document",
		"course_id", tenant.CourseID,
		"course_material_id", tenant.CourseMaterialID,
		"collection", collection,
		"chunks", len(chunks),
		"processing_time", elapsed)

	return &types.IndexResponse{
		Success:        true,
		Message:        fmt.Sprintf("文档索引成功，共 %d 个文本块", len(chunks)),
		DocumentCount:  1,
		ChunkCount:     len(chunks),
		ProcessingTime: elapsed,
		CollectionName: collection,
	}, nil
}

// embedChunks fills in embeddings batch by batch. A provider failure
// aborts the whole ingestion and names the first affected chunk.
func (e *Engine) embedChunks(ctx context.Context, chunks []types.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		vectors, err := e.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errors.NewEmbedFailedError(
				fmt.Sprintf("embedding failed at chunk %d", start), err)
		}
		for i, vec := range vectors {
			chunks[start+i].Embedding = vec
		}
	}
	return nil
}

// DeleteByCourse removes every vector belonging to a course.
func (e *Engine) DeleteByCourse(ctx context.Context, collection, courseID string) (uint64, error) {
	if courseID == "" {
		return 0, errors.ErrCourseIDRequired
	}
	if collection == "" {
		collection = e.defaultCollection
	}
	unlock := e.locks.Lock(locks.TenantKey(courseID, ""))
	defer unlock()
	return e.store.DeleteByFilter(ctx, collection, storage.ByCourse(courseID))
}

// DeleteByMaterial removes the vectors of one course material. Both keys
// constrain the delete so an id reused across courses is untouched.
func (e *Engine) DeleteByMaterial(ctx context.Context, collection, courseID, materialID string) (uint64, error) {
	if courseID == "" || materialID == "" {
		return 0, errors.NewBadRequestError("course_id and course_material_id are required")
	}
	if collection == "" {
		collection = e.defaultCollection
	}
	unlock := e.locks.Lock(locks.TenantKey(courseID, materialID))
	defer unlock()
	return e.store.DeleteByFilter(ctx, collection, storage.ByTenant(courseID, materialID))
}

// CountByCourse returns how many vectors a course holds.
func (e *Engine) CountByCourse(ctx context.Context, collection, courseID string) (uint64, error) {
	if courseID == "" {
		return 0, errors.ErrCourseIDRequired
	}
	if collection == "" {
		collection = e.defaultCollection
	}
	return e.store.Count(ctx, collection, storage.ByCourse(courseID))
}

// DefaultCollection exposes the configured default collection name.
func (e *Engine) DefaultCollection() string {
	return e.defaultCollection
}

func isMarkdown(meta types.DocumentMetadata) bool {
	name := meta.CourseMaterialName
	if meta.FilePath != "" {
		name = meta.FilePath
	}
	return strings.EqualFold(filepath.Ext(name), ".md")
}
