// Package handlers contains the HTTP handlers for the document and
// conversation endpoints.
package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"course-rag-server/internal/api/response"
	"course-rag-server/internal/cleanup"
	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/indexing"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

// RAGHandler serves document indexing, collection management, and cleanup.
type RAGHandler struct {
	indexer    *indexing.Engine
	store      storage.VectorStore
	cleaner    *cleanup.Coordinator
	storageCfg *config.StorageConfig
	logger     logging.Logger
}

// NewRAGHandler creates the document endpoint handler.
func NewRAGHandler(indexer *indexing.Engine, store storage.VectorStore, cleaner *cleanup.Coordinator, storageCfg *config.StorageConfig) *RAGHandler {
	return &RAGHandler{
		indexer:    indexer,
		store:      store,
		cleaner:    cleaner,
		storageCfg: storageCfg,
		logger:     logging.WithComponent("api.rag"),
	}
}

// IndexDocument handles POST /rag/index. The body is multipart/form-data
// with a "file" part plus the tenant fields. The upload is persisted under
// the course directory before indexing so cleanup can find it later.
func (h *RAGHandler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.storageCfg.MaxFileSize); err != nil {
		response.WriteError(w, r, errors.NewBadRequestError("invalid multipart form: "+err.Error()))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.WriteError(w, r, errors.NewRequiredFieldError("file"))
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !h.extAllowed(ext) {
		response.WriteError(w, r, errors.NewBadRequestError(
			fmt.Sprintf("unsupported file type %q, allowed: %s", ext, strings.Join(h.storageCfg.AllowedExts, ", "))))
		return
	}
	if header.Size > h.storageCfg.MaxFileSize {
		response.WriteError(w, r, errors.NewBadRequestError(
			fmt.Sprintf("file exceeds the %d byte limit", h.storageCfg.MaxFileSize)))
		return
	}

	meta := types.DocumentMetadata{
		CourseID:           r.FormValue("course_id"),
		CourseMaterialID:   r.FormValue("course_material_id"),
		CourseMaterialName: r.FormValue("course_material_name"),
		FileSize:           header.Size,
		UploadTime:         time.Now().UTC().Format(time.RFC3339),
	}
	if meta.CourseMaterialName == "" {
		meta.CourseMaterialName = header.Filename
	}
	if err := meta.Validate(); err != nil {
		response.WriteError(w, r, errors.NewBadRequestError(err.Error()))
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, h.storageCfg.MaxFileSize+1))
	if err != nil {
		response.WriteError(w, r, errors.NewBadRequestError("failed to read upload: "+err.Error()))
		return
	}
	if int64(len(content)) > h.storageCfg.MaxFileSize {
		response.WriteError(w, r, errors.NewBadRequestError(
			fmt.Sprintf("file exceeds the %d byte limit", h.storageCfg.MaxFileSize)))
		return
	}

	savedPath, err := h.saveUpload(meta.CourseID, meta.CourseMaterialID, ext, content)
	if err != nil {
		response.WriteError(w, r, errors.NewInvariantViolationError("failed to persist upload: "+err.Error()))
		return
	}
	meta.FilePath = savedPath

	resp, err := h.indexer.IndexDocument(r.Context(), &types.IndexRequest{
		FileContent:    string(content),
		Metadata:       meta,
		CollectionName: r.FormValue("collection_name"),
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

// ListCollections handles GET /rag/collections.
func (h *RAGHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListCollections(r.Context())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	infos := make([]types.CollectionInfo, 0, len(names))
	for _, name := range names {
		count, err := h.store.PointsCount(r.Context(), name)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		infos = append(infos, types.CollectionInfo{Name: name, VectorsCount: count})
	}
	response.WriteJSON(w, http.StatusOK, infos)
}

// GetCollection handles GET /rag/collections/{name}.
func (h *RAGHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	exists, err := h.store.HasCollection(r.Context(), name)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if !exists {
		response.WriteError(w, r, errors.NewNotFoundError("collection", name))
		return
	}

	count, err := h.store.PointsCount(r.Context(), name)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, types.CollectionInfo{Name: name, VectorsCount: count})
}

// DeleteCollection handles DELETE /rag/collections/{name}.
func (h *RAGHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	exists, err := h.store.HasCollection(r.Context(), name)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if !exists {
		response.WriteError(w, r, errors.NewNotFoundError("collection", name))
		return
	}

	if err := h.store.DeleteCollection(r.Context(), name); err != nil {
		response.WriteError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "collection deleted", "collection", name)
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"collection_name": name,
		"message":         "集合已删除",
	})
}

// CountCollection handles GET /rag/collections/{name}/count.
func (h *RAGHandler) CountCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	exists, err := h.store.HasCollection(r.Context(), name)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if !exists {
		response.WriteError(w, r, errors.NewNotFoundError("collection", name))
		return
	}

	count, err := h.store.PointsCount(r.Context(), name)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collection_name": name,
		"document_count":  count,
	})
}

// DeleteCourseDocuments handles DELETE /rag/documents/course/{course_id}.
func (h *RAGHandler) DeleteCourseDocuments(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	collection := r.URL.Query().Get("collection_name")

	deleted, err := h.indexer.DeleteByCourse(r.Context(), collection, courseID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"course_id":     courseID,
		"deleted_count": deleted,
	})
}

// DeleteMaterialDocuments handles
// DELETE /rag/documents/material/{course_id}/{course_material_id}.
func (h *RAGHandler) DeleteMaterialDocuments(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	materialID := chi.URLParam(r, "course_material_id")
	collection := r.URL.Query().Get("collection_name")

	deleted, err := h.indexer.DeleteByMaterial(r.Context(), collection, courseID, materialID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"course_id":          courseID,
		"course_material_id": materialID,
		"deleted_count":      deleted,
	})
}

// Cleanup handles POST /rag/cleanup, the cascade cleanup across files,
// vectors, and conversation memory.
func (h *RAGHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req types.CleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	resp, err := h.cleaner.Run(r.Context(), &req)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) extAllowed(ext string) bool {
	for _, allowed := range h.storageCfg.AllowedExts {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// saveUpload writes the material under the course directory using the
// layout cleanup expects: course_{id}/course_material_{id}{ext}.
func (h *RAGHandler) saveUpload(courseID, materialID, ext string, content []byte) (string, error) {
	dir := filepath.Join(h.storageCfg.UploadDir, "course_"+courseID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "course_material_"+materialID+ext)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
