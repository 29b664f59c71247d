// Package cleanup removes every trace of a course or material: uploaded
// files, outline outputs, vectors, and optionally conversation memory.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"course-rag-server/internal/config"
	"course-rag-server/internal/errors"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

// Operation type labels used in cleanup reports.
const (
	opDeleteFiles     = "delete_files"
	opDeleteOutlines  = "delete_outlines"
	opDeleteVectors   = "delete_vectors"
	opDeleteMemory    = "delete_memory"
	opRemoveEmptyDirs = "remove_empty_dirs"
)

// Coordinator runs multi-target cleanup for one tenant.
type Coordinator struct {
	store             storage.VectorStore
	memory            memstore.ConversationStore
	locks             *locks.KeyedMutex
	storageCfg        *config.StorageConfig
	defaultCollection string
	logger            logging.Logger
}

// NewCoordinator creates the cleanup coordinator. The tenant mutex is the
// same instance the indexing engine holds, so cleanup never races an
// in-flight ingestion of the same course material.
func NewCoordinator(store storage.VectorStore, memory memstore.ConversationStore, tenantLocks *locks.KeyedMutex, storageCfg *config.StorageConfig, defaultCollection string) *Coordinator {
	return &Coordinator{
		store:             store,
		memory:            memory,
		locks:             tenantLocks,
		storageCfg:        storageCfg,
		defaultCollection: defaultCollection,
		logger:            logging.WithComponent("cleanup"),
	}
}

// Run executes the selected cleanup targets. Without force_cleanup the run
// stops at the first failed operation; with it, every target is attempted
// and the failures are reported in the operation list.
func (c *Coordinator) Run(ctx context.Context, req *types.CleanupRequest) (*types.CleanupResponse, error) {
	start := time.Now()

	if req.CourseID == "" {
		return nil, errors.ErrCourseIDRequired
	}
	if !req.CleanupFiles && !req.CleanupVectors && !req.CleanupMemory {
		return nil, errors.NewBadRequestError("no cleanup targets selected")
	}

	unlock := c.locks.Lock(locks.TenantKey(req.CourseID, req.CourseMaterialID))
	defer unlock()

	resp := &types.CleanupResponse{
		Success:          true,
		CourseID:         req.CourseID,
		CourseMaterialID: req.CourseMaterialID,
		Operations:       []types.CleanupOperation{},
	}

	// With force_cleanup the run is reported as successful overall; the
	// failed operations stay visible in the operation list.
	anyFailed := false
	for _, step := range c.buildSteps(req) {
		op := step(ctx, req, resp)
		resp.Operations = append(resp.Operations, op)
		if !op.Success {
			anyFailed = true
			if !req.ForceCleanup {
				resp.Success = false
				break
			}
		}
	}

	resp.CleanupTime = time.Since(start).Seconds()
	switch {
	case !resp.Success:
		resp.Message = "清理部分失败，详见操作记录"
	case anyFailed:
		resp.Message = "清理完成，部分操作失败，详见操作记录"
	default:
		resp.Message = "清理完成"
	}

	c.logger.InfoContext(ctx, "cleanup finished",
		"course_id", req.CourseID,
		"course_material_id", req.CourseMaterialID,
		"success", resp.Success,
		"files_deleted", resp.FilesDeleted,
		"vectors_deleted", resp.VectorsDeleted,
		"memories_cleared", resp.MemoriesCleared)
	return resp, nil
}

type step func(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation

func (c *Coordinator) buildSteps(req *types.CleanupRequest) []step {
	steps := make([]step, 0, 4)
	if req.CleanupFiles {
		steps = append(steps, c.cleanFiles, c.cleanOutlines, c.removeEmptyDirs)
	}
	if req.CleanupVectors {
		steps = append(steps, c.cleanVectors)
	}
	if req.CleanupMemory {
		steps = append(steps, c.cleanMemory)
	}
	return steps
}

// courseDir is where a course's uploads live.
func (c *Coordinator) courseDir(courseID string) string {
	return filepath.Join(c.storageCfg.UploadDir, "course_"+courseID)
}

// cleanFiles removes the uploaded source files. Missing files are fine;
// the operation reports what was actually removed.
func (c *Coordinator) cleanFiles(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation {
	dir := c.courseDir(req.CourseID)

	var targets []string
	if req.CourseMaterialID != "" {
		for _, ext := range c.storageCfg.AllowedExts {
			targets = append(targets, filepath.Join(dir, "course_material_"+req.CourseMaterialID+ext))
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return failedOp(opDeleteFiles, dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				targets = append(targets, filepath.Join(dir, entry.Name()))
			}
		}
	}

	removed := 0
	for _, target := range targets {
		err := os.Remove(target)
		if err == nil {
			removed++
			continue
		}
		if !os.IsNotExist(err) {
			return failedOp(opDeleteFiles, target, err)
		}
	}
	resp.FilesDeleted += removed

	return types.CleanupOperation{
		OperationType: opDeleteFiles,
		Target:        dir,
		Success:       true,
		Message:       fmt.Sprintf("删除了 %d 个上传文件", removed),
	}
}

// cleanOutlines removes generated outline files for the tenant.
func (c *Coordinator) cleanOutlines(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation {
	pattern := filepath.Join(c.storageCfg.OutlineDir, "course_"+req.CourseID+"_*")
	if req.CourseMaterialID != "" {
		pattern = filepath.Join(c.storageCfg.OutlineDir,
			"course_"+req.CourseID+"_material_"+req.CourseMaterialID+"_*")
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return failedOp(opDeleteOutlines, pattern, err)
	}

	removed := 0
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return failedOp(opDeleteOutlines, match, err)
		}
		removed++
	}
	resp.FilesDeleted += removed

	return types.CleanupOperation{
		OperationType: opDeleteOutlines,
		Target:        pattern,
		Success:       true,
		Message:       fmt.Sprintf("删除了 %d 个大纲文件", removed),
	}
}

// removeEmptyDirs drops the course upload directory once it is empty.
func (c *Coordinator) removeEmptyDirs(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation {
	dir := c.courseDir(req.CourseID)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return types.CleanupOperation{
			OperationType: opRemoveEmptyDirs,
			Target:        dir,
			Success:       true,
			Message:       "目录不存在，无需清理",
		}
	}
	if err != nil {
		return failedOp(opRemoveEmptyDirs, dir, err)
	}

	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			return failedOp(opRemoveEmptyDirs, dir, err)
		}
		resp.DirectoriesCleaned++
		return types.CleanupOperation{
			OperationType: opRemoveEmptyDirs,
			Target:        dir,
			Success:       true,
			Message:       "已删除空目录",
		}
	}

	return types.CleanupOperation{
		OperationType: opRemoveEmptyDirs,
		Target:        dir,
		Success:       true,
		Message:       fmt.Sprintf("目录仍有 %d 个条目，保留", len(entries)),
	}
}

// cleanVectors removes the tenant's points from the vector store. Both keys
// constrain the delete when a material is named.
func (c *Coordinator) cleanVectors(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation {
	collection := req.CollectionName
	if collection == "" {
		collection = c.defaultCollection
	}

	filter := storage.ByCourse(req.CourseID)
	if req.CourseMaterialID != "" {
		filter = storage.ByTenant(req.CourseID, req.CourseMaterialID)
	}

	exists, err := c.store.HasCollection(ctx, collection)
	if err != nil {
		return failedOp(opDeleteVectors, collection, err)
	}
	if !exists {
		return types.CleanupOperation{
			OperationType: opDeleteVectors,
			Target:        collection,
			Success:       true,
			Message:       "集合不存在，无需清理",
		}
	}

	deleted, err := c.store.DeleteByFilter(ctx, collection, filter)
	if err != nil {
		return failedOp(opDeleteVectors, collection, err)
	}
	resp.VectorsDeleted += int(deleted)

	return types.CleanupOperation{
		OperationType: opDeleteVectors,
		Target:        collection,
		Success:       true,
		Message:       fmt.Sprintf("删除了 %d 个向量", deleted),
	}
}

// cleanMemory deletes the named conversations. Memory is keyed by
// conversation, not tenant, so the caller must name them.
func (c *Coordinator) cleanMemory(ctx context.Context, req *types.CleanupRequest, resp *types.CleanupResponse) types.CleanupOperation {
	if len(req.ConversationIDs) == 0 {
		return types.CleanupOperation{
			OperationType: opDeleteMemory,
			Target:        "conversations",
			Success:       true,
			Message:       "未指定会话，跳过记忆清理",
		}
	}

	cleared := 0
	for _, id := range req.ConversationIDs {
		if err := c.memory.Delete(ctx, id); err != nil {
			return failedOp(opDeleteMemory, id, err)
		}
		cleared++
	}
	resp.MemoriesCleared += cleared

	return types.CleanupOperation{
		OperationType: opDeleteMemory,
		Target:        "conversations",
		Success:       true,
		Message:       fmt.Sprintf("清除了 %d 个会话记忆", cleared),
	}
}

func failedOp(opType, target string, err error) types.CleanupOperation {
	return types.CleanupOperation{
		OperationType: opType,
		Target:        target,
		Success:       false,
		Message:       "操作失败",
		Details:       err.Error(),
	}
}
