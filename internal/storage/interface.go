// Package storage provides the vector store gateway. All collection and
// point operations the engines need go through the VectorStore interface so
// tests can swap in an in-memory implementation.
package storage

import (
	"context"

	"course-rag-server/pkg/types"
)

// Filter is a conjunction of equality predicates on the tenant payload
// keys. The zero value matches everything.
type Filter struct {
	CourseID   string
	MaterialID string
}

// IsEmpty reports whether the filter has no predicates.
func (f Filter) IsEmpty() bool {
	return f.CourseID == "" && f.MaterialID == ""
}

// ByCourse constrains to one course.
func ByCourse(courseID string) Filter {
	return Filter{CourseID: courseID}
}

// ByMaterial constrains to one material.
func ByMaterial(materialID string) Filter {
	return Filter{MaterialID: materialID}
}

// ByTenant constrains to one course and material pair.
func ByTenant(courseID, materialID string) Filter {
	return Filter{CourseID: courseID, MaterialID: materialID}
}

// FromSpec translates a request-level filter spec into a store filter.
func FromSpec(spec types.FilterSpec) Filter {
	switch spec.Kind {
	case types.FilterByCourse:
		return ByCourse(spec.Value)
	case types.FilterByMaterial:
		return ByMaterial(spec.Value)
	default:
		return Filter{}
	}
}

// SearchParams bundles the knobs for a similarity search.
type SearchParams struct {
	Vector         []float32
	Filter         Filter
	TopK           uint64
	ScoreThreshold float32
}

// VectorStore is the gateway to the vector database.
type VectorStore interface {
	// EnsureCollection creates the collection when absent. Idempotent.
	EnsureCollection(ctx context.Context, collection string) error

	// HasCollection reports whether the collection exists.
	HasCollection(ctx context.Context, collection string) (bool, error)

	// DeleteCollection drops the collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	// ListCollections returns every collection name.
	ListCollections(ctx context.Context) ([]string, error)

	// PointsCount returns the total number of points in the collection.
	PointsCount(ctx context.Context, collection string) (uint64, error)

	// Upsert writes chunks with their embeddings and tenant payload.
	Upsert(ctx context.Context, collection string, chunks []types.Chunk) error

	// Search runs a filtered top-k similarity query.
	Search(ctx context.Context, collection string, params SearchParams) ([]types.SearchHit, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, collection string, filter Filter) (uint64, error)

	// DeleteByFilter removes matching points and returns how many were
	// counted before deletion. Deleting an empty match set is not an error.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) (uint64, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
