// Package retrieval embeds a question and finds the matching chunks for it.
package retrieval

import (
	"context"
	"fmt"
	"unicode/utf8"

	"course-rag-server/internal/embeddings"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/storage"
	"course-rag-server/pkg/types"
)

const snippetBytes = 200

// Options configure a retrieval engine.
type Options struct {
	TopK           uint64
	ScoreThreshold float32
}

// Result is one retrieval pass: the ranked sources plus the full chunk
// texts for prompt assembly.
type Result struct {
	Sources  []types.SourceInfo
	Contexts []string
}

// Engine runs filtered similarity search over the vector store.
type Engine struct {
	embedder embeddings.Service
	store    storage.VectorStore
	opts     Options
	logger   logging.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(embedder embeddings.Service, store storage.VectorStore, opts Options) *Engine {
	if opts.TopK == 0 {
		opts.TopK = 6
	}
	return &Engine{
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logging.WithComponent("retrieval"),
	}
}

// Retrieve embeds the question and searches the collection under the given
// filter. Sources come back score-descending with display snippets; the
// contexts keep the full chunk text in the same order.
func (e *Engine) Retrieve(ctx context.Context, collection, question string, filter storage.Filter) (*Result, error) {
	vector, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := e.store.Search(ctx, collection, storage.SearchParams{
		Vector:         vector,
		Filter:         filter,
		TopK:           e.opts.TopK,
		ScoreThreshold: e.opts.ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Sources:  make([]types.SourceInfo, 0, len(hits)),
		Contexts: make([]string, 0, len(hits)),
	}
	for _, hit := range hits {
		text := payloadString(hit.Payload, types.PayloadKeyText)
		result.Sources = append(result.Sources, types.SourceInfo{
			CourseID:           payloadString(hit.Payload, types.PayloadKeyCourseID),
			CourseMaterialID:   payloadString(hit.Payload, types.PayloadKeyMaterialID),
			CourseMaterialName: payloadString(hit.Payload, types.PayloadKeyMaterialName),
			ChunkText:          Snippet(text),
			Score:              hit.Score,
		})
		result.Contexts = append(result.Contexts, text)
	}

	e.logger.DebugContext(ctx, "retrieval pass",
		"collection", collection,
		"course_id", filter.CourseID,
		"course_material_id", filter.MaterialID,
		"hits", len(hits))
	return result, nil
}

// Snippet truncates chunk text to the display byte bound, cutting back to
// a rune boundary, with an ellipsis marker when cut.
func Snippet(text string) string {
	if len(text) <= snippetBytes {
		return text
	}
	cut := snippetBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
