// Package api provides the HTTP API layer for the course RAG server.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"course-rag-server/internal/api/handlers"
	"course-rag-server/internal/api/response"
	"course-rag-server/internal/cleanup"
	"course-rag-server/internal/config"
	"course-rag-server/internal/conversation"
	"course-rag-server/internal/indexing"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/storage"
)

// Services bundles the components the API depends on.
type Services struct {
	Indexer      *indexing.Engine
	Orchestrator *conversation.Orchestrator
	Cleaner      *cleanup.Coordinator
	VectorStore  storage.VectorStore
	MemoryStore  memstore.ConversationStore
}

// Router wires middleware, handlers, and routes.
type Router struct {
	config   *config.Config
	mux      *chi.Mux
	services *Services
}

// NewRouter creates the API router with middleware and routes.
func NewRouter(cfg *config.Config, services *Services) *Router {
	r := &Router{
		config:   cfg,
		mux:      chi.NewRouter(),
		services: services,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}

// setupMiddleware configures the middleware stack.
func (r *Router) setupMiddleware() {
	// Recovery middleware (should be first)
	r.mux.Use(chimiddleware.Recoverer)

	r.mux.Use(r.traceMiddleware)

	// Request timeout bounded by the write timeout so slow generation
	// calls still finish inside it.
	r.mux.Use(chimiddleware.Timeout(time.Duration(r.config.Server.WriteTimeout) * time.Second))

	// Request size limit matches the upload limit.
	r.mux.Use(chimiddleware.RequestSize(r.config.Storage.MaxFileSize))

	// Heartbeat for load balancer health checks
	r.mux.Use(chimiddleware.Heartbeat("/ping"))
}

// traceMiddleware assigns every request a trace ID and logs completion.
func (r *Router) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		traceID := logging.GenerateTraceID()
		ctx := logging.WithTraceID(req.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		start := time.Now()
		next.ServeHTTP(w, req.WithContext(ctx))

		logging.InfoContext(ctx, "request completed",
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// setupRoutes configures API routes.
func (r *Router) setupRoutes() {
	ragHandler := handlers.NewRAGHandler(
		r.services.Indexer, r.services.VectorStore, r.services.Cleaner, &r.config.Storage)
	convHandler := handlers.NewConversationHandler(
		r.services.Orchestrator, r.services.MemoryStore, r.services.VectorStore, r.config)

	r.mux.Route("/rag", func(rtr chi.Router) {
		rtr.Post("/index", ragHandler.IndexDocument)
		rtr.Post("/cleanup", ragHandler.Cleanup)

		rtr.Route("/collections", func(colRouter chi.Router) {
			colRouter.Get("/", ragHandler.ListCollections)
			colRouter.Get("/{name}", ragHandler.GetCollection)
			colRouter.Delete("/{name}", ragHandler.DeleteCollection)
			colRouter.Get("/{name}/count", ragHandler.CountCollection)
		})

		rtr.Route("/documents", func(docRouter chi.Router) {
			docRouter.Delete("/course/{course_id}", ragHandler.DeleteCourseDocuments)
			docRouter.Delete("/material/{course_id}/{course_material_id}", ragHandler.DeleteMaterialDocuments)
		})
	})

	r.mux.Route("/conversation", func(rtr chi.Router) {
		rtr.Post("/chat", convHandler.Chat)
		rtr.Get("/engines", convHandler.Engines)
		rtr.Get("/health", convHandler.Health)
		rtr.Get("/config", convHandler.Config)

		rtr.Route("/conversations", func(convRouter chi.Router) {
			convRouter.Delete("/{id}", convHandler.ClearConversation)
			convRouter.Get("/{id}/status", convHandler.ConversationStatus)
		})
	})

	// Root endpoint with server info
	r.mux.Get("/", r.handleRoot)

	r.mux.NotFound(r.handleNotFound)
	r.mux.MethodNotAllowed(r.handleMethodNotAllowed)
}

// handleRoot handles requests to the root endpoint.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"server": "course-rag-server",
		"status": "running",
		"endpoints": map[string]string{
			"index":         "/rag/index",
			"collections":   "/rag/collections",
			"chat":          "/conversation/chat",
			"engines":       "/conversation/engines",
			"health":        "/conversation/health",
			"config":        "/conversation/config",
			"cleanup":       "/rag/cleanup",
			"heartbeat":     "/ping",
			"conversations": "/conversation/conversations/{id}",
		},
	})
}

// handleNotFound handles 404 errors.
func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	response.WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "NOT_FOUND",
			"message": "Endpoint not found",
			"details": "The requested resource does not exist",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMethodNotAllowed handles 405 errors.
func (r *Router) handleMethodNotAllowed(w http.ResponseWriter, req *http.Request) {
	response.WriteJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "METHOD_NOT_ALLOWED",
			"message": "Method not allowed",
			"details": "The HTTP method is not supported for this endpoint",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
