package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/laguz/internal/cache"
	"github.com/starford/laguz/internal/noteservice"
	"github.com/starford/laguz/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// cacheMgr, if non-nil, mounts the cache admin endpoints.
// broker, if non-nil, is mounted at GET /events and receives note events.
func NewRouter(svc *noteservice.Service, cacheMgr *cache.Manager, broker *sse.Broker, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc, broker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/{id}", h.GetNote)
	r.Patch("/notes/{id}", h.UpdateNote)
	r.Delete("/notes/{id}", h.DeleteNote)

	// Search.
	r.Get("/search", h.Search)

	// Cache administration.
	if cacheMgr != nil {
		ch := NewCacheHandler(cacheMgr, broker)
		r.Post("/cache/message", ch.Message)
		r.Get("/cache/status", ch.Status)
	}

	// SSE endpoint (protected by same auth middleware).
	if broker != nil {
		r.Get("/events", broker.ServeHTTP)
	}

	return r
}

// Verify the broker satisfies http.Handler at compile time.
var _ http.Handler = (*sse.Broker)(nil)
