package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/laguz/internal/cache"
	"github.com/starford/laguz/internal/sse"
)

// CacheHandler exposes the administrative message protocol and lifecycle
// introspection for the cache manager.
type CacheHandler struct {
	mgr    *cache.Manager
	broker *sse.Broker // optional
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(mgr *cache.Manager, broker *sse.Broker) *CacheHandler {
	return &CacheHandler{mgr: mgr, broker: broker}
}

// Message handles POST /api/cache/message.
//
// CLEAR_CACHE deletes every partition and replies {"success":true} on the
// same request once all deletions completed. SKIP_WAITING forces a waiting
// generation to activate and carries no reply body.
//
//	@Summary		Send an administrative command to the cache manager
//	@Tags			cache
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CacheMessage	true	"Command"
//	@Success		200		{object}	CacheMessageReply
//	@Success		202		"Accepted (SKIP_WAITING)"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cache/message [post]
func (h *CacheHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg CacheMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	switch msg.Type {
	case MessageClearCache:
		if err := h.mgr.ClearAll(r.Context()); err != nil {
			slog.Error("clear cache failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		if h.broker != nil {
			h.broker.PublishCacheEvent("cache.cleared", h.mgr.Generation())
		}
		writeJSON(w, http.StatusOK, CacheMessageReply{Success: true})

	case MessageSkipWaiting:
		if err := h.mgr.SkipWaiting(r.Context()); err != nil {
			slog.Error("skip waiting failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		w.WriteHeader(http.StatusAccepted)

	default:
		writeJSON(w, http.StatusBadRequest, errorBody("unknown message type"))
	}
}

// Status handles GET /api/cache/status.
//
//	@Summary		Report cache lifecycle state, generation, and partitions
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	CacheStatusResponse
//	@Security		BearerAuth
//	@Router			/cache/status [get]
func (h *CacheHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.mgr.Status()
	if err != nil {
		slog.Error("cache status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
