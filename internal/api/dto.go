package api

import (
	"github.com/starford/laguz/internal/cache"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest = noteservice.NoteInput

// UpdateNoteRequest is the request body for a partial note update.
// Absent fields are left untouched.
type UpdateNoteRequest = models.NoteChanges

// Note is the note response type (aliased from the domain layer).
type Note = models.Note

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []Note `json:"notes" validate:"required"`
}

// CacheMessage is an administrative command for the cache manager.
type CacheMessage struct {
	Type string `json:"type" example:"CLEAR_CACHE" validate:"required"`
}

// Administrative message types.
const (
	MessageClearCache  = "CLEAR_CACHE"
	MessageSkipWaiting = "SKIP_WAITING"
)

// CacheMessageReply acknowledges a CLEAR_CACHE message.
type CacheMessageReply struct {
	Success bool `json:"success" validate:"required"`
}

// CacheStatusResponse reports the cache lifecycle state.
type CacheStatusResponse = cache.Status
