package notestore

import (
	"context"

	"github.com/starford/laguz/internal/models"
)

// NoteStore defines the interface for note persistence operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteStore interface {
	AddNote(ctx context.Context, title, content, color string) (*models.Note, error)
	GetNote(ctx context.Context, id int64) (*models.Note, error)
	ListNotes(ctx context.Context, opts ListOptions) ([]models.Note, error)
	UpdateNote(ctx context.Context, id int64, changes models.NoteChanges) (*models.Note, error)
	DeleteNote(ctx context.Context, id int64) error
	SearchNotes(ctx context.Context, term string) ([]models.Note, error)
	Close() error
}

// Verify *DB satisfies NoteStore at compile time.
var _ NoteStore = (*DB)(nil)
