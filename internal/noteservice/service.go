// Package noteservice coordinates note-store operations for the API and MCP
// surfaces: input validation, default colors, and search-term semantics.
package noteservice

import (
	"context"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notestore"
)

// NoteInput is the accepted shape for creating a note.
type NoteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Color   string `json:"color"`
}

// Validate checks the input against the note constraints.
func (in NoteInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Color, validation.Required, validation.In(paletteValues()...)),
	)
}

// Service wraps the note store with domain rules.
type Service struct {
	store notestore.NoteStore
}

// NewService creates a new note service.
func NewService(store notestore.NoteStore) *Service {
	return &Service{store: store}
}

// AddNote validates the input, applies the default color when none is given,
// and inserts the note. The store assigns the id and both timestamps.
func (s *Service) AddNote(ctx context.Context, in NoteInput) (*models.Note, error) {
	if in.Color == "" {
		in.Color = models.DefaultColor
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	return s.store.AddNote(ctx, in.Title, in.Content, in.Color)
}

// GetNote returns a single note by id.
func (s *Service) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	return s.store.GetNote(ctx, id)
}

// ListNotes returns notes with optional color filter and sort order.
func (s *Service) ListNotes(ctx context.Context, opts notestore.ListOptions) ([]models.Note, error) {
	if opts.Color != "" && !models.ValidColor(opts.Color) {
		return nil, fmt.Errorf("%w: unknown color %q", apperr.ErrInvalidInput, opts.Color)
	}
	notes, err := s.store.ListNotes(ctx, opts)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(notes), nil
}

// UpdateNote merges the partial changes over the stored note. A missing id
// fails with ErrNotFound; the store never creates a record on update.
func (s *Service) UpdateNote(ctx context.Context, id int64, changes models.NoteChanges) (*models.Note, error) {
	if changes.Title != nil && strings.TrimSpace(*changes.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", apperr.ErrInvalidInput)
	}
	if changes.Color != nil && !models.ValidColor(*changes.Color) {
		return nil, fmt.Errorf("%w: unknown color %q", apperr.ErrInvalidInput, *changes.Color)
	}
	return s.store.UpdateNote(ctx, id, changes)
}

// DeleteNote removes a note. Deleting an absent id succeeds.
func (s *Service) DeleteNote(ctx context.Context, id int64) error {
	return s.store.DeleteNote(ctx, id)
}

// SearchNotes returns notes whose title or content contains term. An empty
// or whitespace-only term means "no filter" and returns the full collection.
func (s *Service) SearchNotes(ctx context.Context, term string) ([]models.Note, error) {
	if strings.TrimSpace(term) == "" {
		return s.ListNotes(ctx, notestore.ListOptions{})
	}
	notes, err := s.store.SearchNotes(ctx, term)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(notes), nil
}

func paletteValues() []interface{} {
	out := make([]interface{}, len(models.Palette))
	for i, c := range models.Palette {
		out[i] = c
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
