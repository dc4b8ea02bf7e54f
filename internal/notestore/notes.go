package notestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/models"
)

const noteColumns = "id, title, content, color, created_at, updated_at"

// ListOptions controls optional filtering and ordering for ListNotes.
// The zero value returns the full collection in unspecified order.
type ListOptions struct {
	Color  string // filter by palette color, empty for all
	Sort   string // "updated_at", "created_at" (both newest first) or "title"
	Limit  int
	Offset int
}

// AddNote inserts a new note, stamping both timestamps to the current time,
// and returns the stored record with its assigned id. Ids are issued
// monotonically and never reused, even after deletes.
func (db *DB) AddNote(ctx context.Context, title, content, color string) (*models.Note, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (title, content, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, title, content, color, now, now)
	if err != nil {
		return nil, fmt.Errorf("notestore: add note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("notestore: last insert id: %w", err)
	}
	return &models.Note{
		ID:        id,
		Title:     title,
		Content:   content,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetNote returns the note with the given id, or ErrNotFound.
func (db *DB) GetNote(ctx context.Context, id int64) (*models.Note, error) {
	var n models.Note
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Title, &n.Content, &n.Color, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notestore: get note: %w", err)
	}
	return &n, nil
}

// ListNotes returns notes matching opts. Ordering is unspecified unless a
// sort field is requested; display ordering is the caller's concern.
func (db *DB) ListNotes(ctx context.Context, opts ListOptions) ([]models.Note, error) {
	qb := sq.Select("id", "title", "content", "color", "created_at", "updated_at").From("notes")

	if opts.Color != "" {
		qb = qb.Where(sq.Eq{"color": opts.Color})
	}
	switch opts.Sort {
	case "updated_at":
		qb = qb.OrderBy("updated_at DESC")
	case "created_at":
		qb = qb.OrderBy("created_at DESC")
	case "title":
		qb = qb.OrderBy("title COLLATE NOCASE ASC")
	}
	if opts.Limit > 0 {
		qb = qb.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		qb = qb.Offset(uint64(opts.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("notestore: build list query: %w", err)
	}
	return db.queryNotes(ctx, query, args...)
}

// UpdateNote merges changes over the existing record inside one transaction,
// re-stamps updated_at, and returns the merged record. A missing id fails
// with ErrNotFound; an update never creates a record. The read-then-write is
// last-writer-wins against a concurrent update to the same id.
func (db *DB) UpdateNote(ctx context.Context, id int64, changes models.NoteChanges) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("notestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n models.Note
	err = tx.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`, id,
	).Scan(&n.ID, &n.Title, &n.Content, &n.Color, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notestore: read for update: %w", err)
	}

	if changes.Title != nil {
		n.Title = *changes.Title
	}
	if changes.Content != nil {
		n.Content = *changes.Content
	}
	if changes.Color != nil {
		n.Color = *changes.Color
	}
	n.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, color = ?, updated_at = ?
		WHERE id = ?
	`, n.Title, n.Content, n.Color, n.UpdatedAt, n.ID)
	if err != nil {
		return nil, fmt.Errorf("notestore: write update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("notestore: commit update: %w", err)
	}
	return &n, nil
}

// DeleteNote removes the note with the given id. Deleting an absent id is
// not an error.
func (db *DB) DeleteNote(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("notestore: delete note: %w", err)
	}
	return nil
}

// SearchNotes returns notes whose title or content contains term,
// case-insensitively. Both sides are folded by SQLite's lower(), so folding
// is symmetric: ASCII matches ignore case, and an exact-case term always
// matches regardless of alphabet. The scan runs over the full collection
// rather than a text index.
func (db *DB) SearchNotes(ctx context.Context, term string) ([]models.Note, error) {
	pattern := escapeLike(term)

	qb := sq.Select("id", "title", "content", "color", "created_at", "updated_at").
		From("notes").
		Where(sq.Or{
			sq.Expr(`lower(title) LIKE '%' || lower(?) || '%' ESCAPE '\'`, pattern),
			sq.Expr(`lower(content) LIKE '%' || lower(?) || '%' ESCAPE '\'`, pattern),
		})

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("notestore: build search query: %w", err)
	}
	return db.queryNotes(ctx, query, args...)
}

func (db *DB) queryNotes(ctx context.Context, query string, args ...any) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notestore: query notes: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.Color, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("notestore: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
