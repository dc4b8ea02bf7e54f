// Package models defines the domain types for Laguz.
package models

import "time"

// Note is the user-visible unit of data.
type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteChanges carries a partial update. Nil fields are left untouched.
type NoteChanges struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Color   *string `json:"color,omitempty"`
}

// Palette is the fixed set of note colors.
var Palette = []string{"yellow", "green", "blue", "pink", "purple", "gray"}

// DefaultColor is assigned when a new note carries no color.
const DefaultColor = "yellow"

// ValidColor reports whether c is part of the palette.
func ValidColor(c string) bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}
