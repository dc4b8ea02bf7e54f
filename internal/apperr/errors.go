package apperr

import "errors"

var (
	// ErrNotFound is returned when an operation targets a note id that does
	// not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned when the note store cannot be opened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInstallFailed is returned when precaching the static asset set could
	// not complete as a whole.
	ErrInstallFailed = errors.New("install failed")
	// ErrInvalidInput is returned when a note fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
