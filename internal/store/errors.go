package store

import (
	"errors"
	"fmt"

	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

var (
	ErrNotFound        = errors.New("path not found")
	ErrInvalidPath     = errors.New("invalid path")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionClosed   = errors.New("upload session already finished")
	ErrBadCursor       = errors.New("malformed cursor")
)

// OffsetError reports an append or finish at the wrong offset.
type OffsetError struct {
	Correct int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("incorrect offset, expected %d", e.Correct)
}

// ConflictError reports that a write could not be applied at Path.
type ConflictError struct {
	Path     string
	Existing *dropbox.Metadata
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at %s", e.Path)
}

// ScopeError reports a cursor used outside the scope it was issued for.
type ScopeError struct {
	CursorScope  string
	RequestScope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("cursor scope %q does not contain %q", e.CursorScope, e.RequestScope)
}
