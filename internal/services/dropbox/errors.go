package dropbox

import (
	"fmt"
	"time"

	"github.com/ochronus/goboxsync/internal/services/retry"
)

// TransientNetworkError is a failure that may succeed when tried again:
// transport errors and 5xx responses other than 503.
type TransientNetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientNetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient server error: %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: transient network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error          { return e.Err }
func (e *TransientNetworkError) Kind() retry.ErrorKind { return retry.KindTransientNetwork }

// ServerOverloadedError reports rate limiting (429) or unavailability (503).
// Delay is the server-suggested wait, zero if none was given.
type ServerOverloadedError struct {
	Op     string
	Status int
	Delay  time.Duration
}

func (e *ServerOverloadedError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("%s: server overloaded (%d), retry after %s", e.Op, e.Status, e.Delay)
	}
	return fmt.Sprintf("%s: server overloaded (%d)", e.Op, e.Status)
}

func (e *ServerOverloadedError) Kind() retry.ErrorKind      { return retry.KindServerOverloaded }
func (e *ServerOverloadedError) RetryAfter() time.Duration { return e.Delay }

// ConflictError is returned when the commit path is taken. Existing holds the
// metadata of what is there, when the server reported it.
type ConflictError struct {
	Path     string
	Existing *Metadata
	Summary  string
}

func (e *ConflictError) Error() string {
	if e.Existing != nil && e.Existing.Rev != "" {
		return fmt.Sprintf("conflict at %s (existing rev %s)", e.Path, e.Existing.Rev)
	}
	return fmt.Sprintf("conflict at %s", e.Path)
}

func (e *ConflictError) Kind() retry.ErrorKind { return retry.KindConflict }

// ScopeViolationError is returned when a cursor is used with a path prefix
// that is not its own scope or a descendant of it.
type ScopeViolationError struct {
	CursorScope  string
	RequestScope string
}

func (e *ScopeViolationError) Error() string {
	return fmt.Sprintf("cursor scoped to %q cannot be used with path prefix %q", display(e.CursorScope), display(e.RequestScope))
}

func (e *ScopeViolationError) Kind() retry.ErrorKind { return retry.KindScopeViolation }

func display(scope string) string {
	if scope == "" {
		return "/"
	}
	return scope
}

// AuthError reports a rejected or missing access token.
type AuthError struct {
	Summary string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Summary)
}

func (e *AuthError) Kind() retry.ErrorKind { return retry.KindAuth }

// MalformedResponseError is returned when a response body does not decode
// into, or validate as, the expected shape.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error          { return e.Err }
func (e *MalformedResponseError) Kind() retry.ErrorKind { return retry.KindMalformedResponse }

// BadRequestError is a 400 the server attributes to the request itself.
type BadRequestError struct {
	Op      string
	Tag     string
	Summary string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("%s: bad request: %s", e.Op, e.Summary)
}

func (e *BadRequestError) Kind() retry.ErrorKind { return retry.KindBadRequest }

// IncorrectOffsetError is returned by append/finish when the offset does not
// match what the server has committed for the session.
type IncorrectOffsetError struct {
	CorrectOffset int64
}

func (e *IncorrectOffsetError) Error() string {
	return fmt.Sprintf("incorrect upload offset, server has %d", e.CorrectOffset)
}

func (e *IncorrectOffsetError) Kind() retry.ErrorKind { return retry.KindBadRequest }

// APIError is any other non-2xx response.
type APIError struct {
	Op      string
	Status  int
	Tag     string
	Summary string
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("%s: %d: %s", e.Op, e.Status, e.Summary)
	}
	return fmt.Sprintf("%s: %d", e.Op, e.Status)
}

func (e *APIError) Kind() retry.ErrorKind { return retry.KindUnknown }

// IsNotFound returns true if the server reported a missing path or session
func (e *APIError) IsNotFound() bool {
	return e.Tag == ErrTagNotFound || e.Tag == ErrTagSessionNotFound
}
