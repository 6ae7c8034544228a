package dropbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TagFile   = "file"
	TagFolder = "folder"
)

// Metadata describes a file or folder as returned by the API
type Metadata struct {
	Tag            string     `json:".tag"`
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	PathLower      string     `json:"path_lower"`
	PathDisplay    string     `json:"path_display"`
	Size           int64      `json:"size,omitempty"`
	Rev            string     `json:"rev,omitempty"`
	ClientModified *time.Time `json:"client_modified,omitempty"`
	ServerModified *time.Time `json:"server_modified,omitempty"`
}

// IsFolder returns true if the metadata describes a folder
func (m *Metadata) IsFolder() bool {
	return m.Tag == TagFolder
}

// Validate checks that the fields required for the tag are present.
func (m *Metadata) Validate() error {
	if m.PathLower == "" {
		return fmt.Errorf("metadata: missing path_lower")
	}
	if m.PathLower != strings.ToLower(m.PathLower) {
		return fmt.Errorf("metadata: path_lower %q is not lowercase", m.PathLower)
	}
	if m.ID == "" {
		return fmt.Errorf("metadata %s: missing id", m.PathLower)
	}
	switch m.Tag {
	case TagFolder:
	case TagFile:
		if m.Rev == "" {
			return fmt.Errorf("metadata %s: file without rev", m.PathLower)
		}
		if m.Size < 0 {
			return fmt.Errorf("metadata %s: negative size", m.PathLower)
		}
	default:
		return fmt.Errorf("metadata %s: unknown tag %q", m.PathLower, m.Tag)
	}
	return nil
}

// WriteMode selects what happens when the commit path already exists.
type WriteMode struct {
	Tag    string `json:".tag"`
	Update string `json:"update,omitempty"`
}

var (
	// WriteModeAdd never overwrites; an existing path is a conflict.
	WriteModeAdd = WriteMode{Tag: "add"}
	// WriteModeOverwrite replaces whatever is at the path.
	WriteModeOverwrite = WriteMode{Tag: "overwrite"}
)

// WriteModeUpdate overwrites only if the existing file is still at rev.
func WriteModeUpdate(rev string) WriteMode {
	return WriteMode{Tag: "update", Update: rev}
}

// ParseWriteMode converts a CLI/config mode name into a WriteMode
func ParseWriteMode(mode, rev string) (WriteMode, error) {
	switch strings.ToLower(mode) {
	case "", "add":
		return WriteModeAdd, nil
	case "overwrite":
		return WriteModeOverwrite, nil
	case "update":
		if rev == "" {
			return WriteMode{}, fmt.Errorf("update mode requires a revision")
		}
		return WriteModeUpdate(rev), nil
	default:
		return WriteMode{}, fmt.Errorf("unknown write mode %q (expected add, overwrite or update)", mode)
	}
}

func (m WriteMode) String() string {
	if m.Tag == "update" {
		return "update:" + m.Update
	}
	return m.Tag
}

// CommitInfo tells the server where and how to store a finished upload
type CommitInfo struct {
	Path           string     `json:"path"`
	Mode           WriteMode  `json:"mode"`
	Autorename     bool       `json:"autorename"`
	ClientModified *time.Time `json:"client_modified,omitempty"`
}

// UploadSessionCursor addresses a position inside an upload session
type UploadSessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

// UploadSessionStartArg is the argument of upload_session/start
type UploadSessionStartArg struct {
	Close bool `json:"close"`
}

// UploadSessionStartResult is the response of upload_session/start
type UploadSessionStartResult struct {
	SessionID string `json:"session_id"`
}

// UploadSessionAppendArg is the argument of upload_session/append
type UploadSessionAppendArg struct {
	Cursor UploadSessionCursor `json:"cursor"`
}

// UploadSessionFinishArg is the argument of upload_session/finish
type UploadSessionFinishArg struct {
	Cursor UploadSessionCursor `json:"cursor"`
	Commit CommitInfo          `json:"commit"`
}

// DownloadArg is the argument of files/download
type DownloadArg struct {
	Path string `json:"path"`
}

// DeltaArg is the argument of files/delta
type DeltaArg struct {
	Cursor     string `json:"cursor,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
}

// DeltaEntry is one change: a lowercased path and its new metadata, or nil
// when the path was deleted. On the wire it is a two element array.
type DeltaEntry struct {
	Path     string
	Metadata *Metadata
}

// MarshalJSON encodes the entry as [path, metadata|null]
func (e DeltaEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Path, e.Metadata})
}

// UnmarshalJSON decodes a [path, metadata|null] pair
func (e *DeltaEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("delta entry: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("delta entry: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Path); err != nil {
		return fmt.Errorf("delta entry path: %w", err)
	}
	e.Metadata = nil
	if string(raw[1]) == "null" {
		return nil
	}
	var md Metadata
	if err := json.Unmarshal(raw[1], &md); err != nil {
		return fmt.Errorf("delta entry metadata: %w", err)
	}
	e.Metadata = &md
	return nil
}

// DeltaResponse represents one page of the change feed
type DeltaResponse struct {
	Entries []DeltaEntry `json:"entries"`
	Reset   bool         `json:"reset"`
	Cursor  string       `json:"cursor"`
	HasMore bool         `json:"has_more"`
}

// Validate checks the page shape: a cursor is always present and every
// entry key is the lowercased path of its metadata.
func (r *DeltaResponse) Validate() error {
	if r.Cursor == "" {
		return fmt.Errorf("delta: missing cursor")
	}
	for i, entry := range r.Entries {
		if entry.Path == "" {
			return fmt.Errorf("delta entry %d: empty path", i)
		}
		if entry.Path != strings.ToLower(entry.Path) {
			return fmt.Errorf("delta entry %d: path %q is not lowercase", i, entry.Path)
		}
		if entry.Metadata == nil {
			continue
		}
		if err := entry.Metadata.Validate(); err != nil {
			return fmt.Errorf("delta entry %d: %w", i, err)
		}
		if entry.Metadata.PathLower != entry.Path {
			return fmt.Errorf("delta entry %d: key %q does not match path_lower %q", i, entry.Path, entry.Metadata.PathLower)
		}
	}
	return nil
}

// LatestCursorArg is the argument of files/delta/latest_cursor
type LatestCursorArg struct {
	PathPrefix string `json:"path_prefix,omitempty"`
}

// LatestCursorResponse is the response of files/delta/latest_cursor
type LatestCursorResponse struct {
	Cursor string `json:"cursor"`
}

// LongPollArg is the argument of files/longpoll_delta
type LongPollArg struct {
	Cursor  string `json:"cursor"`
	Timeout int    `json:"timeout"`
}

// LongPollResponse is the response of files/longpoll_delta.
// Backoff, when present, is the number of seconds to wait before polling again.
type LongPollResponse struct {
	Changes bool `json:"changes"`
	Backoff *int `json:"backoff,omitempty"`
}

// Account represents the authenticated account
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// ErrorEnvelope is the body of every non-2xx response
type ErrorEnvelope struct {
	ErrorSummary string      `json:"error_summary"`
	Error        ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable part of an error response
type ErrorDetail struct {
	Tag           string    `json:".tag"`
	CorrectOffset *int64    `json:"correct_offset,omitempty"`
	Existing      *Metadata `json:"existing,omitempty"`
	Path          string    `json:"path,omitempty"`
}

// Error tags used by the API
const (
	ErrTagConflict        = "conflict"
	ErrTagIncorrectOffset = "incorrect_offset"
	ErrTagCursorScope     = "cursor_scope"
	ErrTagBadCursor       = "bad_cursor"
	ErrTagNotFound        = "not_found"
	ErrTagSessionNotFound = "session_not_found"
	ErrTagSessionClosed   = "session_closed"
	ErrTagInvalidToken    = "invalid_access_token"
	ErrTagBadRequest      = "bad_request"
	ErrTagTooManyRequests = "too_many_requests"
	ErrTagInternal        = "internal_error"
)
