package upload

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOutOfOrderChunk  = errors.New("chunk offset does not match committed offset")
	ErrChunkSizeChanged = errors.New("non-final chunk size differs from the session chunk size")
	ErrEmptyChunk       = errors.New("non-final chunk is empty")
	ErrFinalChunk       = errors.New("final chunk must be sent with Finish")
	ErrNotFinalChunk    = errors.New("chunk passed to Finish is not marked final")
	ErrSessionFinished  = errors.New("upload session already finished")
	ErrSessionExpired   = errors.New("upload session expired")
)

// Chunk is a contiguous slice of the source stream
type Chunk struct {
	Data   []byte
	Offset int64
	Final  bool
}

// Checkpoint is what a caller persists to resume a session later
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Offset    int64     `json:"offset"`
	ChunkSize int       `json:"chunk_size"`
	Started   time.Time `json:"started"`
}

// Error is a terminal upload failure. Offset is the last committed offset,
// so the session can be resumed from there when the cause allows it.
type Error struct {
	SessionID string
	Offset    int64
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("upload failed before a session was opened: %v", e.Err)
	}
	return fmt.Sprintf("upload session %s failed at offset %d: %v", e.SessionID, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
