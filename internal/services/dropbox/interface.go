package dropbox

import (
	"context"
	"io"
)

// ClientAPI defines the methods required to interact with the remote store.
// It mirrors the concrete client so it can be mocked in tests.
type ClientAPI interface {
	GetCurrentAccount(ctx context.Context) (*Account, error)
	UploadSessionStart(ctx context.Context) (string, error)
	UploadSessionAppend(ctx context.Context, sessionID string, offset int64, data []byte) error
	UploadSessionFinish(ctx context.Context, sessionID string, offset int64, data []byte, commit CommitInfo) (*Metadata, error)
	Download(ctx context.Context, path string) (io.ReadCloser, *Metadata, error)
	Delta(ctx context.Context, cursor, pathPrefix string) (*DeltaResponse, error)
	DeltaLatestCursor(ctx context.Context, pathPrefix string) (string, error)
	LongPollDelta(ctx context.Context, cursor string, timeoutSec int) (*LongPollResponse, error)
}
