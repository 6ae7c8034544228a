package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

// DefaultChunkSize is used when an Uploader is created without one
const DefaultChunkSize = 4 << 20

// Uploader streams readers into upload sessions
type Uploader struct {
	client    dropbox.ClientAPI
	chunkSize int
	opts      Options
}

// NewUploader creates an uploader sending chunkSize byte chunks
func NewUploader(client dropbox.ClientAPI, chunkSize int, opts Options) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Uploader{client: client, chunkSize: chunkSize, opts: opts.withDefaults()}
}

// Upload reads r to the end and commits it. One chunk is read ahead so the
// last chunk goes out with the commit; an empty stream is a single empty finish.
func (u *Uploader) Upload(ctx context.Context, r io.Reader, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	return u.run(ctx, NewSession(u.client, u.opts), r, u.chunkSize, commit)
}

// Resume continues an interrupted upload. r is positioned at the checkpoint
// offset before reading.
func (u *Uploader) Resume(ctx context.Context, cp Checkpoint, r io.ReadSeeker, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	if cp.SessionID == "" {
		return nil, errors.New("checkpoint has no session id")
	}
	if _, err := r.Seek(cp.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to offset %d: %w", cp.Offset, err)
	}
	chunkSize := cp.ChunkSize
	if chunkSize <= 0 {
		chunkSize = u.chunkSize
	}
	return u.run(ctx, ResumeSession(u.client, cp, u.opts), r, chunkSize, commit)
}

// UploadFile uploads a local file, stamping its modification time on the commit
func (u *Uploader) UploadFile(ctx context.Context, localPath string, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if commit.ClientModified == nil {
		if info, err := f.Stat(); err == nil {
			mtime := info.ModTime().UTC().Truncate(time.Second)
			commit.ClientModified = &mtime
		}
	}
	return u.Upload(ctx, f, commit)
}

func (u *Uploader) run(ctx context.Context, sess *Session, r io.Reader, chunkSize int, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	start := u.opts.Now()
	meta, chunks, err := u.send(ctx, sess, r, chunkSize, commit)
	elapsed := u.opts.Now().Sub(start)
	if err != nil {
		u.opts.Metrics.RecordUpload("failed", elapsed)
		u.opts.Logger.Errorf("%s: upload to %s failed: %v", sess, commit.Path, err)
		return nil, err
	}
	u.opts.Metrics.RecordUpload("ok", elapsed)
	u.opts.Logger.Infof("%s: uploaded %s (%d bytes, %d chunks, %s)", sess, meta.PathDisplay, meta.Size, chunks, elapsed.Round(time.Millisecond))
	return meta, nil
}

func (u *Uploader) send(ctx context.Context, sess *Session, r io.Reader, chunkSize int, commit dropbox.CommitInfo) (*dropbox.Metadata, int, error) {
	bufs := [2][]byte{make([]byte, chunkSize), make([]byte, chunkSize)}
	offset := sess.Committed()
	chunks := 0

	cur, eof, err := readChunk(r, bufs[0])
	if err != nil {
		return nil, 0, readFailed(sess, err)
	}
	which := 0
	for !eof {
		which ^= 1
		next, nextEOF, err := readChunk(r, bufs[which])
		if err != nil {
			return nil, chunks, readFailed(sess, err)
		}
		if nextEOF && len(next) == 0 {
			break
		}
		if err := sess.AppendChunk(ctx, Chunk{Data: cur, Offset: offset}); err != nil {
			return nil, chunks, err
		}
		chunks++
		offset += int64(len(cur))
		cur, eof = next, nextEOF
	}

	meta, err := sess.Finish(ctx, Chunk{Data: cur, Offset: offset, Final: true}, commit)
	if err != nil {
		return nil, chunks, err
	}
	return meta, chunks + 1, nil
}

// readFailed keeps the session position on a source error once a session is open
func readFailed(sess *Session, err error) error {
	if sess.ID() == "" {
		return err
	}
	return sess.fail(err)
}

// readChunk fills buf from r; eof reports that the stream ended in or right after it
func readChunk(r io.Reader, buf []byte) ([]byte, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return buf[:n], false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil
	default:
		return nil, false, fmt.Errorf("reading source: %w", err)
	}
}
