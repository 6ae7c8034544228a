// Package upload sends files through resumable chunked upload sessions.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/services/retry"
	"github.com/sirupsen/logrus"
)

// Options configures sessions and uploaders
type Options struct {
	Policy retry.Policy
	// TTL bounds the session lifetime on the client side. Zero disables the check.
	TTL     time.Duration
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is one server-side upload session. The server keeps the bytes;
// the session tracks how many of them are committed. A Session is owned by
// a single goroutine.
type Session struct {
	client    dropbox.ClientAPI
	opts      Options
	id        string
	committed int64
	chunkSize int
	started   time.Time
	finished  bool
}

// NewSession creates a session that is opened on first use
func NewSession(client dropbox.ClientAPI, opts Options) *Session {
	return &Session{client: client, opts: opts.withDefaults()}
}

// ResumeSession continues a session from a checkpoint
func ResumeSession(client dropbox.ClientAPI, cp Checkpoint, opts Options) *Session {
	s := NewSession(client, opts)
	s.id = cp.SessionID
	s.committed = cp.Offset
	s.chunkSize = cp.ChunkSize
	s.started = cp.Started
	if s.started.IsZero() {
		s.started = s.opts.Now()
	}
	return s
}

// ID returns the server handle, empty before Start
func (s *Session) ID() string { return s.id }

// Committed returns the number of bytes the server has acknowledged
func (s *Session) Committed() int64 { return s.committed }

// Finished reports whether the session was committed to a path
func (s *Session) Finished() bool { return s.finished }

// Checkpoint returns the state needed to resume the session
func (s *Session) Checkpoint() Checkpoint {
	return Checkpoint{
		SessionID: s.id,
		Offset:    s.committed,
		ChunkSize: s.chunkSize,
		Started:   s.started,
	}
}

func (s *Session) String() string {
	id := s.id
	if id == "" {
		id = "new"
	} else if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("[%s]", id)
}

func (s *Session) fail(err error) error {
	return &Error{SessionID: s.id, Offset: s.committed, Err: err}
}

// do runs fn under the retry policy, logging and counting every retry
func (s *Session) do(ctx context.Context, op string, fn func(attempt int) error) error {
	policy := s.opts.Policy
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		kind := retry.KindOf(err)
		s.opts.Logger.Warnf("%s: %s attempt %d failed (%s), retrying in %s: %v", s, op, attempt+1, kind, delay, err)
		s.opts.Metrics.RecordRetry(op, kind.String())
		if next != nil {
			next(attempt, err, delay)
		}
	}
	return policy.Do(ctx, fn)
}

// Start opens the session on the server. It is a no-op once a handle exists.
func (s *Session) Start(ctx context.Context) error {
	if s.id != "" {
		return nil
	}
	var id string
	err := s.do(ctx, "upload_session/start", func(int) error {
		var err error
		id, err = s.client.UploadSessionStart(ctx)
		return err
	})
	if err != nil {
		return s.fail(err)
	}
	s.id = id
	s.started = s.opts.Now()
	s.opts.Logger.Debugf("%s: session started", s)
	return nil
}

func (s *Session) expired() bool {
	return s.opts.TTL > 0 && !s.started.IsZero() && s.opts.Now().Sub(s.started) > s.opts.TTL
}

// checkChunk enforces ordering and the session state before any network call
func (s *Session) checkChunk(c Chunk) error {
	if s.finished {
		return ErrSessionFinished
	}
	if c.Offset != s.committed {
		return fmt.Errorf("%w: got %d, committed %d", ErrOutOfOrderChunk, c.Offset, s.committed)
	}
	if s.expired() {
		return fmt.Errorf("%w: started %s ago", ErrSessionExpired, s.opts.Now().Sub(s.started).Round(time.Second))
	}
	return nil
}

// AppendChunk sends a non-final chunk. Retries resend the same bytes. A retry
// that finds the server already past the chunk counts it as appended once.
func (s *Session) AppendChunk(ctx context.Context, c Chunk) error {
	if c.Final {
		return ErrFinalChunk
	}
	if err := s.checkChunk(c); err != nil {
		return err
	}
	if len(c.Data) == 0 {
		return ErrEmptyChunk
	}
	if s.chunkSize != 0 && len(c.Data) != s.chunkSize {
		return fmt.Errorf("%w: got %d bytes, session uses %d", ErrChunkSizeChanged, len(c.Data), s.chunkSize)
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	end := c.Offset + int64(len(c.Data))
	recovered := false
	err := s.do(ctx, "upload_session/append", func(attempt int) error {
		err := s.client.UploadSessionAppend(ctx, s.id, c.Offset, c.Data)
		var offErr *dropbox.IncorrectOffsetError
		if attempt > 0 && errors.As(err, &offErr) && offErr.CorrectOffset == end {
			recovered = true
			return nil
		}
		return err
	})
	if err != nil {
		s.opts.Metrics.RecordChunk("failed", 0)
		return s.fail(err)
	}

	s.chunkSize = len(c.Data)
	s.committed = end
	if recovered {
		s.opts.Logger.Debugf("%s: chunk at %d was committed by an earlier attempt", s, c.Offset)
		s.opts.Metrics.RecordChunk("recovered", len(c.Data))
	} else {
		s.opts.Metrics.RecordChunk("ok", len(c.Data))
	}
	return nil
}

// Finish sends the final chunk and commits the session content to a path.
// The final chunk may be shorter than the session chunk size, or empty.
func (s *Session) Finish(ctx context.Context, c Chunk, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	if !c.Final {
		return nil, ErrNotFinalChunk
	}
	if err := s.checkChunk(c); err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	var meta *dropbox.Metadata
	err := s.do(ctx, "upload_session/finish", func(int) error {
		var err error
		meta, err = s.client.UploadSessionFinish(ctx, s.id, c.Offset, c.Data, commit)
		return err
	})
	if err != nil {
		s.opts.Metrics.RecordChunk("failed", 0)
		return nil, s.fail(err)
	}

	s.committed = c.Offset + int64(len(c.Data))
	s.finished = true
	s.opts.Metrics.RecordChunk("ok", len(c.Data))
	s.opts.Logger.Debugf("%s: committed %d bytes to %s (rev %s)", s, s.committed, meta.PathDisplay, meta.Rev)
	return meta, nil
}
