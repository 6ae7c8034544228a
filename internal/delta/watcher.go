package delta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

// Timeout limits accepted by the notify endpoint
const (
	MaxPollTimeout     = 480 * time.Second
	DefaultPollTimeout = 30 * time.Second
)

var (
	// ErrNoCursor is returned when waiting without a cursor from the delta feed
	ErrNoCursor = errors.New("long-poll requires a cursor")
	// ErrInvalidTimeout is returned for a timeout outside the accepted range
	ErrInvalidTimeout = errors.New("long-poll timeout must be between 1 and 480 seconds")
)

// WaitResult is the outcome of one long-poll. No changes is a normal result.
type WaitResult struct {
	ChangesAvailable bool
	// Backoff is how long the server asks the caller to wait before polling again
	Backoff time.Duration
}

// Watcher blocks until the change feed moves past a cursor
type Watcher struct {
	client dropbox.ClientAPI
	opts   Options
}

// NewWatcher creates a new watcher
func NewWatcher(client dropbox.ClientAPI, opts Options) *Watcher {
	return &Watcher{client: client, opts: opts.withDefaults()}
}

// Wait long-polls for changes past cursor. The call never outlives
// timeout plus the configured slack; reaching that bound is reported as no
// changes. The cursor is not advanced.
func (w *Watcher) Wait(ctx context.Context, cursor Cursor, timeout time.Duration) (*WaitResult, error) {
	if cursor.IsZero() {
		return nil, ErrNoCursor
	}
	if timeout == 0 {
		timeout = DefaultPollTimeout
	}
	secs := int(timeout / time.Second)
	if secs < 1 || timeout > MaxPollTimeout {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidTimeout, timeout)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout+w.opts.Slack)
	defer cancel()

	w.opts.Logger.Debugf("[%s] waiting up to %s for changes", cursor.Scope, timeout)
	resp, err := w.client.LongPollDelta(waitCtx, cursor.Token, secs)
	if err != nil {
		if ctx.Err() != nil {
			w.opts.Metrics.RecordLongPoll("cancelled")
			return nil, ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			w.opts.Logger.Warnf("[%s] long-poll exceeded %s, treating as no changes", cursor.Scope, timeout+w.opts.Slack)
			w.opts.Metrics.RecordLongPoll("timeout")
			return &WaitResult{}, nil
		}
		w.opts.Metrics.RecordLongPoll("error")
		return nil, err
	}

	result := &WaitResult{ChangesAvailable: resp.Changes}
	if resp.Backoff != nil {
		result.Backoff = time.Duration(*resp.Backoff) * time.Second
	}
	if result.ChangesAvailable {
		w.opts.Metrics.RecordLongPoll("changes")
	} else {
		w.opts.Metrics.RecordLongPoll("timeout")
	}
	return result, nil
}
