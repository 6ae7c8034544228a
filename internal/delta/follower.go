package delta

import (
	"context"
	"errors"
	"time"

	"github.com/ochronus/goboxsync/internal/services/retry"
)

// ChangeFunc is called after every sweep that changed the mirror.
// Returning an error stops the follower.
type ChangeFunc func(result *SweepResult, mirror *Mirror) error

// Follower keeps a mirror in step with the change feed: sweep, long-poll,
// sweep again when changes arrive
type Follower struct {
	pager   *Pager
	watcher *Watcher
	timeout time.Duration
	opts    Options
}

// NewFollower creates a follower polling with the given long-poll timeout
func NewFollower(pager *Pager, watcher *Watcher, timeout time.Duration, opts Options) *Follower {
	return &Follower{pager: pager, watcher: watcher, timeout: timeout, opts: opts.withDefaults()}
}

// Run follows the feed from cursor until ctx is cancelled or a fatal error
// occurs. Transient failures back off with the retry policy and resume from
// the last good cursor.
func (f *Follower) Run(ctx context.Context, cursor Cursor, scope Scope, mirror *Mirror, onChange ChangeFunc) error {
	failures := 0
	for {
		result, err := f.pager.Sweep(ctx, cursor, scope, mirror)
		if result != nil {
			cursor = result.Cursor
		}
		if err != nil {
			if !f.recoverable(err) {
				return err
			}
			failures++
			if err := f.backoff(ctx, failures, err); err != nil {
				return err
			}
			continue
		}
		failures = 0
		f.opts.Logger.Infof("[%s] synced: %d entries over %d pages, %d paths tracked", scope, result.Entries, result.Pages, mirror.Len())
		if onChange != nil && (result.Entries > 0 || result.Reset) {
			if err := onChange(result, mirror); err != nil {
				return err
			}
		}

		if err := f.waitForChanges(ctx, cursor); err != nil {
			return err
		}
	}
}

// waitForChanges long-polls until the feed moves past cursor
func (f *Follower) waitForChanges(ctx context.Context, cursor Cursor) error {
	failures := 0
	for {
		res, err := f.watcher.Wait(ctx, cursor, f.timeout)
		if err != nil {
			if !f.recoverable(err) {
				return err
			}
			failures++
			if err := f.backoff(ctx, failures, err); err != nil {
				return err
			}
			continue
		}
		failures = 0
		if res.Backoff > 0 {
			f.opts.Logger.Debugf("[%s] server asked to back off for %s", cursor.Scope, res.Backoff)
			if err := sleepContext(ctx, res.Backoff); err != nil {
				return err
			}
		}
		if res.ChangesAvailable {
			return nil
		}
	}
}

func (f *Follower) recoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return retry.KindOf(err).Retryable()
}

func (f *Follower) backoff(ctx context.Context, failures int, err error) error {
	delay, ok := retry.SuggestedDelay(err)
	if !ok {
		delay = f.opts.Policy.BackoffDuration(failures)
	}
	f.opts.Logger.Warnf("follower: %v, retrying in %s", err, delay)
	return sleepContext(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
