package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/ochronus/goboxsync/internal/metrics"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/services/retry"
	"github.com/sirupsen/logrus"
)

// Options configures pagers, watchers and followers
type Options struct {
	Policy  retry.Policy
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	// Slack is added to the long-poll timeout to bound a single wait
	Slack time.Duration
}

// DefaultSlack is the network allowance added to every long-poll wait
const DefaultSlack = 10 * time.Second

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Slack <= 0 {
		o.Slack = DefaultSlack
	}
	return o
}

// Page is one page of the change feed
type Page struct {
	Entries []dropbox.DeltaEntry
	HasMore bool
	Reset   bool
	Next    Cursor
}

// PageError reports a failed sweep together with the last cursor whose page
// was fully applied. Resuming from LastGood loses nothing.
type PageError struct {
	LastGood Cursor
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("delta sweep of %s stopped: %v", e.LastGood.Scope, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Pager walks the change feed one page at a time. A Pager holds no cursor
// state; every call takes the cursor to advance.
type Pager struct {
	client dropbox.ClientAPI
	opts   Options
}

// NewPager creates a new pager
func NewPager(client dropbox.ClientAPI, opts Options) *Pager {
	return &Pager{client: client, opts: opts.withDefaults()}
}

func (p *Pager) do(ctx context.Context, op string, scope Scope, fn func(attempt int) error) error {
	policy := p.opts.Policy
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		kind := retry.KindOf(err)
		p.opts.Logger.Warnf("[%s] %s attempt %d failed (%s), retrying in %s: %v", scope, op, attempt+1, kind, delay, err)
		p.opts.Metrics.RecordRetry(op, kind.String())
		if next != nil {
			next(attempt, err, delay)
		}
	}
	return policy.Do(ctx, fn)
}

// FetchPage fetches the page following cursor. The cursor may only be used
// with its own scope or a deeper one; anything else fails before any request
// is made. The returned page's cursor carries the requested scope.
func (p *Pager) FetchPage(ctx context.Context, cursor Cursor, scope Scope) (*Page, error) {
	if !cursor.IsZero() && !cursor.Scope.Contains(scope) {
		return nil, &dropbox.ScopeViolationError{CursorScope: string(cursor.Scope), RequestScope: string(scope)}
	}

	var resp *dropbox.DeltaResponse
	err := p.do(ctx, "files/delta", scope, func(int) error {
		var err error
		resp, err = p.client.Delta(ctx, cursor.Token, string(scope))
		return err
	})
	if err != nil {
		return nil, err
	}

	for i, entry := range resp.Entries {
		if !scope.ContainsPath(entry.Path) {
			return nil, &dropbox.MalformedResponseError{
				Op:  "files/delta",
				Err: fmt.Errorf("entry %d: path %q is outside scope %s", i, entry.Path, scope),
			}
		}
	}

	p.opts.Metrics.RecordPage(len(resp.Entries), resp.Reset)
	p.opts.Logger.Debugf("[%s] page: %d entries, reset=%t, has_more=%t", scope, len(resp.Entries), resp.Reset, resp.HasMore)
	return &Page{
		Entries: resp.Entries,
		HasMore: resp.HasMore,
		Reset:   resp.Reset,
		Next:    Cursor{Token: resp.Cursor, Scope: scope},
	}, nil
}

// LatestCursor returns a cursor positioned at the current end of the feed,
// skipping the history replay
func (p *Pager) LatestCursor(ctx context.Context, scope Scope) (Cursor, error) {
	var token string
	err := p.do(ctx, "files/delta/latest_cursor", scope, func(int) error {
		var err error
		token, err = p.client.DeltaLatestCursor(ctx, string(scope))
		return err
	})
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{Token: token, Scope: scope}, nil
}

// SweepResult summarizes a completed sweep
type SweepResult struct {
	Cursor  Cursor
	Pages   int
	Entries int
	Reset   bool
}

// Sweep pages from cursor until the feed reports no more entries, applying
// each page to mirror. On failure it returns a *PageError carrying the
// cursor after the last applied page.
func (p *Pager) Sweep(ctx context.Context, cursor Cursor, scope Scope, mirror *Mirror) (*SweepResult, error) {
	result := &SweepResult{Cursor: cursor}
	for {
		page, err := p.FetchPage(ctx, result.Cursor, scope)
		if err != nil {
			return result, &PageError{LastGood: result.Cursor, Err: err}
		}
		mirror.Apply(page)
		result.Cursor = page.Next
		result.Pages++
		result.Entries += len(page.Entries)
		result.Reset = result.Reset || page.Reset
		if !page.HasMore {
			return result, nil
		}
	}
}
