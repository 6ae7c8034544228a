package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ochronus/goboxsync/internal/services/retry"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com"
	DefaultContentURL = "https://content.dropboxapi.com"
	DefaultNotifyURL  = "https://notify.dropboxapi.com"

	timeout = 30 * time.Second

	APIArgHeader    = "Dropbox-API-Arg"
	APIResultHeader = "Dropbox-API-Result"

	maxErrorBody = 64 << 10
)

// Client represents a Dropbox-style API client. It only moves bytes and
// typed values; retry decisions belong to the callers.
type Client struct {
	apiToken     string
	apiURL       string
	contentURL   string
	notifyURL    string
	httpClient   *http.Client
	notifyClient *http.Client
}

var _ ClientAPI = (*Client)(nil)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithEndpoints overrides the three API hosts. Empty values keep the default.
func WithEndpoints(apiURL, contentURL, notifyURL string) ClientOption {
	return func(c *Client) {
		if apiURL != "" {
			c.apiURL = strings.TrimRight(apiURL, "/")
		}
		if contentURL != "" {
			c.contentURL = strings.TrimRight(contentURL, "/")
		}
		if notifyURL != "" {
			c.notifyURL = strings.TrimRight(notifyURL, "/")
		}
	}
}

// WithTimeout sets the per-request timeout for RPC and content calls.
// Long-poll calls are bounded by their context instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying transport client. The long-poll
// client shares its transport but never carries a timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc == nil {
			return
		}
		c.httpClient = hc
		c.notifyClient = &http.Client{Transport: hc.Transport}
	}
}

// NewClient creates a new API client
func NewClient(apiToken string, opts ...ClientOption) *Client {
	c := &Client{
		apiToken:     apiToken,
		apiURL:       DefaultAPIURL,
		contentURL:   DefaultContentURL,
		notifyURL:    DefaultNotifyURL,
		httpClient:   &http.Client{Timeout: timeout},
		notifyClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest executes a POST with optional authorization and API argument header
func (c *Client) doRequest(ctx context.Context, hc *http.Client, op, url string, body io.Reader, contentType string, arg any, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if auth {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if arg != nil {
		encoded, err := HeaderJSON(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: encoding argument: %w", op, err)
		}
		req.Header.Set(APIArgHeader, encoded)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, &TransientNetworkError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(op, resp)
	}
	return resp, nil
}

// rpc posts a JSON argument and decodes a JSON result
func (c *Client) rpc(ctx context.Context, hc *http.Client, op, url string, arg, result any, auth bool) error {
	payload, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("%s: encoding argument: %w", op, err)
	}

	resp, err := c.doRequest(ctx, hc, op, url, bytes.NewReader(payload), "application/json", nil, auth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(ctx, op, resp.Body, result)
}

// content posts raw bytes with the argument in the header and decodes a JSON result
func (c *Client) content(ctx context.Context, op, url string, arg any, data []byte, result any) error {
	resp, err := c.doRequest(ctx, c.httpClient, op, url, bytes.NewReader(data), "application/octet-stream", arg, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeJSON(ctx, op, resp.Body, result)
}

func decodeJSON(ctx context.Context, op string, r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &TransientNetworkError{Op: op, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &MalformedResponseError{Op: op, Err: err}
	}
	return nil
}

// errorFromResponse maps a non-2xx response onto the error taxonomy
func errorFromResponse(op string, resp *http.Response) error {
	var envelope ErrorEnvelope
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) > 0 {
		_ = json.Unmarshal(body, &envelope)
	}
	summary := envelope.ErrorSummary
	if summary == "" {
		summary = strings.TrimSpace(string(body))
	}
	if summary == "" {
		summary = resp.Status
	}
	tag := envelope.Error.Tag

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Summary: summary}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &ServerOverloadedError{
			Op:     op,
			Status: resp.StatusCode,
			Delay:  retry.RetryAfterDelay(resp.Header.Get("Retry-After"), 0),
		}
	case resp.StatusCode >= 500:
		return &TransientNetworkError{Op: op, Status: resp.StatusCode, Err: errors.New(summary)}
	case resp.StatusCode == http.StatusBadRequest && tag == ErrTagCursorScope:
		return &ScopeViolationError{CursorScope: envelope.Error.Path}
	case resp.StatusCode == http.StatusBadRequest:
		return &BadRequestError{Op: op, Tag: tag, Summary: summary}
	case resp.StatusCode == http.StatusConflict && tag == ErrTagConflict:
		return &ConflictError{Path: envelope.Error.Path, Existing: envelope.Error.Existing, Summary: summary}
	case resp.StatusCode == http.StatusConflict && tag == ErrTagIncorrectOffset && envelope.Error.CorrectOffset != nil:
		return &IncorrectOffsetError{CorrectOffset: *envelope.Error.CorrectOffset}
	default:
		return &APIError{Op: op, Status: resp.StatusCode, Tag: tag, Summary: summary}
	}
}

// HeaderJSON encodes v as JSON with every non-ASCII rune escaped, so it
// can travel in an HTTP header.
func HeaderJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		if r < 0x7f {
			b.WriteRune(r)
			continue
		}
		if r > 0xffff {
			r1, r2 := utf16Pair(r)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", r1, r2)
			continue
		}
		fmt.Fprintf(&b, "\\u%04x", r)
	}
	return b.String(), nil
}

func utf16Pair(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r>>10)&0x3ff, 0xdc00 + r&0x3ff
}

// GetCurrentAccount retrieves the account the token belongs to
func (c *Client) GetCurrentAccount(ctx context.Context) (*Account, error) {
	const op = "users/get_current_account"
	var result Account
	if err := c.rpc(ctx, c.httpClient, op, c.apiURL+"/2/users/get_current_account", struct{}{}, &result, true); err != nil {
		return nil, err
	}
	if result.AccountID == "" {
		return nil, &MalformedResponseError{Op: op, Err: errors.New("missing account_id")}
	}
	return &result, nil
}

// UploadSessionStart opens a new upload session and returns its handle
func (c *Client) UploadSessionStart(ctx context.Context) (string, error) {
	const op = "upload_session/start"
	var result UploadSessionStartResult
	if err := c.content(ctx, op, c.contentURL+"/2/files/upload_session/start", UploadSessionStartArg{}, nil, &result); err != nil {
		return "", err
	}
	if result.SessionID == "" {
		return "", &MalformedResponseError{Op: op, Err: errors.New("missing session_id")}
	}
	return result.SessionID, nil
}

// UploadSessionAppend appends data at offset to an open session
func (c *Client) UploadSessionAppend(ctx context.Context, sessionID string, offset int64, data []byte) error {
	arg := UploadSessionAppendArg{Cursor: UploadSessionCursor{SessionID: sessionID, Offset: offset}}
	return c.content(ctx, "upload_session/append", c.contentURL+"/2/files/upload_session/append", arg, data, nil)
}

// UploadSessionFinish sends the final data and commits the session to a path
func (c *Client) UploadSessionFinish(ctx context.Context, sessionID string, offset int64, data []byte, commit CommitInfo) (*Metadata, error) {
	const op = "upload_session/finish"
	arg := UploadSessionFinishArg{
		Cursor: UploadSessionCursor{SessionID: sessionID, Offset: offset},
		Commit: commit,
	}
	var result Metadata
	if err := c.content(ctx, op, c.contentURL+"/2/files/upload_session/finish", arg, data, &result); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.Path == "" {
			conflict.Path = commit.Path
		}
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, &MalformedResponseError{Op: op, Err: err}
	}
	if result.IsFolder() {
		return nil, &MalformedResponseError{Op: op, Err: errors.New("commit returned folder metadata")}
	}
	return &result, nil
}

// Download returns the content of a file together with its metadata.
// The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, *Metadata, error) {
	const op = "files/download"
	resp, err := c.doRequest(ctx, c.httpClient, op, c.contentURL+"/2/files/download", nil, "", DownloadArg{Path: path}, true)
	if err != nil {
		return nil, nil, err
	}

	var md Metadata
	if err := json.Unmarshal([]byte(resp.Header.Get(APIResultHeader)), &md); err != nil {
		resp.Body.Close()
		return nil, nil, &MalformedResponseError{Op: op, Err: err}
	}
	if err := md.Validate(); err != nil {
		resp.Body.Close()
		return nil, nil, &MalformedResponseError{Op: op, Err: err}
	}
	return resp.Body, &md, nil
}

// Delta fetches one page of changes. An empty cursor starts from scratch.
func (c *Client) Delta(ctx context.Context, cursor, pathPrefix string) (*DeltaResponse, error) {
	const op = "files/delta"
	var result DeltaResponse
	arg := DeltaArg{Cursor: cursor, PathPrefix: pathPrefix}
	if err := c.rpc(ctx, c.httpClient, op, c.apiURL+"/2/files/delta", arg, &result, true); err != nil {
		var scope *ScopeViolationError
		if errors.As(err, &scope) {
			scope.RequestScope = pathPrefix
		}
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, &MalformedResponseError{Op: op, Err: err}
	}
	return &result, nil
}

// DeltaLatestCursor returns a cursor positioned at the current end of the change log
func (c *Client) DeltaLatestCursor(ctx context.Context, pathPrefix string) (string, error) {
	const op = "files/delta/latest_cursor"
	var result LatestCursorResponse
	arg := LatestCursorArg{PathPrefix: pathPrefix}
	if err := c.rpc(ctx, c.httpClient, op, c.apiURL+"/2/files/delta/latest_cursor", arg, &result, true); err != nil {
		return "", err
	}
	if result.Cursor == "" {
		return "", &MalformedResponseError{Op: op, Err: errors.New("missing cursor")}
	}
	return result.Cursor, nil
}

// LongPollDelta blocks until changes exist past cursor or the server times out.
// It carries no request timeout; bound it with ctx.
func (c *Client) LongPollDelta(ctx context.Context, cursor string, timeoutSec int) (*LongPollResponse, error) {
	const op = "files/longpoll_delta"
	var result LongPollResponse
	arg := LongPollArg{Cursor: cursor, Timeout: timeoutSec}
	if err := c.rpc(ctx, c.notifyClient, op, c.notifyURL+"/2/files/longpoll_delta", arg, &result, false); err != nil {
		return nil, err
	}
	if result.Backoff != nil && *result.Backoff < 0 {
		return nil, &MalformedResponseError{Op: op, Err: fmt.Errorf("negative backoff %d", *result.Backoff)}
	}
	return &result, nil
}
