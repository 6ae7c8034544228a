package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ochronus/goboxsync/internal/app"
	"github.com/ochronus/goboxsync/internal/config"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	maxLongPollTimeout = 480
	maxChunkBody       = 150<<20 + 1
)

// Handler contains the HTTP handlers of the remote store API.
type Handler struct {
	container *app.Container
	config    *config.Config
	store     *store.Store
	logger    *logrus.Logger
	faults    *faultInjector
}

// NewHandler creates a new HTTP handler.
func NewHandler(container *app.Container, st *store.Store) *Handler {
	cfg := container.Config
	return &Handler{
		container: container,
		config:    cfg,
		store:     st,
		logger:    container.Logger,
		faults:    &faultInjector{every: cfg.Server.FailEvery, loseResponse: cfg.Server.LoseResponse},
	}
}

// faultInjector fails every n-th chunk request. In lose-response mode the
// chunk is applied first and only the response is replaced by an error.
type faultInjector struct {
	mu           sync.Mutex
	every        int
	loseResponse bool
	count        int
}

// next reports whether the current chunk request should fail
func (f *faultInjector) next() bool {
	if f.every <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.count%f.every == 0
}

// authorize validates the Bearer token.
func (h *Handler) authorize(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" || token != h.config.Server.Token {
		writeError(c, http.StatusUnauthorized, dropbox.ErrorDetail{Tag: dropbox.ErrTagInvalidToken}, "invalid_access_token/")
		c.Abort()
		return
	}
	c.Next()
}

func writeError(c *gin.Context, status int, detail dropbox.ErrorDetail, summary string) {
	c.JSON(status, dropbox.ErrorEnvelope{ErrorSummary: summary, Error: detail})
}

// writeStoreError maps a store failure onto the API error envelope.
func (h *Handler) writeStoreError(c *gin.Context, err error) {
	var (
		conflict *store.ConflictError
		offset   *store.OffsetError
		scope    *store.ScopeError
	)
	switch {
	case errors.As(err, &conflict):
		writeError(c, http.StatusConflict, dropbox.ErrorDetail{
			Tag:      dropbox.ErrTagConflict,
			Existing: conflict.Existing,
			Path:     conflict.Path,
		}, "path/conflict/")
	case errors.As(err, &offset):
		correct := offset.Correct
		writeError(c, http.StatusConflict, dropbox.ErrorDetail{
			Tag:           dropbox.ErrTagIncorrectOffset,
			CorrectOffset: &correct,
		}, "incorrect_offset/")
	case errors.As(err, &scope):
		writeError(c, http.StatusBadRequest, dropbox.ErrorDetail{
			Tag:  dropbox.ErrTagCursorScope,
			Path: scope.CursorScope,
		}, err.Error())
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(c, http.StatusConflict, dropbox.ErrorDetail{Tag: dropbox.ErrTagSessionNotFound}, "not_found/")
	case errors.Is(err, store.ErrSessionClosed):
		writeError(c, http.StatusConflict, dropbox.ErrorDetail{Tag: dropbox.ErrTagSessionClosed}, "closed/")
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusConflict, dropbox.ErrorDetail{Tag: dropbox.ErrTagNotFound}, "path/not_found/")
	case errors.Is(err, store.ErrBadCursor):
		writeError(c, http.StatusBadRequest, dropbox.ErrorDetail{Tag: dropbox.ErrTagBadCursor}, err.Error())
	case errors.Is(err, store.ErrInvalidPath):
		writeError(c, http.StatusBadRequest, dropbox.ErrorDetail{Tag: dropbox.ErrTagBadRequest}, err.Error())
	default:
		h.logger.Errorf("store error: %v", err)
		writeError(c, http.StatusInternalServerError, dropbox.ErrorDetail{Tag: dropbox.ErrTagInternal}, "internal_error/")
	}
}

func badRequest(c *gin.Context, err error) {
	writeError(c, http.StatusBadRequest, dropbox.ErrorDetail{Tag: dropbox.ErrTagBadRequest}, err.Error())
}

// bindArg decodes the Dropbox-API-Arg header of a content request.
func bindArg[T any](c *gin.Context, dest *T) error {
	raw := c.GetHeader(dropbox.APIArgHeader)
	if raw == "" {
		return fmt.Errorf("missing %s header", dropbox.APIArgHeader)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("invalid %s header: %w", dropbox.APIArgHeader, err)
	}
	return nil
}

// bindBody decodes the JSON body of an RPC request. An empty body is an empty argument.
func bindBody[T any](c *gin.Context, dest *T) error {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func readChunk(c *gin.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChunkBody))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(data) == maxChunkBody {
		return nil, fmt.Errorf("chunk larger than %d bytes", maxChunkBody-1)
	}
	return data, nil
}

// GetCurrentAccount handles users/get_current_account.
func (h *Handler) GetCurrentAccount(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Account())
}

// UploadSessionStart handles upload_session/start.
func (h *Handler) UploadSessionStart(c *gin.Context) {
	var arg dropbox.UploadSessionStartArg
	if c.GetHeader(dropbox.APIArgHeader) != "" {
		if err := bindArg(c, &arg); err != nil {
			badRequest(c, err)
			return
		}
	}
	data, err := readChunk(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	id := h.store.StartSession()
	if len(data) > 0 {
		if err := h.store.AppendSession(id, 0, data); err != nil {
			h.writeStoreError(c, err)
			return
		}
	}
	h.logger.Debugf("[%s]: upload session started", shortID(id))
	c.JSON(http.StatusOK, dropbox.UploadSessionStartResult{SessionID: id})
}

// UploadSessionAppend handles upload_session/append.
func (h *Handler) UploadSessionAppend(c *gin.Context) {
	var arg dropbox.UploadSessionAppendArg
	if err := bindArg(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	data, err := readChunk(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	fail := h.faults.next()
	if fail && !h.faults.loseResponse {
		h.injectFault(c, arg.Cursor)
		return
	}
	if err := h.store.AppendSession(arg.Cursor.SessionID, arg.Cursor.Offset, data); err != nil {
		h.writeStoreError(c, err)
		return
	}
	if fail {
		h.injectFault(c, arg.Cursor)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// UploadSessionFinish handles upload_session/finish.
func (h *Handler) UploadSessionFinish(c *gin.Context) {
	var arg dropbox.UploadSessionFinishArg
	if err := bindArg(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	data, err := readChunk(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	fail := h.faults.next()
	if fail && !h.faults.loseResponse {
		h.injectFault(c, arg.Cursor)
		return
	}
	meta, err := h.store.FinishSession(arg.Cursor.SessionID, arg.Cursor.Offset, data, arg.Commit)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if fail {
		h.injectFault(c, arg.Cursor)
		return
	}
	h.logger.Infof("[%s: %s]: committed %d bytes (rev %s)", shortID(arg.Cursor.SessionID), meta.PathDisplay, meta.Size, meta.Rev)
	c.JSON(http.StatusOK, meta)
}

func (h *Handler) injectFault(c *gin.Context, cursor dropbox.UploadSessionCursor) {
	if committed, err := h.store.SessionOffset(cursor.SessionID); err == nil {
		h.logger.Debugf("[%s]: injecting failure at offset %d (committed %d)", shortID(cursor.SessionID), cursor.Offset, committed)
	} else {
		h.logger.Debugf("[%s]: injecting failure at offset %d", shortID(cursor.SessionID), cursor.Offset)
	}
	writeError(c, http.StatusInternalServerError, dropbox.ErrorDetail{Tag: dropbox.ErrTagInternal}, "injected_failure/")
}

// Download handles files/download.
func (h *Handler) Download(c *gin.Context) {
	var arg dropbox.DownloadArg
	if err := bindArg(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	data, meta, err := h.store.Get(arg.Path)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	result, err := dropbox.HeaderJSON(meta)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.Header(dropbox.APIResultHeader, result)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Delta handles files/delta.
func (h *Handler) Delta(c *gin.Context) {
	var arg dropbox.DeltaArg
	if err := bindBody(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	page, err := h.store.Delta(arg.Cursor, arg.PathPrefix)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// LatestCursor handles files/delta/latest_cursor.
func (h *Handler) LatestCursor(c *gin.Context) {
	var arg dropbox.LatestCursorArg
	if err := bindBody(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, dropbox.LatestCursorResponse{Cursor: h.store.LatestCursor(arg.PathPrefix)})
}

// LongPollDelta handles files/longpoll_delta.
func (h *Handler) LongPollDelta(c *gin.Context) {
	var arg dropbox.LongPollArg
	if err := bindBody(c, &arg); err != nil {
		badRequest(c, err)
		return
	}
	if arg.Cursor == "" {
		badRequest(c, errors.New("cursor is required"))
		return
	}
	if arg.Timeout < 1 || arg.Timeout > maxLongPollTimeout {
		badRequest(c, fmt.Errorf("timeout must be between 1 and %d seconds", maxLongPollTimeout))
		return
	}

	changes, err := h.store.WaitForChanges(c.Request.Context(), arg.Cursor, time.Duration(arg.Timeout)*time.Second)
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, dropbox.LongPollResponse{Changes: changes})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
