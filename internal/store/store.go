// Package store is an in-memory remote file store speaking the same model as
// the API: files and folders, chunked upload sessions and a cursor-addressed
// change log. It backs the local server and the end-to-end tests.
package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

const (
	DefaultPageLimit  = 1000
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// Options configures a Store
type Options struct {
	// PageLimit caps the number of entries per delta page.
	PageLimit int
	// HistoryLimit compacts the change log once it grows past this many
	// entries, invalidating older cursors. Zero keeps all history.
	HistoryLimit int
	SessionTTL   time.Duration
	Now          func() time.Time
}

type node struct {
	meta dropbox.Metadata
	data []byte
}

type session struct {
	id      string
	data    []byte
	created time.Time
	closed  bool
	// set once committed; a replayed finish returns result
	finishOffset int64
	result       *dropbox.Metadata
}

type change struct {
	seq  int64
	path string
	meta *dropbox.Metadata
}

// entryFor returns the entry a feed scoped to scope sees for ch. Deleting an
// ancestor of the scope removes the scope root itself.
func (ch change) entryFor(scope string) (dropbox.DeltaEntry, bool) {
	if scopeContains(scope, ch.path) {
		return dropbox.DeltaEntry{Path: ch.path, Metadata: copyMeta(ch.meta)}, true
	}
	if ch.meta == nil && scopeContains(ch.path, scope) {
		return dropbox.DeltaEntry{Path: scope, Metadata: nil}, true
	}
	return dropbox.DeltaEntry{}, false
}

// Store is safe for concurrent use
type Store struct {
	mu        sync.Mutex
	opts      Options
	accountID string
	nodes     map[string]*node
	sessions  map[string]*session
	log       []change
	base      int64 // seq preceding log[0]
	head      int64
	epoch     int64
	rev       int64
	changed   chan struct{}
}

// New creates an empty store
func New(opts Options) *Store {
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultPageLimit
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:      opts,
		accountID: "dbid:" + uuid.NewString(),
		nodes:     make(map[string]*node),
		sessions:  make(map[string]*session),
		changed:   make(chan struct{}),
	}
}

// Account returns the identity the store serves
func (s *Store) Account() dropbox.Account {
	return dropbox.Account{AccountID: s.accountID, Name: "Local Store", Email: "local@localhost"}
}

// normalizePath validates p and returns its display and lowercased forms.
func normalizePath(p string) (string, string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", "", fmt.Errorf("%w: %q must start with /", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "/" {
		return "", "", fmt.Errorf("%w: root is not a file", ErrInvalidPath)
	}
	return cleaned, strings.ToLower(cleaned), nil
}

// NormalizeScope turns a path prefix into the lowercase form used for scope
// checks. The root is "".
func NormalizeScope(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	cleaned := path.Clean(prefix)
	if cleaned == "/" {
		return ""
	}
	return strings.ToLower(cleaned)
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Second)
}

func (s *Store) nextRev() string {
	s.rev++
	return fmt.Sprintf("%09x", s.rev)
}

func copyMeta(m *dropbox.Metadata) *dropbox.Metadata {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

// recordLocked appends a change and wakes up long-pollers
func (s *Store) recordLocked(key string, meta *dropbox.Metadata) {
	s.head++
	s.log = append(s.log, change{seq: s.head, path: key, meta: copyMeta(meta)})
	if s.opts.HistoryLimit > 0 && len(s.log) > s.opts.HistoryLimit {
		s.compactLocked()
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// Compact discards the change history and replaces it with a snapshot of the
// current tree. Cursors issued before the compaction receive a reset.
func (s *Store) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactLocked()
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Store) compactLocked() {
	keys := make([]string, 0, len(s.nodes))
	for key := range s.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s.epoch++
	s.base = s.head
	s.log = make([]change, 0, len(keys))
	for _, key := range keys {
		s.head++
		s.log = append(s.log, change{seq: s.head, path: key, meta: copyMeta(&s.nodes[key].meta)})
	}
}

// ensureParentsLocked creates the missing ancestor folders of display.
func (s *Store) ensureParentsLocked(display string) error {
	parts := strings.Split(strings.TrimPrefix(display, "/"), "/")
	current := ""
	for _, part := range parts[:len(parts)-1] {
		current += "/" + part
		key := strings.ToLower(current)
		if existing, ok := s.nodes[key]; ok {
			if !existing.meta.IsFolder() {
				return &ConflictError{Path: current, Existing: copyMeta(&existing.meta)}
			}
			continue
		}
		meta := dropbox.Metadata{
			Tag:         dropbox.TagFolder,
			ID:          "id:" + uuid.NewString(),
			Name:        part,
			PathLower:   key,
			PathDisplay: current,
		}
		s.nodes[key] = &node{meta: meta}
		s.recordLocked(key, &meta)
	}
	return nil
}

// Put stores data at commit.Path honoring the write mode
func (s *Store) Put(commit dropbox.CommitInfo, data []byte) (*dropbox.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(commit, data)
}

func (s *Store) putLocked(commit dropbox.CommitInfo, data []byte) (*dropbox.Metadata, error) {
	display, key, err := normalizePath(commit.Path)
	if err != nil {
		return nil, err
	}

	existing, exists := s.nodes[key]
	if exists {
		if existing.meta.IsFolder() {
			return nil, &ConflictError{Path: display, Existing: copyMeta(&existing.meta)}
		}
		switch commit.Mode.Tag {
		case "overwrite":
		case "update":
			if existing.meta.Rev != commit.Mode.Update {
				return nil, &ConflictError{Path: display, Existing: copyMeta(&existing.meta)}
			}
		default:
			return nil, &ConflictError{Path: display, Existing: copyMeta(&existing.meta)}
		}
	}

	if err := s.ensureParentsLocked(display); err != nil {
		return nil, err
	}

	now := s.now()
	clientModified := now
	if commit.ClientModified != nil {
		clientModified = commit.ClientModified.UTC().Truncate(time.Second)
	}
	id := "id:" + uuid.NewString()
	if exists {
		id = existing.meta.ID
	}

	meta := dropbox.Metadata{
		Tag:            dropbox.TagFile,
		ID:             id,
		Name:           path.Base(display),
		PathLower:      key,
		PathDisplay:    display,
		Size:           int64(len(data)),
		Rev:            s.nextRev(),
		ClientModified: &clientModified,
		ServerModified: &now,
	}
	s.nodes[key] = &node{meta: meta, data: append([]byte(nil), data...)}
	s.recordLocked(key, &meta)
	return copyMeta(&meta), nil
}

// Get returns the content and metadata of a file
func (s *Store) Get(p string) ([]byte, *dropbox.Metadata, error) {
	_, key, err := normalizePath(p)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[key]
	if !ok || n.meta.IsFolder() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return append([]byte(nil), n.data...), copyMeta(&n.meta), nil
}

// Delete removes a path and everything below it, recording a single deletion
func (s *Store) Delete(p string) error {
	_, key, err := normalizePath(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	for k := range s.nodes {
		if scopeContains(key, k) {
			delete(s.nodes, k)
		}
	}
	s.recordLocked(key, nil)
	return nil
}

// StartSession opens a new upload session. Sessions past their TTL are
// dropped, finished or not.
func (s *Store) StartSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if s.expiredLocked(sess) {
			delete(s.sessions, id)
		}
	}
	id := uuid.NewString()
	s.sessions[id] = &session{id: id, created: s.opts.Now()}
	return id
}

func (s *Store) expiredLocked(sess *session) bool {
	return s.opts.Now().Sub(sess.created) > s.opts.SessionTTL
}

// lookupSessionLocked returns a live session, evicting it once expired
func (s *Store) lookupSessionLocked(id string) (*session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expiredLocked(sess) {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

func (s *Store) openSessionLocked(id string, offset int64) (*session, error) {
	sess, ok := s.lookupSessionLocked(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.closed {
		return nil, ErrSessionClosed
	}
	if offset != int64(len(sess.data)) {
		return nil, &OffsetError{Correct: int64(len(sess.data))}
	}
	return sess, nil
}

// AppendSession adds data at offset to an open session
func (s *Store) AppendSession(id string, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.openSessionLocked(id, offset)
	if err != nil {
		return err
	}
	sess.data = append(sess.data, data...)
	return nil
}

// SessionOffset returns how many bytes a session has committed. For a
// finished session that is the size of the committed file.
func (s *Store) SessionOffset(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookupSessionLocked(id)
	if !ok {
		return 0, ErrSessionNotFound
	}
	if sess.result != nil {
		return sess.result.Size, nil
	}
	return int64(len(sess.data)), nil
}

// FinishSession appends the final data and commits the session content.
// The session is untouched when the commit fails. Replaying the finish that
// closed a session returns the committed metadata again.
func (s *Store) FinishSession(id string, offset int64, data []byte, commit dropbox.CommitInfo) (*dropbox.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.lookupSessionLocked(id); ok && sess.closed && sess.result != nil &&
		offset == sess.finishOffset && offset+int64(len(data)) == sess.result.Size {
		return copyMeta(sess.result), nil
	}
	sess, err := s.openSessionLocked(id, offset)
	if err != nil {
		return nil, err
	}

	content := make([]byte, 0, len(sess.data)+len(data))
	content = append(content, sess.data...)
	content = append(content, data...)

	meta, err := s.putLocked(commit, content)
	if err != nil {
		return nil, err
	}
	sess.closed = true
	sess.data = nil
	sess.finishOffset = offset
	sess.result = copyMeta(meta)
	return meta, nil
}

// Delta returns the page of changes after token under prefix
func (s *Store) Delta(token, prefix string) (*dropbox.DeltaResponse, error) {
	scope := NormalizeScope(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.base
	reset := true
	if token != "" {
		c, err := decodeCursor(token)
		if err != nil {
			return nil, err
		}
		if !scopeContains(c.Scope, scope) {
			return nil, &ScopeError{CursorScope: c.Scope, RequestScope: scope}
		}
		if c.Epoch == s.epoch && c.Pos >= s.base && c.Pos <= s.head {
			pos = c.Pos
			reset = false
		}
	}

	entries := make([]dropbox.DeltaEntry, 0)
	next := s.head
	hasMore := false
	for _, ch := range s.log[pos-s.base:] {
		entry, ok := ch.entryFor(scope)
		if !ok {
			continue
		}
		if len(entries) == s.opts.PageLimit {
			hasMore = true
			break
		}
		entries = append(entries, entry)
		next = ch.seq
	}
	if !hasMore {
		next = s.head
	}

	return &dropbox.DeltaResponse{
		Entries: entries,
		Reset:   reset,
		Cursor:  cursor{Epoch: s.epoch, Pos: next, Scope: scope}.encode(),
		HasMore: hasMore,
	}, nil
}

// LatestCursor returns a cursor at the current end of the log
func (s *Store) LatestCursor(prefix string) string {
	scope := NormalizeScope(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	return cursor{Epoch: s.epoch, Pos: s.head, Scope: scope}.encode()
}

func (s *Store) hasChangesLocked(c cursor) bool {
	if c.Epoch != s.epoch || c.Pos < s.base {
		return true
	}
	if c.Pos >= s.head {
		return false
	}
	for _, ch := range s.log[c.Pos-s.base:] {
		if _, ok := ch.entryFor(c.Scope); ok {
			return true
		}
	}
	return false
}

// WaitForChanges blocks until the log has entries past token within its
// scope, the timeout elapses (false), or ctx is done.
func (s *Store) WaitForChanges(ctx context.Context, token string, timeout time.Duration) (bool, error) {
	c, err := decodeCursor(token)
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		has := s.hasChangesLocked(c)
		changed := s.changed
		s.mu.Unlock()

		if has {
			return true, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
