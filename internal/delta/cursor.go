// Package delta follows the remote change feed: paging through deltas,
// keeping a mirror of the remote tree and long-polling for new changes.
package delta

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Scope is a lowercased path prefix. The root scope is "".
type Scope string

// Root is the scope covering the whole namespace
const Root Scope = ""

// NewScope normalizes a user-supplied path prefix
func NewScope(prefix string) Scope {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return Root
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	cleaned := path.Clean(prefix)
	if cleaned == "/" {
		return Root
	}
	return Scope(strings.ToLower(cleaned))
}

// Contains reports whether other equals s or lies below it
func (s Scope) Contains(other Scope) bool {
	if s == Root {
		return true
	}
	return other == s || strings.HasPrefix(string(other), string(s)+"/")
}

// ContainsPath reports whether a lowercased path lies within s
func (s Scope) ContainsPath(p string) bool {
	return s.Contains(Scope(p))
}

func (s Scope) String() string {
	if s == Root {
		return "/"
	}
	return string(s)
}

// Cursor is a position in the change feed together with the scope it was
// issued for. The zero value starts from scratch.
type Cursor struct {
	Token string
	Scope Scope
}

// IsZero reports whether the cursor starts from scratch
func (c Cursor) IsZero() bool {
	return c.Token == ""
}

const cursorVersion = 1

type encodedCursor struct {
	Version int    `json:"v"`
	Token   string `json:"t"`
	Scope   string `json:"s,omitempty"`
}

// EncodeCursor turns a cursor into an opaque string for persistence
func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(encodedCursor{Version: cursorVersion, Token: c.Token, Scope: string(c.Scope)})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a string produced by EncodeCursor
func DecodeCursor(s string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}
	var ec encodedCursor
	if err := json.Unmarshal(data, &ec); err != nil {
		return Cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}
	if ec.Version != cursorVersion {
		return Cursor{}, fmt.Errorf("unsupported cursor version %d", ec.Version)
	}
	if ec.Token == "" {
		return Cursor{}, errors.New("cursor has no token")
	}
	scope := NewScope(ec.Scope)
	if string(scope) != ec.Scope {
		return Cursor{}, fmt.Errorf("cursor scope %q is not normalized", ec.Scope)
	}
	return Cursor{Token: ec.Token, Scope: scope}, nil
}
