package store

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// cursor is the server-side position encoded into the opaque token handed to clients.
type cursor struct {
	Epoch int64  `json:"e"`
	Pos   int64  `json:"p"`
	Scope string `json:"s,omitempty"`
}

func (c cursor) encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(token string) (cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, ErrBadCursor
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return cursor{}, ErrBadCursor
	}
	if c.Pos < 0 || c.Scope != strings.ToLower(c.Scope) {
		return cursor{}, ErrBadCursor
	}
	return c, nil
}

// scopeContains reports whether path lies within scope. The root scope is "".
func scopeContains(scope, path string) bool {
	if scope == "" {
		return true
	}
	return path == scope || strings.HasPrefix(path, scope+"/")
}
