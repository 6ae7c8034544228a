package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ochronus/goboxsync/internal/delta"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
	"github.com/ochronus/goboxsync/internal/upload"
	"github.com/spf13/cobra"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.checkpoint")
	cp := upload.Checkpoint{
		SessionID: "session-1",
		Offset:    8192,
		ChunkSize: 4096,
		Started:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := saveCheckpoint(path, cp); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("expected permissions 0600, got %o", mode)
	}

	got, ok, err := loadCheckpoint(path)
	if err != nil {
		t.Fatalf("failed to load checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint to be found")
	}
	if got.SessionID != cp.SessionID || got.Offset != cp.Offset || got.ChunkSize != cp.ChunkSize {
		t.Errorf("expected %+v, got %+v", cp, got)
	}
	if !got.Started.Equal(cp.Started) {
		t.Errorf("expected started %v, got %v", cp.Started, got.Started)
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"no flag", ""},
		{"missing file", filepath.Join(t.TempDir(), "absent")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := loadCheckpoint(tt.path)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if ok {
				t.Error("expected no checkpoint")
			}
		})
	}
}

func TestLoadCheckpointInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, _, err := loadCheckpoint(path); err == nil {
		t.Error("expected a parse error")
	}
}

func newFeedCommand(opts *feedOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "delta"}
	cmd.Flags().StringVar(&opts.scope, "scope", "", "")
	cmd.Flags().StringVar(&opts.cursor, "cursor", "", "")
	return cmd
}

func TestResolveFeed(t *testing.T) {
	saved := delta.EncodeCursor(delta.Cursor{Token: "tok", Scope: delta.NewScope("/Photos")})

	tests := []struct {
		name      string
		args      []string
		wantScope delta.Scope
		wantToken string
	}{
		{"defaults to root", nil, delta.Root, ""},
		{"explicit scope", []string{"--scope", "/Docs/"}, delta.NewScope("/docs"), ""},
		{"cursor scope is used", []string{"--cursor", saved}, delta.NewScope("/photos"), "tok"},
		{"explicit scope wins", []string{"--cursor", saved, "--scope", "/photos/2024"}, delta.NewScope("/photos/2024"), "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts feedOptions
			cmd := newFeedCommand(&opts)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("failed to parse flags: %v", err)
			}

			scope, cursor, err := resolveFeed(cmd, opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scope != tt.wantScope {
				t.Errorf("expected scope %q, got %q", tt.wantScope, scope)
			}
			if cursor.Token != tt.wantToken {
				t.Errorf("expected token %q, got %q", tt.wantToken, cursor.Token)
			}
		})
	}
}

func TestResolveFeedBadCursor(t *testing.T) {
	var opts feedOptions
	cmd := newFeedCommand(&opts)
	if err := cmd.ParseFlags([]string{"--cursor", "%%%"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if _, _, err := resolveFeed(cmd, opts); err == nil {
		t.Error("expected an error for an undecodable cursor")
	}
}

func TestSessionGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown session", &upload.Error{SessionID: "s", Err: &dropbox.APIError{Op: "upload_session/append", Status: 409, Tag: dropbox.ErrTagSessionNotFound}}, true},
		{"expired locally", fmt.Errorf("%w: started 25h ago", upload.ErrSessionExpired), true},
		{"closed session", &upload.Error{SessionID: "s", Err: &dropbox.APIError{Status: 409, Tag: dropbox.ErrTagSessionClosed}}, false},
		{"transient", &upload.Error{SessionID: "s", Err: &dropbox.TransientNetworkError{Op: "upload_session/append", Status: 500}}, false},
		{"conflict", &dropbox.ConflictError{Path: "/x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionGone(tt.err); got != tt.want {
				t.Errorf("sessionGone(%v) = %v, expected %v", tt.err, got, tt.want)
			}
		})
	}
}
