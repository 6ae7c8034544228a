package transfer

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

// Target is a local file headed for a remote path
type Target struct {
	ID     string
	Local  string
	Remote string
	Mode   dropbox.WriteMode
}

// NewTarget creates a target with a fresh ID
func NewTarget(local, remote string, mode dropbox.WriteMode) Target {
	return Target{ID: uuid.NewString(), Local: local, Remote: remote, Mode: mode}
}

// String returns a formatted string representation of the target
func (t *Target) String() string {
	id := t.ID
	if len(id) > 4 {
		id = id[:4]
	}
	return fmt.Sprintf("[%s: %s]", id, t.Remote)
}

// Status represents the outcome of one upload
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Result reports how a target's upload ended
type Result struct {
	Target   Target
	Status   Status
	Metadata *dropbox.Metadata
	Err      error
	Duration time.Duration
}

// Job is a target queued for a worker together with the channel its result goes to
type Job struct {
	Target Target
	Done   chan Result
}

// ShouldSkip checks if a file or directory name is excluded by configuration
func ShouldSkip(name string, skip []string) bool {
	lowerName := strings.ToLower(name)
	for _, s := range skip {
		if strings.ToLower(s) == lowerName {
			return true
		}
	}
	return false
}

// Plan builds the targets for a local file or directory tree. A directory's
// contents land below remoteRoot/<dirname>; a single file lands at
// remoteRoot/<filename>.
func Plan(local, remoteRoot string, mode dropbox.WriteMode, skip []string) ([]Target, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	remoteRoot = "/" + strings.Trim(remoteRoot, "/")
	base := filepath.Base(filepath.Clean(local))

	if !info.IsDir() {
		return []Target{NewTarget(local, path.Join(remoteRoot, base), mode)}, nil
	}

	var targets []Target
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != local && ShouldSkip(d.Name(), skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		targets = append(targets, NewTarget(p, path.Join(remoteRoot, base, filepath.ToSlash(rel)), mode))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}
