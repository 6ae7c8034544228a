package delta

import (
	"sort"
	"strings"

	"github.com/ochronus/goboxsync/internal/services/dropbox"
)

// Mirror is the local picture of the remote tree, keyed by lowercased path
type Mirror struct {
	entries map[string]*dropbox.Metadata
}

// NewMirror creates an empty mirror
func NewMirror() *Mirror {
	return &Mirror{entries: make(map[string]*dropbox.Metadata)}
}

// Apply folds one page into the mirror. A reset page clears it first. A
// deletion removes the path and everything below it, as does a file
// replacing a folder.
func (m *Mirror) Apply(page *Page) {
	if page.Reset {
		m.entries = make(map[string]*dropbox.Metadata)
	}
	for _, entry := range page.Entries {
		if entry.Metadata == nil {
			m.removeTree(entry.Path)
			continue
		}
		if existing, ok := m.entries[entry.Path]; ok && existing.IsFolder() && !entry.Metadata.IsFolder() {
			m.removeTree(entry.Path)
		}
		md := *entry.Metadata
		m.entries[entry.Path] = &md
	}
}

func (m *Mirror) removeTree(p string) {
	delete(m.entries, p)
	prefix := p + "/"
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
}

// Get returns the metadata at a lowercased path
func (m *Mirror) Get(p string) (*dropbox.Metadata, bool) {
	md, ok := m.entries[p]
	return md, ok
}

// Len returns the number of tracked paths
func (m *Mirror) Len() int {
	return len(m.entries)
}

// Paths returns the tracked paths in sorted order
func (m *Mirror) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
