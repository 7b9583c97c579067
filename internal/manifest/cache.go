package manifest

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Cache is a single-slot parse cache for the manifest. The slot is keyed by
// path and invalidated when the file's modification time strictly advances
// or a different path is requested.
//
// An edit that does not advance the mtime is not guaranteed to be re-read.
// That weak consistency is accepted: the editor-save and cargo-add paths
// that matter here always touch the file.
type Cache struct {
	mu       sync.Mutex
	path     string
	mtime    time.Time
	manifest *Manifest
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Resolve returns the parsed manifest at path, re-reading the file only on
// first use, on a path change, or when the file's mtime is strictly newer
// than the cached one. Parse and read errors leave the previous slot intact.
func (c *Cache) Resolve(path string) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", FileName, err)
	}

	if c.manifest != nil && c.path == path && !info.ModTime().After(c.mtime) {
		return c.manifest, nil
	}

	m, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.path = path
	c.mtime = info.ModTime()
	c.manifest = m

	return m, nil
}

// Invalidate empties the slot so the next Resolve re-reads the file.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.path = ""
	c.mtime = time.Time{}
	c.manifest = nil
}
