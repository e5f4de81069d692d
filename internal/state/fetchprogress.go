package state

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FetchProgressStore caches per-chunk raw search results during a range
// fetch, one JSON file per (chunk, record kind). A rerun after interruption
// reloads finished chunks instead of re-searching them. Cleared when the
// range run completes.
type FetchProgressStore struct {
	dir string
}

// NewFetchProgressStore creates a store rooted at dir.
func NewFetchProgressStore(dir string) *FetchProgressStore {
	return &FetchProgressStore{dir: dir}
}

// ChunkKey builds the cache key for one chunk and record kind, e.g.
// "2025-03-01..2025-03-31/prs".
func ChunkKey(since, until, kind string) string {
	return since + ".." + until + "/" + kind
}

func (s *FetchProgressStore) path(key string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(key, "/", "_")+".json")
}

// Load reads a cached chunk into out. Returns false when the chunk has not
// been cached yet.
func (s *FetchProgressStore) Load(key string, out any) (bool, error) {
	var ok bool
	path := s.path(key)
	err := withLock(path, func() error {
		var err error
		ok, err = loadFile(path, out)
		return err
	})
	return ok, err
}

// Save caches a finished chunk.
func (s *FetchProgressStore) Save(key string, payload any) error {
	path := s.path(key)
	return withLock(path, func() error {
		return saveFile(path, payload)
	})
}

// Clear removes the whole cache. Missing directory is fine.
func (s *FetchProgressStore) Clear() error {
	err := os.RemoveAll(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
