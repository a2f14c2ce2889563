// Package backingstore implements the backing-store contract the cache
// engine assumes but never enforces itself: a readable, seekable stream
// plus the mtime the caller observed on it. The engine is handed only the
// *os.File and the int64 mtime extracted here; it never stats anything.
package backingstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store roots backing-file lookups at a real OS directory.
type Store struct {
	root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string { return s.root }

// Handle is an open backing file plus the mtime observed when it was
// opened.
type Handle struct {
	*os.File
	Path  string
	Mtime int64
}

// Open opens root/path read-only and stats it once, capturing the mtime
// the cache will use to detect staleness on every subsequent read through
// this handle.
func (s *Store) Open(path string) (*Handle, error) {
	full := filepath.Join(s.root, path)
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("backingstore: opening %s: %w", full, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backingstore: statting %s: %w", full, err)
	}
	return &Handle{File: f, Path: path, Mtime: info.ModTime().Unix()}, nil
}

// Lstat stats root/path without following a trailing symlink, for the
// adapter's metadata-only calls (GetInodeAttributes, ReadDir) that never
// go through the cache.
func (s *Store) Lstat(path string) (os.FileInfo, error) {
	full := filepath.Join(s.root, path)
	info, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("backingstore: lstat %s: %w", full, err)
	}
	return info, nil
}

// ReadDir lists root/path's entries for adapter directory listings.
func (s *Store) ReadDir(path string) ([]os.DirEntry, error) {
	full := filepath.Join(s.root, path)
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("backingstore: reading directory %s: %w", full, err)
	}
	return entries, nil
}

// FullPath resolves path against the backing root, for callers (xattr
// passthrough) that need the real on-disk path.
func (s *Store) FullPath(path string) string {
	return filepath.Join(s.root, path)
}

// Readlink returns root/path's symlink target, for mirroring symlinks
// without the cache engine ever being involved.
func (s *Store) Readlink(path string) (string, error) {
	full := filepath.Join(s.root, path)
	target, err := os.Readlink(full)
	if err != nil {
		return "", fmt.Errorf("backingstore: readlink %s: %w", full, err)
	}
	return target, nil
}
