// Package blockmap tracks, for every cached backing-file path, which
// bucket (if any) holds each of its blocks, plus a single mtime witness per
// path used to detect that the backing file changed underneath the cache.
// The map lives entirely as a directory tree mirroring backing-file paths:
// each mapped path gets a directory containing an "mtime" number file and
// one numbered symlink per cached block, pointing at that block's bucket.
package blockmap

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/backfs-project/backfs/internal/backfserr"
	"github.com/backfs-project/backfs/internal/linkutil"
)

// FileResult is the outcome of comparing a path's recorded mtime witness
// against the mtime the caller observed on the real backing file.
type FileResult int

const (
	// Current means the witness matches; cached blocks for this path are
	// still good.
	Current FileResult = iota
	// Stale means the witness doesn't match; the backing file changed and
	// every cached block under this path must be invalidated.
	Stale
	// NotPresent means there is no witness yet; the path has never been
	// cached.
	NotPresent
)

// Map is a filesystem-backed path/block -> bucket map.
type Map struct {
	mapDir string
}

// New returns a map rooted at mapDir.
func New(mapDir string) *Map {
	return &Map{mapDir: mapDir}
}

// mapPath returns the map-tree directory that mirrors backing-file path p.
func (m *Map) mapPath(p string) string {
	rel := strings.TrimPrefix(p, "/")
	return path.Join(m.mapDir, rel)
}

// CheckFileMtime compares mtime against the witness recorded for path.
func (m *Map) CheckFileMtime(p string, mtime int64) (FileResult, error) {
	mtimeFile := path.Join(m.mapPath(p), "mtime")
	n, err := linkutil.ReadNumberFile[int64](mtimeFile, nil)
	if err != nil {
		return NotPresent, fmt.Errorf("blockmap: reading mtime file %s: %w", mtimeFile, err)
	}
	if n == nil {
		return NotPresent, nil
	}
	if *n == mtime {
		return Current, nil
	}
	return Stale, nil
}

// SetFileMtime records mtime as the witness for path, creating the path's
// map directory if needed.
func (m *Map) SetFileMtime(p string, mtime int64) error {
	dir := m.mapPath(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blockmap: creating map directory %s: %w", dir, err)
	}
	mtimeFile := path.Join(dir, "mtime")
	if err := linkutil.WriteNumberFile(mtimeFile, mtime); err != nil {
		return fmt.Errorf("blockmap: writing mtime file %s: %w", mtimeFile, err)
	}
	return nil
}

// GetBlock returns the bucket path mapped to (path, block), or
// ("", false, nil) if that block isn't cached.
func (m *Map) GetBlock(p string, block uint64) (string, bool, error) {
	dir := m.mapPath(p)
	name := strconv.FormatUint(block, 10)
	bucketPath, ok, err := linkutil.GetLink(dir, name)
	if err != nil {
		return "", false, fmt.Errorf("blockmap: reading block link %s/%s: %w", dir, name, err)
	}
	return bucketPath, ok, nil
}

// PutBlock maps (path, block) to bucketPath.
func (m *Map) PutBlock(p string, block uint64, bucketPath string) error {
	blockFile := m.GetBlockPath(p, block)
	if err := linkutil.MakeLink("", blockFile, &bucketPath); err != nil {
		return fmt.Errorf("blockmap: mapping %s to %s: %w", blockFile, bucketPath, err)
	}
	return nil
}

// GetBlockPath returns the map-tree path of the symlink for (path, block),
// without regard to whether it currently exists.
func (m *Map) GetBlockPath(p string, block uint64) string {
	return path.Join(m.mapPath(p), strconv.FormatUint(block, 10))
}

// InvalidatePath unmaps every block cached under path (calling
// deleteHandler with each one's bucket so the store can free it), then
// removes the path's map directory entirely and prunes any now-empty
// parent directories.
func (m *Map) InvalidatePath(p string, deleteHandler func(bucketPath string) error) error {
	if err := m.ForEachBlockUnderPath(p, deleteHandler); err != nil {
		return err
	}

	mapPath := m.mapPath(p)
	if err := os.RemoveAll(mapPath); err != nil {
		return fmt.Errorf("blockmap: removing map path %s: %w", mapPath, err)
	}

	return m.pruneEmptyDirectories(path.Dir(mapPath))
}

// UnmapBlock removes a single block's symlink (given its full map-tree
// path, as returned by GetBlockPath), cleans up the mtime witness if that
// was the path's last cached block, and prunes empty directories upward.
func (m *Map) UnmapBlock(blockPath string) error {
	if err := os.Remove(blockPath); err != nil {
		return fmt.Errorf("blockmap: removing block link %s: %w", blockPath, err)
	}

	parent := path.Dir(blockPath)
	hasBlocks, err := hasAnyBlocks(parent)
	if err != nil {
		hasBlocks = false
	}
	if !hasBlocks {
		mtimeFile := path.Join(parent, "mtime")
		if err := os.Remove(mtimeFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("blockmap: removing mtime file %s: %w", mtimeFile, err)
		}
	}

	return m.pruneEmptyDirectories(parent)
}

// IsBlockMapped reports whether blockPath (a full map-tree path, as from
// GetBlockPath) currently has a block symlink.
func (m *Map) IsBlockMapped(blockPath string) (bool, error) {
	_, ok, err := linkutil.GetLink("", blockPath)
	if err != nil {
		return false, fmt.Errorf("blockmap: reading link %s: %w", blockPath, err)
	}
	return ok, nil
}

// ForEachBlockUnderPath visits every block symlink found anywhere under
// path's map directory (recursively, so it covers directories too),
// calling handler with each one's bucket path.
func (m *Map) ForEachBlockUnderPath(p string, handler func(bucketPath string) error) error {
	root := m.mapPath(p)

	err := filepath.WalkDir(root, func(entryPath string, d os.DirEntry, err error) error {
		if err != nil {
			if entryPath == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return fmt.Errorf("blockmap: walking map directory %s: %w", root, err)
		}
		if d.Type()&os.ModeSymlink == 0 {
			return nil
		}
		bucketPath, ok, linkErr := linkutil.GetLink("", entryPath)
		if linkErr != nil {
			return fmt.Errorf("blockmap: reading link %s: %w", entryPath, linkErr)
		}
		if !ok {
			return fmt.Errorf("blockmap: symlink %s vanished mid-walk: %w", entryPath, backfserr.CorruptState)
		}
		return handler(bucketPath)
	})
	if err != nil {
		return err
	}
	return nil
}

func (m *Map) pruneEmptyDirectories(start string) error {
	dir := start
	for {
		if dir == m.mapDir || !strings.HasPrefix(dir+"/", m.mapDir+"/") {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			if isNotEmpty(err) {
				return nil
			}
			return fmt.Errorf("blockmap: pruning map directory %s: %w", dir, err)
		}
		dir = path.Dir(dir)
	}
}

func isNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY)
}

func hasAnyBlocks(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name() == "mtime" && !e.IsDir() {
			continue
		}
		return true, nil
	}
	return false, nil
}
