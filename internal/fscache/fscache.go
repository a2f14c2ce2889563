// Package fscache is the engine's only read-side entry point: it stitches
// the block map and the bucket store together into a single block-aligned
// fetch pipeline, and owns the two coarse locks that serialize mutation of
// each side. Callers (the FUSE adapter) never touch blockmap or
// bucketstore directly.
package fscache

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"golang.org/x/sync/singleflight"

	"github.com/backfs-project/backfs/internal/blockmap"
	"github.com/backfs-project/backfs/internal/bucketstore"
)

// Engine combines a block map and a bucket store behind the locking
// discipline the two-lock concurrency model requires: store before map for
// eviction paths (the store decides to evict and calls back into the map),
// map before store for invalidation paths (the map decides a path is dead
// and calls back into the store). The two orders are never nested within
// each other from the same call, so they don't deadlock against themselves.
type Engine struct {
	blockSize uint64

	mapMu sync.RWMutex
	m     *blockmap.Map

	storeMu sync.RWMutex
	s       *bucketstore.Store

	// fetchGroup coalesces concurrent Fetch calls that land on the same
	// path/block, so N readers racing the kernel page cache on the same
	// cold block cost one backing read and one store put instead of N.
	fetchGroup singleflight.Group
}

// New returns an engine backed by m and s, reading and writing blocks of
// blockSize bytes.
func New(m *blockmap.Map, s *bucketstore.Store, blockSize uint64) *Engine {
	return &Engine{blockSize: blockSize, m: m, s: s}
}

// Init validates and loads persisted store state, evicting down to budget
// if the cache was left over-size, and then frees orphaned buckets (see
// FreeOrphanedBuckets), including a bucket left with a parent link but no
// data file by a crash partway through Put.
func (e *Engine) Init() error {
	if err := func() error {
		e.storeMu.Lock()
		defer e.storeMu.Unlock()
		return e.s.Init(e.unmapCallback)
	}(); err != nil {
		return err
	}
	_, err := e.FreeOrphanedBuckets()
	return err
}

// UsedSize returns the number of bytes currently occupied by cached data.
func (e *Engine) UsedSize() uint64 {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	return e.s.UsedBytes()
}

// MaxSize returns the configured byte budget, or nil if unbounded.
func (e *Engine) MaxSize() *uint64 {
	return e.s.MaxBytes()
}

// unmapCallback is handed to the store as its eviction callback: the store
// already holds storeMu when it calls this (directly, or via Put's ENOSPC
// retry loop), so this only needs to acquire mapMu — store-before-map.
func (e *Engine) unmapCallback(mapBlockPath string) error {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	return e.m.UnmapBlock(mapBlockPath)
}

// freeBucketCallback is handed to the map as its invalidation callback: the
// map already holds mapMu when it calls this, so this only needs storeMu —
// map-before-store.
func (e *Engine) freeBucketCallback(bucketPath string) error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	_, err := e.s.FreeBucket(bucketPath)
	return err
}

// InvalidatePath unmaps and frees every block cached under path.
func (e *Engine) InvalidatePath(path string) error {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	return e.m.InvalidatePath(path, e.freeBucketCallback)
}

// ensureFresh checks path's mtime witness against mtime, invalidating the
// whole path if it's stale, and recording the new witness either way (a
// freshly-seen path has no witness yet, which also takes this branch).
func (e *Engine) ensureFresh(path string, mtime int64) error {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	result, err := e.m.CheckFileMtime(path, mtime)
	if err != nil {
		return err
	}

	if result == blockmap.Stale {
		if err := e.m.InvalidatePath(path, e.freeBucketCallback); err != nil {
			return fmt.Errorf("fscache: invalidating stale path %s: %w", path, err)
		}
	}

	if result != blockmap.Current {
		for {
			err := e.m.SetFileMtime(path, mtime)
			if err == nil {
				break
			}
			if !isENOSPC(err) {
				return fmt.Errorf("fscache: writing mtime witness for %s: %w", path, err)
			}
			mapPath, _, delErr := func() (string, uint64, error) {
				e.storeMu.Lock()
				defer e.storeMu.Unlock()
				return e.s.DeleteSomething()
			}()
			if delErr != nil {
				return fmt.Errorf("fscache: freeing space to write mtime witness: %w", delErr)
			}
			if err := e.m.UnmapBlock(mapPath); err != nil {
				return fmt.Errorf("fscache: unmapping evicted block %s: %w", mapPath, err)
			}
		}
	}

	return nil
}

// Fetch returns the bytes of path in [offset, offset+size), serving cached
// blocks from the store and filling misses from backing, which must
// support ReadAt at absolute backing-file offsets. mtime is the caller's
// observed backing-file modification time, used to detect staleness; the
// engine never stats anything itself.
func (e *Engine) Fetch(path string, offset, size int64, backing io.ReaderAt, mtime int64) ([]byte, error) {
	if size <= 0 {
		return []byte{}, nil
	}
	if err := e.ensureFresh(path, mtime); err != nil {
		return nil, err
	}

	b := int64(e.blockSize)
	first := offset / b
	last := (offset + size - 1) / b

	var result []byte
	for block := first; block <= last; block++ {
		blockStart := block * b

		blockData, err := e.fetchBlock(path, uint64(block), blockStart, backing)
		if err != nil {
			return nil, err
		}

		wantStart := max64(offset, blockStart)
		wantEnd := min64(offset+size, blockStart+b)
		if wantEnd > wantStart {
			withinStart := clamp64(wantStart-blockStart, 0, int64(len(blockData)))
			withinEnd := clamp64(wantEnd-blockStart, 0, int64(len(blockData)))
			if withinEnd > withinStart {
				result = append(result, blockData[withinStart:withinEnd]...)
			}
		}

		if int64(len(blockData)) < b {
			// Backing file ended inside this block; there is nothing more
			// to read in any later block either.
			break
		}
	}

	if result == nil {
		result = []byte{}
	}
	return result, nil
}

// fetchBlock returns one block's bytes, reading through to backing on a
// miss and populating the store. Concurrent calls for the same path/block
// share a single underlying read via fetchGroup, since FUSE may dispatch
// several reads against the same cold block in parallel.
func (e *Engine) fetchBlock(path string, block uint64, blockStart int64, backing io.ReaderAt) ([]byte, error) {
	key := fmt.Sprintf("%s/%d", path, block)
	v, err, _ := e.fetchGroup.Do(key, func() (any, error) {
		bucketPath, mapped, err := e.getBlock(path, block)
		if err != nil {
			return nil, fmt.Errorf("fscache: reading block map entry for %s block %d: %w", path, block, err)
		}

		if mapped {
			blockData, err := e.storeGet(bucketPath)
			if err != nil {
				return nil, fmt.Errorf("fscache: reading cached block %s: %w", bucketPath, err)
			}
			return blockData, nil
		}

		buf := make([]byte, e.blockSize)
		n, readErr := backing.ReadAt(buf, blockStart)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("fscache: reading backing file at offset %d: %w", blockStart, readErr)
		}
		blockData := buf[:n]

		if len(blockData) > 0 {
			if newBucket, putErr := e.storePut(path, block, blockData); putErr == nil {
				// A PutBlock failure here would leave a bucket the map
				// doesn't know about; free_orphaned_buckets reclaims it
				// later. The read itself is already satisfied either way.
				_ = e.mapPutBlock(path, block, newBucket)
			}
		}
		return blockData, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (e *Engine) getBlock(path string, block uint64) (string, bool, error) {
	e.mapMu.RLock()
	defer e.mapMu.RUnlock()
	return e.m.GetBlock(path, block)
}

func (e *Engine) storeGet(bucketPath string) ([]byte, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	return e.s.Get(bucketPath)
}

func (e *Engine) storePut(path string, block uint64, data []byte) (string, error) {
	mapBlockPath := e.m.GetBlockPath(path, block)
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	return e.s.Put(mapBlockPath, data, e.unmapCallback)
}

func (e *Engine) mapPutBlock(path string, block uint64, bucketPath string) error {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	return e.m.PutBlock(path, block, bucketPath)
}

// FreeOrphanedBuckets frees every used bucket whose parent link no longer
// resolves to a mapped block — the state a crash between writing a
// bucket's parent link and its data file, or a manual edit of the map
// tree, can leave behind. It snapshots the orphan set with a read-only
// scan before freeing anything, so the scan tolerates concurrent
// mutation.
func (e *Engine) FreeOrphanedBuckets() (int, error) {
	var orphans []string
	err := func() error {
		e.storeMu.RLock()
		defer e.storeMu.RUnlock()
		return e.s.EnumerateBuckets(func(bucketPath, parent string, hasParent bool) error {
			if !hasParent {
				return nil
			}
			e.mapMu.RLock()
			mapped, mErr := e.m.IsBlockMapped(parent)
			e.mapMu.RUnlock()
			if mErr != nil {
				return mErr
			}
			if !mapped {
				orphans = append(orphans, bucketPath)
			}
			return nil
		})
	}()
	if err != nil {
		return 0, fmt.Errorf("fscache: scanning for orphaned buckets: %w", err)
	}

	for _, bucketPath := range orphans {
		if err := func() error {
			e.storeMu.Lock()
			defer e.storeMu.Unlock()
			_, err := e.s.FreeBucket(bucketPath)
			return err
		}(); err != nil {
			return len(orphans), fmt.Errorf("fscache: freeing orphaned bucket %s: %w", bucketPath, err)
		}
	}
	return len(orphans), nil
}

// FreeBlock force-evicts a single block, a no-op if it isn't cached.
func (e *Engine) FreeBlock(path string, block uint64) error {
	bucketPath, ok, err := e.getBlock(path, block)
	if err != nil {
		return fmt.Errorf("fscache: reading block map entry for %s block %d: %w", path, block, err)
	}
	if !ok {
		return nil
	}

	if err := func() error {
		e.storeMu.Lock()
		defer e.storeMu.Unlock()
		_, err := e.s.FreeBucket(bucketPath)
		return err
	}(); err != nil {
		return fmt.Errorf("fscache: freeing bucket %s: %w", bucketPath, err)
	}

	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	return e.m.UnmapBlock(e.m.GetBlockPath(path, block))
}

// SelfTest round-trips a small unmapped bucket through the store to
// confirm the cache directory is actually readable and writable, for the
// control file's "test" command.
func (e *Engine) SelfTest() error {
	const probe = "backfs-selftest"
	// A parent that never corresponds to a real block-map entry: the
	// probe bucket is freed explicitly below, so it never needs unmapping
	// through deleteHandler, but Put still requires a parent link target.
	const probeParent = "\x00selftest"

	e.storeMu.Lock()
	bucketPath, err := e.s.Put(probeParent, []byte(probe), e.unmapCallback)
	e.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("fscache: self test write: %w", err)
	}

	e.storeMu.Lock()
	got, err := e.s.Get(bucketPath)
	e.storeMu.Unlock()
	if err != nil {
		return fmt.Errorf("fscache: self test read: %w", err)
	}

	e.storeMu.Lock()
	_, freeErr := e.s.FreeBucket(bucketPath)
	e.storeMu.Unlock()
	if freeErr != nil {
		return fmt.Errorf("fscache: self test cleanup: %w", freeErr)
	}

	if string(got) != probe {
		return errors.New("fscache: self test readback mismatch")
	}
	return nil
}

// CountCachedBytes sums the on-disk size of every bucket currently cached
// under path.
func (e *Engine) CountCachedBytes(path string) (uint64, error) {
	var total uint64
	err := func() error {
		e.mapMu.RLock()
		defer e.mapMu.RUnlock()
		return e.m.ForEachBlockUnderPath(path, func(bucketPath string) error {
			e.storeMu.RLock()
			size, sErr := e.s.GetSize(bucketPath)
			e.storeMu.RUnlock()
			if sErr != nil {
				return sErr
			}
			total += size
			return nil
		})
	}()
	if err != nil {
		return 0, fmt.Errorf("fscache: counting cached bytes under %s: %w", path, err)
	}
	return total, nil
}

func isENOSPC(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clamp64(v, lo, hi int64) int64 {
	return max64(lo, min64(v, hi))
}
