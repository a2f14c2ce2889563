// Package bucketstore manages the pool of fixed-size "bucket" directories
// that hold cached block data on disk. Each bucket is a directory
// containing a "data" file (the cached bytes) and a "parent" symlink back
// to its entry in the block map. Buckets move between two FSLL lists: the
// used list (ordered most-recently-used first, so its tail is the eviction
// candidate) and the free list (a pool of empty buckets ready for reuse).
package bucketstore

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"sync"
	"syscall"

	"github.com/backfs-project/backfs/internal/backfserr"
	"github.com/backfs-project/backfs/internal/fsll"
	"github.com/backfs-project/backfs/internal/linkutil"
)

// DeleteHandler is invoked whenever the store evicts a bucket to make room,
// with the block-map path whose block was just evicted. The caller (the
// block map, via the fetch pipeline) uses it to unmap that block so the
// map and the store never disagree about what's cached.
type DeleteHandler func(mappedPath string) error

// Store is a filesystem-backed pool of fixed-size buckets, bounded by an
// optional byte budget enforced through LRU eviction.
type Store struct {
	bucketsDir string
	usedList   *fsll.FSLL
	freeList   *fsll.FSLL
	bucketSize uint64
	maxBytes   *uint64

	mu               sync.Mutex
	usedBytes        uint64
	nextBucketNumber uint64
}

// New returns a store rooted at bucketsDir. usedList and freeList must
// already be constructed against the same base directory as bucketsDir
// (typically bucketsDir itself). maxBytes of nil means unbounded.
func New(bucketsDir string, usedList, freeList *fsll.FSLL, blockSize uint64, maxBytes *uint64) *Store {
	return &Store{
		bucketsDir: bucketsDir,
		usedList:   usedList,
		freeList:   freeList,
		bucketSize: blockSize,
		maxBytes:   maxBytes,
	}
}

// Init loads persisted counters, validates the on-disk block size against
// the configured one, and if the cache is over its byte budget (e.g. the
// budget shrank since last run) evicts buckets until it is within limits
// again, reporting each eviction to deleteHandler.
func (s *Store) Init(deleteHandler DeleteHandler) error {
	n, err := s.readNextBucketNumber()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nextBucketNumber = n
	s.mu.Unlock()

	sizePath := path.Join(s.bucketsDir, "bucket_size")
	size, err := linkutil.ReadNumberFile(sizePath, &s.bucketSize)
	if err != nil {
		return fmt.Errorf("bucketstore: reading bucket_size file: %w", err)
	}
	if *size != s.bucketSize {
		return fmt.Errorf("bucketstore: block size in cache (%d) doesn't match the configured size (%d): %w",
			*size, s.bucketSize, backfserr.CorruptState)
	}

	used, err := s.computeCacheUsedSize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.usedBytes = used
	s.mu.Unlock()

	if s.maxBytes != nil {
		for {
			s.mu.Lock()
			over := s.usedBytes > *s.maxBytes
			s.mu.Unlock()
			if !over {
				break
			}
			mapPath, _, err := s.DeleteSomething()
			if err != nil {
				return err
			}
			if err := deleteHandler(mapPath); err != nil {
				return fmt.Errorf("bucketstore: delete handler returned error: %w", err)
			}
		}
	}

	return nil
}

// Get reads a bucket's cached data, promoting it to the head of the used
// list (most-recently-used) in the process.
func (s *Store) Get(bucketPath string) ([]byte, error) {
	if err := s.usedList.ToHead(bucketPath); err != nil {
		return nil, fmt.Errorf("bucketstore: promoting bucket %s to head: %w", bucketPath, err)
	}

	dataPath := path.Join(bucketPath, "data")
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, fmt.Errorf("bucketstore: reading bucket data file %s: %w", dataPath, err)
	}
	return data, nil
}

// Put stores data in a (possibly newly allocated, possibly reused) bucket
// linked to parent, evicting other buckets as needed to stay within the
// byte budget and to recover from ENOSPC. It returns the path of the
// bucket the data now lives in.
func (s *Store) Put(parent string, data []byte, deleteHandler DeleteHandler) (string, error) {
	for {
		needed := s.freeBytesNeededForWrite(uint64(len(data)))
		if needed == 0 {
			break
		}
		mapPath, _, err := s.DeleteSomething()
		if err != nil {
			return "", fmt.Errorf("bucketstore: put: freeing space: %w", err)
		}
		if err := deleteHandler(mapPath); err != nil {
			return "", fmt.Errorf("bucketstore: put: delete handler returned error: %w", err)
		}
	}

	bucketPath, err := s.retryENOSPC(deleteHandler, s.getBucket)
	if err != nil {
		return "", fmt.Errorf("bucketstore: put: getting bucket: %w", err)
	}

	if _, err := s.retryENOSPC(deleteHandler, func() (string, error) {
		return "", linkutil.MakeLink(bucketPath, "parent", &parent)
	}); err != nil {
		return "", fmt.Errorf("bucketstore: put: linking bucket %s to parent %s: %w", bucketPath, parent, err)
	}

	dataPath := path.Join(bucketPath, "data")
	if _, err := s.retryENOSPC(deleteHandler, func() (string, error) {
		return "", os.WriteFile(dataPath, data, 0o644)
	}); err != nil {
		return "", fmt.Errorf("bucketstore: put: writing bucket data file %s: %w", dataPath, err)
	}

	s.mu.Lock()
	s.usedBytes += uint64(len(data))
	s.mu.Unlock()

	return bucketPath, nil
}

// retryENOSPC runs op, and whenever it fails with ENOSPC, evicts a bucket
// via DeleteSomething/deleteHandler and tries again.
func (s *Store) retryENOSPC(deleteHandler DeleteHandler, op func() (string, error)) (string, error) {
	for {
		result, err := op()
		if err == nil {
			return result, nil
		}
		if isENOSPC(err) {
			mapPath, _, delErr := s.DeleteSomething()
			if delErr != nil {
				return "", delErr
			}
			if delErr := deleteHandler(mapPath); delErr != nil {
				return "", fmt.Errorf("delete handler returned error: %w", delErr)
			}
			continue
		}
		return "", err
	}
}

// FreeBucket disconnects a bucket from the used list, moves it to the tail
// of the free list, and removes its data file and parent link. It returns
// the number of bytes the data file held.
func (s *Store) FreeBucket(bucketPath string) (uint64, error) {
	if err := s.usedList.Disconnect(bucketPath); err != nil {
		return 0, fmt.Errorf("bucketstore: disconnecting bucket %s from used list: %w", bucketPath, err)
	}
	if err := s.freeList.InsertAsTail(bucketPath); err != nil {
		return 0, fmt.Errorf("bucketstore: inserting bucket %s into free list: %w", bucketPath, err)
	}

	dataPath := path.Join(bucketPath, "data")
	var dataSize uint64
	if info, err := os.Stat(dataPath); err == nil {
		dataSize = uint64(info.Size())
		if err := os.Remove(dataPath); err != nil {
			return 0, fmt.Errorf("bucketstore: removing bucket data file %s: %w", dataPath, err)
		}
	}

	parentLink := path.Join(bucketPath, "parent")
	if err := os.Remove(parentLink); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("bucketstore: removing bucket parent link %s: %w", parentLink, err)
	}

	s.mu.Lock()
	s.usedBytes -= dataSize
	s.mu.Unlock()

	return dataSize, nil
}

// DeleteSomething evicts the least-recently-used bucket and returns the
// block-map path it was serving, so the caller can unmap it there too.
func (s *Store) DeleteSomething() (string, uint64, error) {
	bucketPath, ok, err := s.usedList.Tail()
	if err != nil {
		return "", 0, fmt.Errorf("bucketstore: delete_something: %w", err)
	}
	if !ok {
		return "", 0, fmt.Errorf("bucketstore: delete_something: the used list is empty")
	}

	parent, hasParent, err := linkutil.GetLink(bucketPath, "parent")
	if err != nil {
		return "", 0, fmt.Errorf("bucketstore: delete_something: reading parent link for %s: %w", bucketPath, err)
	}
	if !hasParent {
		return "", 0, fmt.Errorf("bucketstore: delete_something: bucket %s has no parent: %w", bucketPath, backfserr.CorruptState)
	}

	freed, err := s.FreeBucket(bucketPath)
	if err != nil {
		return "", 0, fmt.Errorf("bucketstore: delete_something: freeing bucket %s: %w", bucketPath, err)
	}
	return parent, freed, nil
}

// UsedBytes returns the number of bytes currently occupied by bucket data.
func (s *Store) UsedBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes
}

// MaxBytes returns the configured byte budget, or nil if unbounded.
func (s *Store) MaxBytes() *uint64 {
	return s.maxBytes
}

// EnumerateBuckets visits every bucket directory under bucketsDir,
// reporting its parent link's target (if any).
func (s *Store) EnumerateBuckets(handler func(bucketPath, parent string, hasParent bool) error) error {
	return s.forEachBucket(func(bucketPath string) error {
		parent, hasParent, err := linkutil.GetLink(bucketPath, "parent")
		if err != nil {
			return fmt.Errorf("bucketstore: reading parent link for %s: %w", bucketPath, err)
		}
		return handler(bucketPath, parent, hasParent)
	})
}

// GetSize returns the size in bytes of a bucket's cached data file.
func (s *Store) GetSize(bucketPath string) (uint64, error) {
	info, err := os.Stat(path.Join(bucketPath, "data"))
	if err != nil {
		return 0, fmt.Errorf("bucketstore: statting bucket data file: %w", err)
	}
	return uint64(info.Size()), nil
}

func (s *Store) readNextBucketNumber() (uint64, error) {
	p := path.Join(s.bucketsDir, "next_bucket_number")
	var zero uint64
	n, err := linkutil.ReadNumberFile(p, &zero)
	if err != nil {
		return 0, fmt.Errorf("bucketstore: reading next_bucket_number: %w", err)
	}
	return *n, nil
}

func (s *Store) writeNextBucketNumber(n uint64) error {
	p := path.Join(s.bucketsDir, "next_bucket_number")
	if err := linkutil.WriteNumberFile(p, n); err != nil {
		return fmt.Errorf("bucketstore: writing next_bucket_number: %w", err)
	}
	return nil
}

func (s *Store) forEachBucket(handler func(bucketPath string) error) error {
	entries, err := os.ReadDir(s.bucketsDir)
	if err != nil {
		return fmt.Errorf("bucketstore: listing bucket directory %s: %w", s.bucketsDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.ParseUint(entry.Name(), 10, 64); err != nil {
			// Not a bucket directory (next_bucket_number, bucket_size, the
			// used/free list entries live here too); skip it.
			continue
		}
		if err := handler(path.Join(s.bucketsDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) computeCacheUsedSize() (uint64, error) {
	var size uint64
	err := s.forEachBucket(func(bucketPath string) error {
		info, err := os.Stat(path.Join(bucketPath, "data"))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("bucketstore: statting data file under %s: %w", bucketPath, err)
		}
		size += uint64(info.Size())
		return nil
	})
	return size, err
}

func (s *Store) getBucket() (string, error) {
	empty, err := s.freeList.IsEmpty()
	if err != nil {
		return "", err
	}
	if empty {
		return s.newBucket()
	}

	bucketPath, _, err := s.freeList.Tail()
	if err != nil {
		return "", err
	}
	if err := s.freeList.Disconnect(bucketPath); err != nil {
		return "", fmt.Errorf("disconnecting free bucket %s: %w", bucketPath, err)
	}
	if err := s.usedList.InsertAsHead(bucketPath); err != nil {
		return "", fmt.Errorf("re-inserting bucket %s into used list: %w", bucketPath, err)
	}
	return bucketPath, nil
}

func (s *Store) newBucket() (string, error) {
	s.mu.Lock()
	number := s.nextBucketNumber
	s.mu.Unlock()

	bucketPath := path.Join(s.bucketsDir, strconv.FormatUint(number, 10))
	if err := os.Mkdir(bucketPath, 0o755); err != nil {
		return "", fmt.Errorf("creating bucket directory %s: %w", bucketPath, err)
	}
	if err := s.writeNextBucketNumber(number + 1); err != nil {
		return "", err
	}
	if err := s.usedList.InsertAsHead(bucketPath); err != nil {
		return "", fmt.Errorf("setting bucket %s as head of used list: %w", bucketPath, err)
	}

	s.mu.Lock()
	s.nextBucketNumber = number + 1
	s.mu.Unlock()

	return bucketPath, nil
}

func (s *Store) freeBytesNeededForWrite(size uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes == nil || s.usedBytes+size <= *s.maxBytes {
		return 0
	}
	return s.usedBytes + size - *s.maxBytes
}

func isENOSPC(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
