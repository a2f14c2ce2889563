package fscache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backfs-project/backfs/internal/blockmap"
	"github.com/backfs-project/backfs/internal/bucketstore"
	"github.com/backfs-project/backfs/internal/fsll"
)

func newTestEngine(t *testing.T, blockSize uint64, maxBytes *uint64) *Engine {
	t.Helper()
	dir := t.TempDir()
	bucketsDir := filepath.Join(dir, "buckets")
	mapDir := filepath.Join(dir, "map")
	require.NoError(t, os.MkdirAll(bucketsDir, 0o755))
	require.NoError(t, os.MkdirAll(mapDir, 0o755))

	used := fsll.New(bucketsDir, "head", "tail")
	free := fsll.New(bucketsDir, "free_head", "free_tail")
	store := bucketstore.New(bucketsDir, used, free, blockSize, maxBytes)
	m := blockmap.New(mapDir)

	e := New(m, store, blockSize)
	require.NoError(t, e.Init())
	return e
}

// S1: single block round-trip.
func TestFetchSingleBlockRoundTrip(t *testing.T) {
	max := uint64(100)
	e := newTestEngine(t, 16, &max)

	content := []byte("ABCDEFGHIJKLMN!") // 15 bytes
	got, err := e.Fetch("f", 0, 1024, bytes.NewReader(content), 1)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, uint64(15), e.UsedSize())
}

// S2: sub-block slice, same seed as S1.
func TestFetchSubBlockSlice(t *testing.T) {
	max := uint64(100)
	e := newTestEngine(t, 16, &max)
	content := []byte("ABCDEFGHIJKLMN!")

	_, err := e.Fetch("f", 0, 1024, bytes.NewReader(content), 1)
	require.NoError(t, err)

	got, err := e.Fetch("f", 3, 5, bytes.NewReader(content), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("DEFGH"), got)
	assert.Equal(t, uint64(15), e.UsedSize())
}

// S3: staleness drives invalidation.
func TestFetchStalenessInvalidates(t *testing.T) {
	max := uint64(100)
	e := newTestEngine(t, 16, &max)
	content := []byte("ABCDEFGHIJKLMN!")

	_, err := e.Fetch("f", 0, 15, bytes.NewReader(content), 1)
	require.NoError(t, err)

	got, err := e.Fetch("f", 0, 15, bytes.NewReader(content), 2)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, uint64(15), e.UsedSize())

	// The block must have been re-fetched after the stale bucket was freed
	// (Put reuses it from the free list): the map entry resolves to a
	// bucket holding the freshly read data.
	bucketPath, ok, err := e.m.GetBlock("f", 0)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := e.s.Get(bucketPath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

// S4: eviction under budget.
func TestFetchEvictionUnderBudget(t *testing.T) {
	max := uint64(30)
	e := newTestEngine(t, 15, &max)

	a := bytes.Repeat([]byte("a"), 15)
	b := bytes.Repeat([]byte("b"), 15)
	c := bytes.Repeat([]byte("c"), 15)

	_, err := e.Fetch("a", 0, 15, bytes.NewReader(a), 1)
	require.NoError(t, err)
	_, err = e.Fetch("b", 0, 15, bytes.NewReader(b), 1)
	require.NoError(t, err)
	_, err = e.Fetch("c", 0, 15, bytes.NewReader(c), 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(30), e.UsedSize())

	_, ok, err := e.m.GetBlock("a", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	gotB, err := e.Fetch("b", 0, 15, bytes.NewReader(b), 1)
	require.NoError(t, err)
	assert.Equal(t, b, gotB)
	gotC, err := e.Fetch("c", 0, 15, bytes.NewReader(c), 1)
	require.NoError(t, err)
	assert.Equal(t, c, gotC)
}

// S5: read past EOF.
func TestFetchReadPastEOF(t *testing.T) {
	max := uint64(100)
	e := newTestEngine(t, 16, &max)
	content := []byte("ABCDEFGHIJKLMN!")

	got, err := e.Fetch("f", 30, 10, bytes.NewReader(content), 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(0), e.UsedSize())
}

// S6: orphan sweep, continuing from S4 state.
func TestFreeOrphanedBucketsSweepsManuallyUnmappedBlock(t *testing.T) {
	max := uint64(30)
	e := newTestEngine(t, 15, &max)

	a := bytes.Repeat([]byte("a"), 15)
	b := bytes.Repeat([]byte("b"), 15)
	c := bytes.Repeat([]byte("c"), 15)
	_, err := e.Fetch("a", 0, 15, bytes.NewReader(a), 1)
	require.NoError(t, err)
	_, err = e.Fetch("b", 0, 15, bytes.NewReader(b), 1)
	require.NoError(t, err)
	_, err = e.Fetch("c", 0, 15, bytes.NewReader(c), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(30), e.UsedSize())

	// Simulate an operator manually deleting b's map entry: the bucket
	// storing b's data is left behind with a dangling parent link.
	require.NoError(t, e.m.UnmapBlock(e.m.GetBlockPath("b", 0)))

	freed, err := e.FreeOrphanedBuckets()
	require.NoError(t, err)
	assert.Equal(t, 1, freed)
	assert.Equal(t, uint64(15), e.UsedSize())

	_, ok, err := e.m.GetBlock("c", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFreeBlockIsNoopWhenNotMapped(t *testing.T) {
	e := newTestEngine(t, 16, nil)
	require.NoError(t, e.FreeBlock("never/cached", 0))
}

func TestFreeBlockEvictsAndUnmaps(t *testing.T) {
	e := newTestEngine(t, 16, nil)
	content := []byte("ABCDEFGHIJKLMN!")
	_, err := e.Fetch("f", 0, 15, bytes.NewReader(content), 1)
	require.NoError(t, err)

	require.NoError(t, e.FreeBlock("f", 0))

	_, ok, err := e.m.GetBlock("f", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), e.UsedSize())
}

func TestCountCachedBytes(t *testing.T) {
	e := newTestEngine(t, 16, nil)
	content := []byte("ABCDEFGHIJKLMN!")
	_, err := e.Fetch("dir/f", 0, 15, bytes.NewReader(content), 1)
	require.NoError(t, err)

	n, err := e.CountCachedBytes("dir")
	require.NoError(t, err)
	assert.Equal(t, uint64(15), n)
}

func TestInvalidatePathRemovesMapping(t *testing.T) {
	e := newTestEngine(t, 16, nil)
	content := []byte("ABCDEFGHIJKLMN!")
	_, err := e.Fetch("f", 0, 15, bytes.NewReader(content), 1)
	require.NoError(t, err)

	require.NoError(t, e.InvalidatePath("f"))

	_, ok, err := e.m.GetBlock("f", 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), e.UsedSize())
}
