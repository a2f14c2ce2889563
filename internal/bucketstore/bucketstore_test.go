package bucketstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backfs-project/backfs/internal/fsll"
	"github.com/backfs-project/backfs/internal/linkutil"
)

func newTestStore(t *testing.T, maxBytes *uint64) *Store {
	t.Helper()
	dir := t.TempDir()
	used := fsll.New(dir, "used_head", "used_tail")
	free := fsll.New(dir, "free_head", "free_tail")
	return New(dir, used, free, 4096, maxBytes)
}

func noopDelete(string) error { return nil }

func TestPutAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t, nil)

	bucketPath, err := s.Put("blocks/file1/0", []byte("hello"), noopDelete)
	require.NoError(t, err)

	data, err := s.Get(bucketPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, uint64(5), s.UsedBytes())
}

func TestPutAllocatesDistinctBuckets(t *testing.T) {
	s := newTestStore(t, nil)

	p1, err := s.Put("a", []byte("x"), noopDelete)
	require.NoError(t, err)
	p2, err := s.Put("b", []byte("y"), noopDelete)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestFreeBucketReturnsItToFreeList(t *testing.T) {
	s := newTestStore(t, nil)

	bucketPath, err := s.Put("a", []byte("hello"), noopDelete)
	require.NoError(t, err)

	freed, err := s.FreeBucket(bucketPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), freed)
	assert.Equal(t, uint64(0), s.UsedBytes())

	empty, err := s.freeList.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	_, hasParent, err := linkutil.GetLink(bucketPath, "parent")
	require.NoError(t, err)
	assert.False(t, hasParent)
}

func TestPutReusesFreedBucket(t *testing.T) {
	s := newTestStore(t, nil)

	p1, err := s.Put("a", []byte("hello"), noopDelete)
	require.NoError(t, err)
	_, err = s.FreeBucket(p1)
	require.NoError(t, err)

	p2, err := s.Put("b", []byte("world"), noopDelete)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}

func TestDeleteSomethingEvictsLRUTail(t *testing.T) {
	s := newTestStore(t, nil)

	pA, err := s.Put("/a", []byte("aaaa"), noopDelete)
	require.NoError(t, err)
	_, err = s.Put("/b", []byte("bbbb"), noopDelete)
	require.NoError(t, err)

	// "a" is now the LRU tail since "b" was inserted after it.
	mapPath, freed, err := s.DeleteSomething()
	require.NoError(t, err)
	assert.Equal(t, "/a", mapPath)
	assert.Equal(t, uint64(4), freed)

	_, err = s.Get(pA)
	assert.Error(t, err)
}

func TestPutEvictsWhenOverBudget(t *testing.T) {
	max := uint64(8)
	s := newTestStore(t, &max)

	var evicted []string
	handler := func(mapPath string) error {
		evicted = append(evicted, mapPath)
		return nil
	}

	_, err := s.Put("/a", []byte("aaaa"), handler)
	require.NoError(t, err)
	_, err = s.Put("/b", []byte("bbbb"), handler)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	// This put needs 12 bytes total used, budget is 8: "a" must be evicted.
	_, err = s.Put("/c", []byte("cccc"), handler)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, evicted)
	assert.Equal(t, uint64(8), s.UsedBytes())
}

func TestInitValidatesBlockSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bucket_size"), []byte("1000"), 0o644))

	used := fsll.New(dir, "used_head", "used_tail")
	free := fsll.New(dir, "free_head", "free_tail")
	s := New(dir, used, free, 4096, nil)

	err := s.Init(noopDelete)
	require.Error(t, err)
}

func TestInitEvictsWhenOverBudgetAtStartup(t *testing.T) {
	dir := t.TempDir()
	used := fsll.New(dir, "used_head", "used_tail")
	free := fsll.New(dir, "free_head", "free_tail")

	max := uint64(100)
	s := New(dir, used, free, 4096, &max)

	_, err := s.Put("a", make([]byte, 60), noopDelete)
	require.NoError(t, err)
	_, err = s.Put("b", make([]byte, 60), noopDelete)
	require.NoError(t, err)

	// Re-open the same directory with a smaller budget.
	used2 := fsll.New(dir, "used_head", "used_tail")
	free2 := fsll.New(dir, "free_head", "free_tail")
	smallerMax := uint64(50)
	s2 := New(dir, used2, free2, 4096, &smallerMax)

	var evicted []string
	require.NoError(t, s2.Init(func(mapPath string) error {
		evicted = append(evicted, mapPath)
		return nil
	}))

	assert.NotEmpty(t, evicted)
	assert.LessOrEqual(t, s2.UsedBytes(), smallerMax)
}
