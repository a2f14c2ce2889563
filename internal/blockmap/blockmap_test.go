package blockmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFileMtimeNotPresent(t *testing.T) {
	m := New(t.TempDir())
	result, err := m.CheckFileMtime("/foo/bar", 123)
	require.NoError(t, err)
	assert.Equal(t, NotPresent, result)
}

func TestSetAndCheckFileMtime(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.SetFileMtime("/foo/bar", 123))

	result, err := m.CheckFileMtime("/foo/bar", 123)
	require.NoError(t, err)
	assert.Equal(t, Current, result)

	result, err = m.CheckFileMtime("/foo/bar", 456)
	require.NoError(t, err)
	assert.Equal(t, Stale, result)
}

func TestPutAndGetBlock(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	bucketsDir := filepath.Join(dir, "buckets")
	require.NoError(t, os.MkdirAll(filepath.Join(bucketsDir, "5"), 0o755))

	require.NoError(t, m.SetFileMtime("/foo/bar", 1))
	bucketPath := filepath.Join(bucketsDir, "5")
	require.NoError(t, m.PutBlock("/foo/bar", 0, bucketPath))

	got, ok, err := m.GetBlock("/foo/bar", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bucketPath, got)

	_, ok, err = m.GetBlock("/foo/bar", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsBlockMapped(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	bucketPath := filepath.Join(dir, "buckets", "5")
	require.NoError(t, os.MkdirAll(bucketPath, 0o755))
	require.NoError(t, m.SetFileMtime("/foo", 1))
	require.NoError(t, m.PutBlock("/foo", 0, bucketPath))

	blockPath := m.GetBlockPath("/foo", 0)
	mapped, err := m.IsBlockMapped(blockPath)
	require.NoError(t, err)
	assert.True(t, mapped)

	mapped, err = m.IsBlockMapped(m.GetBlockPath("/foo", 1))
	require.NoError(t, err)
	assert.False(t, mapped)
}

func TestUnmapBlockRemovesMtimeWhenLastBlock(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	bucketPath := filepath.Join(dir, "buckets", "5")
	require.NoError(t, os.MkdirAll(bucketPath, 0o755))
	require.NoError(t, m.SetFileMtime("/foo", 1))
	require.NoError(t, m.PutBlock("/foo", 0, bucketPath))

	require.NoError(t, m.UnmapBlock(m.GetBlockPath("/foo", 0)))

	_, err := os.Stat(m.mapPath("/foo"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnmapBlockKeepsMtimeWhenOtherBlocksRemain(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	b0 := filepath.Join(dir, "buckets", "0")
	b1 := filepath.Join(dir, "buckets", "1")
	require.NoError(t, os.MkdirAll(b0, 0o755))
	require.NoError(t, os.MkdirAll(b1, 0o755))
	require.NoError(t, m.SetFileMtime("/foo", 1))
	require.NoError(t, m.PutBlock("/foo", 0, b0))
	require.NoError(t, m.PutBlock("/foo", 1, b1))

	require.NoError(t, m.UnmapBlock(m.GetBlockPath("/foo", 0)))

	_, err := os.Stat(filepath.Join(m.mapPath("/foo"), "mtime"))
	assert.NoError(t, err)

	got, ok, err := m.GetBlock("/foo", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b1, got)
}

func TestInvalidatePathCallsHandlerForEachBlock(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)
	b0 := filepath.Join(dir, "buckets", "0")
	b1 := filepath.Join(dir, "buckets", "1")
	require.NoError(t, os.MkdirAll(b0, 0o755))
	require.NoError(t, os.MkdirAll(b1, 0o755))
	require.NoError(t, m.SetFileMtime("/dir/file", 1))
	require.NoError(t, m.PutBlock("/dir/file", 0, b0))
	require.NoError(t, m.PutBlock("/dir/file", 1, b1))

	var freed []string
	require.NoError(t, m.InvalidatePath("/dir/file", func(bucketPath string) error {
		freed = append(freed, bucketPath)
		return nil
	}))

	assert.ElementsMatch(t, []string{b0, b1}, freed)

	_, err := os.Stat(m.mapPath("/dir/file"))
	assert.True(t, os.IsNotExist(err))

	result, err := m.CheckFileMtime("/dir/file", 1)
	require.NoError(t, err)
	assert.Equal(t, NotPresent, result)
}

func TestInvalidatePathOnNeverCachedPathIsNoop(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.InvalidatePath("/never/cached", func(string) error {
		t.Fatal("handler should not be called")
		return nil
	}))
}
