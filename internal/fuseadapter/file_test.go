package fuseadapter

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndReadFileRoundTrip(t *testing.T) {
	s, backingRoot := newTestServer(t)
	content := []byte("hello, backfs")
	require.NoError(t, os.WriteFile(filepath.Join(backingRoot, "f.txt"), content, 0o644))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f.txt"}
	require.NoError(t, s.LookUpInode(context.Background(), lookup))

	openOp := &fuseops.OpenFileOp{Inode: lookup.Entry.Child}
	require.NoError(t, s.OpenFile(context.Background(), openOp))

	dst := make([]byte, 1024)
	readOp := &fuseops.ReadFileOp{Handle: openOp.Handle, Offset: 0, Dst: dst}
	require.NoError(t, s.ReadFile(context.Background(), readOp))
	assert.Equal(t, content, dst[:readOp.BytesRead])

	require.NoError(t, s.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))
}

func TestWriteFileReturnsEROFSByDefault(t *testing.T) {
	s, backingRoot := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(backingRoot, "f.txt"), []byte("x"), 0o644))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f.txt"}
	require.NoError(t, s.LookUpInode(context.Background(), lookup))

	openOp := &fuseops.OpenFileOp{Inode: lookup.Entry.Child}
	require.NoError(t, s.OpenFile(context.Background(), openOp))

	err := s.WriteFile(context.Background(), &fuseops.WriteFileOp{Handle: openOp.Handle, Data: []byte("y")})
	assert.Equal(t, syscall.EROFS, err)
}

func TestWriteToControlFileDispatches(t *testing.T) {
	s, _ := newTestServer(t)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: controlFileName}
	require.NoError(t, s.LookUpInode(context.Background(), lookup))

	openOp := &fuseops.OpenFileOp{Inode: lookup.Entry.Child}
	require.NoError(t, s.OpenFile(context.Background(), openOp))

	require.NoError(t, s.WriteFile(context.Background(), &fuseops.WriteFileOp{
		Handle: openOp.Handle,
		Data:   []byte("noop\n"),
	}))
	assert.Equal(t, "ok\n", s.statusMsg)
}

func TestReadStatusFileReflectsLastCommand(t *testing.T) {
	s, _ := newTestServer(t)

	ctrlLookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: controlFileName}
	require.NoError(t, s.LookUpInode(context.Background(), ctrlLookup))
	ctrlOpen := &fuseops.OpenFileOp{Inode: ctrlLookup.Entry.Child}
	require.NoError(t, s.OpenFile(context.Background(), ctrlOpen))
	err := s.WriteFile(context.Background(), &fuseops.WriteFileOp{Handle: ctrlOpen.Handle, Data: []byte("bogus\n")})
	assert.Error(t, err)

	statusLookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: statusFileName}
	require.NoError(t, s.LookUpInode(context.Background(), statusLookup))
	statusOpen := &fuseops.OpenFileOp{Inode: statusLookup.Entry.Child}
	require.NoError(t, s.OpenFile(context.Background(), statusOpen))

	dst := make([]byte, 256)
	readOp := &fuseops.ReadFileOp{Handle: statusOpen.Handle, Dst: dst}
	require.NoError(t, s.ReadFile(context.Background(), readOp))
	assert.Contains(t, string(dst[:readOp.BytesRead]), "error:")
}

func TestGetXattrOnMissingAttrReturnsError(t *testing.T) {
	s, backingRoot := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(backingRoot, "f.txt"), []byte("x"), 0o644))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f.txt"}
	require.NoError(t, s.LookUpInode(context.Background(), lookup))

	err := s.GetXattr(context.Background(), &fuseops.GetXattrOp{Inode: lookup.Entry.Child, Name: "user.nonexistent"})
	assert.Error(t, err)
}
