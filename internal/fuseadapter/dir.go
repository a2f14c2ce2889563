package fuseadapter

import (
	"context"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle snapshots a directory's entries at OpenDir time, matching the
// teacher's read-entire-listing-once-then-serve-by-offset pattern for
// ReadDir.
type dirHandle struct {
	entries []fuseutil.Dirent
}

func (s *Server) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	rec, ok := s.recordForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if rec.special != notSpecial {
		return syscall.ENOTDIR
	}

	osEntries, err := s.cfg.Backing.ReadDir(dirListPath(rec.path))
	if err != nil {
		return err
	}

	entries := make([]fuseutil.Dirent, 0, len(osEntries)+2)
	offset := fuseops.DirOffset(1)
	for _, e := range osEntries {
		if rec.path == "" && (e.Name() == controlFileName || e.Name() == statusFileName) {
			// The synthetic control files never appear in a listing, even
			// though they resolve via LookUpInode.
			continue
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: offset,
			Name:   e.Name(),
			Type:   directEntType(e),
		})
		offset++
	}

	s.mu.Lock()
	handleID := s.nextHandle
	s.nextHandle++
	s.dirHandles[handleID] = &dirHandle{entries: entries}
	s.mu.Unlock()

	op.Handle = handleID
	return nil
}

func dirListPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

func directEntType(e interface{ IsDir() bool }) fuseutil.DirentType {
	if e.IsDir() {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func (s *Server) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	s.mu.Lock()
	dh, ok := s.dirHandles[op.Handle]
	s.mu.Unlock()
	if !ok {
		return syscall.ENOSYS
	}

	op.BytesRead = 0
	for i := int(op.Offset) - 1; i >= 0 && i < len(dh.entries); i++ {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dh.entries[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (s *Server) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirHandles, op.Handle)
	return nil
}
