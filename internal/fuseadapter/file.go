package fuseadapter

import (
	"context"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/backfs-project/backfs/internal/backingstore"
)

// fileHandle pins the backing file open and remembers the mtime observed at
// OpenFile time, so every ReadFile against this handle is checked against
// the same snapshot rather than re-stat'ing on every read. A handle opened
// against one of the two synthetic control inodes carries no backing file
// at all; special and inode identify it instead.
type fileHandle struct {
	backing *backingstore.Handle
	path    string
	special specialKind
	inode   fuseops.InodeID
}

func (s *Server) OpenFile(_ context.Context, op *fuseops.OpenFileOp) error {
	rec, ok := s.recordForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	if rec.special != notSpecial {
		s.mu.Lock()
		handleID := s.nextHandle
		s.nextHandle++
		s.fileHandles[handleID] = &fileHandle{special: rec.special, inode: op.Inode}
		s.mu.Unlock()
		op.Handle = handleID
		return nil
	}

	h, err := s.cfg.Backing.Open(rec.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	handleID := s.nextHandle
	s.nextHandle++
	s.fileHandles[handleID] = &fileHandle{backing: h, path: rec.path}
	s.mu.Unlock()

	op.Handle = handleID
	op.KeepPageCache = true
	return nil
}

func (s *Server) ReadFile(_ context.Context, op *fuseops.ReadFileOp) error {
	s.mu.Lock()
	fh, ok := s.fileHandles[op.Handle]
	s.mu.Unlock()
	if !ok {
		return syscall.ENOSYS
	}

	if fh.special == specialStatus {
		s.statusMu.Lock()
		msg := s.statusMsg
		s.statusMu.Unlock()
		if op.Offset >= int64(len(msg)) {
			op.BytesRead = 0
			return nil
		}
		op.BytesRead = copy(op.Dst, msg[op.Offset:])
		return nil
	}
	if fh.special == specialControl {
		op.BytesRead = 0
		return nil
	}

	start := s.cfg.Clock.Now()
	data, err := s.cfg.Engine.Fetch(fh.path, op.Offset, int64(len(op.Dst)), fh.backing, fh.backing.Mtime)
	s.cfg.Metrics.FetchLatency(s.cfg.Clock.Now().Sub(start))
	if err != nil {
		return err
	}

	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (s *Server) ReleaseFileHandle(_ context.Context, op *fuseops.ReleaseFileHandleOp) error {
	s.mu.Lock()
	fh, ok := s.fileHandles[op.Handle]
	delete(s.fileHandles, op.Handle)
	s.mu.Unlock()
	if !ok || fh.backing == nil {
		return nil
	}
	return fh.backing.Close()
}

func (s *Server) GetXattr(_ context.Context, op *fuseops.GetXattrOp) error {
	rec, ok := s.recordForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if rec.special != notSpecial {
		return syscall.ENODATA
	}

	value, err := getXattr(s.cfg.Backing.FullPath(rec.path), op.Name)
	if err != nil {
		return err
	}

	op.BytesRead = len(value)
	if len(op.Dst) == 0 {
		return nil
	}
	if len(value) > len(op.Dst) {
		return syscall.ERANGE
	}
	copy(op.Dst, value)
	return nil
}

func (s *Server) ListXattr(_ context.Context, op *fuseops.ListXattrOp) error {
	rec, ok := s.recordForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if rec.special != notSpecial {
		op.BytesRead = 0
		return nil
	}

	names, err := listXattr(s.cfg.Backing.FullPath(rec.path))
	if err != nil {
		return err
	}

	var joined []byte
	for _, n := range names {
		joined = append(joined, n...)
		joined = append(joined, 0)
	}

	op.BytesRead = len(joined)
	if len(op.Dst) == 0 {
		return nil
	}
	if len(joined) > len(op.Dst) {
		return syscall.ERANGE
	}
	copy(op.Dst, joined)
	return nil
}

// writeGuard returns EROFS for every mutating operation unless the server
// was explicitly configured read-write, matching the cache's read-only
// default.
func (s *Server) writeGuard() error {
	if s.cfg.ReadWrite {
		return syscall.ENOSYS
	}
	return syscall.EROFS
}

func (s *Server) SetInodeAttributes(_ context.Context, _ *fuseops.SetInodeAttributesOp) error {
	return s.writeGuard()
}

func (s *Server) MkDir(_ context.Context, _ *fuseops.MkDirOp) error { return s.writeGuard() }

func (s *Server) MkNode(_ context.Context, _ *fuseops.MkNodeOp) error { return s.writeGuard() }

func (s *Server) CreateFile(_ context.Context, _ *fuseops.CreateFileOp) error {
	return s.writeGuard()
}

func (s *Server) CreateSymlink(_ context.Context, _ *fuseops.CreateSymlinkOp) error {
	return s.writeGuard()
}

func (s *Server) CreateLink(_ context.Context, _ *fuseops.CreateLinkOp) error {
	return s.writeGuard()
}

func (s *Server) Rename(_ context.Context, _ *fuseops.RenameOp) error { return s.writeGuard() }

func (s *Server) RmDir(_ context.Context, _ *fuseops.RmDirOp) error { return s.writeGuard() }

func (s *Server) Unlink(_ context.Context, _ *fuseops.UnlinkOp) error { return s.writeGuard() }

func (s *Server) WriteFile(_ context.Context, op *fuseops.WriteFileOp) error {
	s.mu.Lock()
	fh, ok := s.fileHandles[op.Handle]
	s.mu.Unlock()
	if ok && fh.special == specialControl {
		return s.dispatchControl(op.Data)
	}
	return s.writeGuard()
}

func (s *Server) SyncFile(_ context.Context, _ *fuseops.SyncFileOp) error { return nil }

func (s *Server) FlushFile(_ context.Context, _ *fuseops.FlushFileOp) error { return nil }

func (s *Server) SetXattr(_ context.Context, _ *fuseops.SetXattrOp) error { return s.writeGuard() }

func (s *Server) RemoveXattr(_ context.Context, _ *fuseops.RemoveXattrOp) error {
	return s.writeGuard()
}

func (s *Server) Fallocate(_ context.Context, _ *fuseops.FallocateOp) error {
	return s.writeGuard()
}
