package fuseadapter

import (
	"os"

	"github.com/jacobsa/fuse/fuseops"
)

// attributesFor converts a real backing-file stat result into the
// attributes FUSE reports for the mirrored inode, keeping the backing
// file's own size and mode bits. Atime, Mtime and Ctime are all reported as
// the backing file's modification time.
func (s *Server) attributesFor(info os.FileInfo) fuseops.InodeAttributes {
	mode := info.Mode()
	nlink := uint32(1)
	if info.IsDir() {
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:  uint64(info.Size()),
		Nlink: nlink,
		Mode:  mode,
		Atime: info.ModTime(),
		Mtime: info.ModTime(),
		Ctime: info.ModTime(),
		Uid:   s.cfg.Uid,
		Gid:   s.cfg.Gid,
	}
}

// specialAttributes reports fixed metadata for the two control files,
// since they have no backing-tree counterpart to stat.
func (s *Server) specialAttributes(kind specialKind) fuseops.InodeAttributes {
	mode := os.FileMode(0o600)
	var size uint64
	if kind == specialStatus {
		s.statusMu.Lock()
		size = uint64(len(s.statusMsg))
		s.statusMu.Unlock()
	}
	now := s.cfg.Clock.Now()
	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   s.cfg.Uid,
		Gid:   s.cfg.Gid,
	}
}
