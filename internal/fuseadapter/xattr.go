package fuseadapter

import (
	"context"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/pkg/xattr"
)

// getXattr and listXattr wrap github.com/pkg/xattr so the rest of the
// package never imports it directly, keeping the read-only passthrough in
// one place.
func getXattr(path, name string) ([]byte, error) {
	v, err := xattr.Get(path, name)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func listXattr(path string) ([]string, error) {
	return xattr.List(path)
}

func (s *Server) ReadSymlink(_ context.Context, op *fuseops.ReadSymlinkOp) error {
	rec, ok := s.recordForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if rec.special != notSpecial {
		return syscall.EINVAL
	}

	target, err := s.cfg.Backing.Readlink(rec.path)
	if err != nil {
		return err
	}
	op.Target = target
	return nil
}
