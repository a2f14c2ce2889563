package fuseadapter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// dispatchControl applies every newline-separated command in data against
// the engine, one at a time, byte-exact and never validated as UTF-8 since
// a path may legitimately contain arbitrary bytes. If any command fails, the
// error of the last failing command is returned and becomes the next read
// of .backfs_status; otherwise the status reads "ok".
func (s *Server) dispatchControl(data []byte) error {
	var lastErr error
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if err := s.runControlCommand(line); err != nil {
			lastErr = err
		}
	}

	s.statusMu.Lock()
	if lastErr != nil {
		s.statusMsg = fmt.Sprintf("error: %s\n", lastErr)
	} else {
		s.statusMsg = "ok\n"
	}
	s.statusMu.Unlock()

	return lastErr
}

func (s *Server) runControlCommand(line []byte) error {
	cmd := string(line)

	switch {
	case cmd == "test":
		if err := s.cfg.Engine.SelfTest(); err != nil {
			return syscall.EIO
		}
		return nil

	case cmd == "noop":
		return nil

	case strings.HasPrefix(cmd, "invalidate "):
		path := strings.TrimPrefix(cmd, "invalidate ")
		return s.cfg.Engine.InvalidatePath(path)

	case strings.HasPrefix(cmd, "free_block "):
		arg := strings.TrimPrefix(cmd, "free_block ")
		path, block, err := splitPathBlock(arg)
		if err != nil {
			return err
		}
		return s.cfg.Engine.FreeBlock(path, block)

	case cmd == "free_orphans":
		_, err := s.cfg.Engine.FreeOrphanedBuckets()
		return err

	default:
		return fmt.Errorf("unrecognized command %q", cmd)
	}
}

// splitPathBlock parses "<path>/<i>", splitting on the final slash since
// path itself may contain slashes.
func splitPathBlock(arg string) (string, uint64, error) {
	idx := strings.LastIndex(arg, "/")
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed free_block argument %q", arg)
	}
	path := arg[:idx]
	block, err := strconv.ParseUint(arg[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed block index in %q: %w", arg, err)
	}
	return path, block, nil
}
