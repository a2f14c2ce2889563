package linkutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
	"golang.org/x/sys/unix"

	"github.com/backfs-project/backfs/internal/backfserr"
)

// ReadNumberFile reads a small decimal integer out of path. If def is
// non-nil and the file does not exist, it is created containing *def and
// *def is returned — this is how bucket/block counters get seeded on first
// use. If def is nil and the file does not exist, it returns (nil, nil).
func ReadNumberFile[N constraints.Integer](path string, def *N) (*N, error) {
	var f *os.File
	var err error
	isNew := false

	if def == nil {
		f, err = os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("linkutil: opening number file %s: %w", path, err)
		}
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("linkutil: creating number file %s: %w", path, err)
		}
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, fmt.Errorf("linkutil: statting number file %s: %w", path, statErr)
		}
		isNew = info.Size() == 0
	}
	defer f.Close()

	if isNew {
		n := *def
		if _, err := f.WriteString(strconv.FormatInt(int64(n), 10)); err != nil {
			return nil, fmt.Errorf("linkutil: writing number file %s: %w", path, err)
		}
		return &n, nil
	}

	var data strings.Builder
	buf := make([]byte, 64)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			data.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}

	n, parseErr := strconv.ParseInt(strings.TrimSpace(data.String()), 10, 64)
	if parseErr != nil {
		return nil, fmt.Errorf("linkutil: number file %s does not contain an integer: %w", path, backfserr.CorruptState)
	}
	result := N(n)
	return &result, nil
}

// WriteNumberFile overwrites path with the decimal representation of n,
// creating it if necessary.
func WriteNumberFile[N constraints.Integer](path string, n N) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("linkutil: opening number file %s for write: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.FormatInt(int64(n), 10)); err != nil {
		return fmt.Errorf("linkutil: writing number file %s: %w", path, err)
	}
	return nil
}

// CreateDirAndCheckAccess creates dir (tolerating EEXIST) and verifies the
// calling process has read, write and execute access to it. Catching a
// permissions problem here, at startup, is much cheaper than discovering it
// partway through a fetch.
func CreateDirAndCheckAccess(dir string) error {
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("linkutil: creating directory %s: %w", dir, err)
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("linkutil: no r/w/x access to %s: %w", dir, err)
	}
	return nil
}
