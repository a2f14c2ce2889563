// Package util holds small path-resolution helpers used by the CLI.
package util

import (
	"os"
	"path/filepath"
	"strings"
)

// BackfsParentProcessDir names the environment variable a daemonizing
// parent process sets so the re-exec'd child, which may have changed its
// working directory, still resolves relative paths the way the original
// invocation intended.
const BackfsParentProcessDir = "BACKFS_PARENT_PROCESS_DIR"

// GetResolvedPath returns filePath made absolute: "~" expands to the
// user's home directory; anything else relative is resolved against
// BackfsParentProcessDir if set, or the current working directory
// otherwise. An already-absolute or empty path is returned unchanged.
func GetResolvedPath(filePath string) (string, error) {
	if filePath == "" {
		return "", nil
	}

	if strings.HasPrefix(filePath, "~/") || filePath == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(filePath, "~")), nil
	}

	if filepath.IsAbs(filePath) {
		return filePath, nil
	}

	baseDir := os.Getenv(BackfsParentProcessDir)
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(baseDir, filePath), nil
}
