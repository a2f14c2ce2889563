// Package linkutil implements the on-disk pointer primitives the cache
// engine builds everything else on top of: a symlink that can be atomically
// replaced or read back as a path relative to some base directory, and a
// small decimal-integer file used as a durable counter.
//
// Nothing above this package is allowed to touch os.Symlink/os.Readlink
// directly; every pointer in the block map, the bucket store and the FSLL
// lists goes through MakeLink/GetLink so the relative-path math only has to
// be gotten right once.
package linkutil

import (
	"errors"
	"os"
	"path"
	"strings"
)

// MakeLink atomically (re)points the symlink dir/name at target, which is
// itself a path relative to dir's base (not to dir/name). If target is nil,
// the link is removed and not recreated. It is a no-op, not an error, to
// remove a link that doesn't exist.
func MakeLink(dir, name string, target *string) error {
	linkPath := path.Join(dir, name)
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if target == nil {
		return nil
	}
	adjusted := makePathRelativeTo(linkPath, *target)
	return os.Symlink(adjusted, linkPath)
}

// GetLink reads the symlink dir/name and resolves it back to a path relative
// to dir's base. It returns ("", false, nil) if the link does not exist.
func GetLink(dir, name string) (string, bool, error) {
	linkPath := path.Join(dir, name)
	target, err := os.Readlink(linkPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return resolvePath(linkPath, target), true, nil
}

// makePathRelativeTo takes two paths assumed relative to the same
// unspecified base, and rewrites the second so that it is relative to the
// first instead (i.e. suitable as the target of a symlink living at
// reference). If p is absolute and reference is not, p is returned
// unchanged; when both are absolute, p is rewritten like any other path.
func makePathRelativeTo(reference, p string) string {
	if path.IsAbs(p) && !path.IsAbs(reference) {
		// We have no idea what p was originally relative to; pass it
		// through unchanged, same as the reference implementation.
		return p
	}

	refParts := strings.Split(path.Clean(reference), "/")
	var out []string
	truncated := refParts
	first := true
	for {
		ref := strings.Join(truncated, "/")
		if stripped, ok := stripPrefix(ref, p); ok {
			out = append(out, stripped...)
			break
		}
		if len(truncated) == 0 {
			out = append(out, strings.Split(p, "/")...)
			break
		}
		truncated = truncated[:len(truncated)-1]
		if !first {
			out = append(out, "..")
		}
		first = false
	}
	return path.Join(out...)
}

// stripPrefix reports whether p lies under the directory named by prefix,
// returning the remaining path components if so.
func stripPrefix(prefix, p string) ([]string, bool) {
	prefix = path.Clean(prefix)
	p = path.Clean(p)
	if prefix == "." {
		return strings.Split(p, "/"), true
	}
	if p == prefix {
		return nil, true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return strings.Split(strings.TrimPrefix(p, prefix+"/"), "/"), true
	}
	return nil, false
}

// resolvePath takes the path of a symlink (reference) and the raw target it
// points to, and resolves the target to a path relative to reference's base
// directory, the same base every other path in the engine is relative to.
func resolvePath(reference, target string) string {
	if path.IsAbs(target) {
		return target
	}

	dir := path.Dir(reference)
	parts := strings.Split(dir, "/")
	if dir == "." {
		parts = nil
	}
	for _, c := range strings.Split(target, "/") {
		switch c {
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		case ".", "":
			// skip
		default:
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}
