package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CanonicalPath returns an absolute, cleaned path suitable as a registry key.
func CanonicalPath(pathValue string) (string, error) {
	if strings.TrimSpace(pathValue) == "" {
		return "", fmt.Errorf("invalid path: %q", pathValue)
	}
	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", pathValue, err)
	}
	return filepath.Clean(abs), nil
}

// IsParent reports whether candidate is a proper directory ancestor of p.
// The comparison is ordinal: p must begin with candidate followed by the
// path separator.
func IsParent(p, candidate string) bool {
	if candidate == "" {
		return false
	}
	prefix := candidate
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return len(p) > len(prefix) && strings.HasPrefix(p, prefix)
}

// IsWithinPath reports whether child equals parent or lives below it.
func IsWithinPath(parent, child string) bool {
	parentPath := filepath.Clean(parent)
	childPath := filepath.Clean(child)
	rel, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}

// DirExists reports whether path exists and is a directory, following links.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ReadDirOrEmpty returns an empty slice when the directory does not exist.
func ReadDirOrEmpty(dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}
