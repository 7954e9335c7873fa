//go:build !windows

package watcher

import "os"

// classifyPath reports whether path is a directory when followed and
// whether the entry itself is a symbolic link.
func classifyPath(path string) (isDir bool, isLink bool, err error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, false, err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return info.IsDir(), false, nil
	}
	target, err := os.Stat(path)
	if err != nil {
		return false, true, err
	}
	return target.IsDir(), true, nil
}
