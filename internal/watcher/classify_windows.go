//go:build windows

package watcher

import (
	"golang.org/x/sys/windows"
)

// classifyPath reads the entry attributes without following reparse points.
// Directory symlinks and junctions carry both the directory and reparse
// point attributes.
func classifyPath(path string) (isDir bool, isLink bool, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false, false, err
	}
	attrs, err := windows.GetFileAttributes(pathPtr)
	if err != nil {
		return false, false, err
	}
	isDir = attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0
	isLink = attrs&windows.FILE_ATTRIBUTE_REPARSE_POINT != 0
	return isDir, isLink, nil
}
