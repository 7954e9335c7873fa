package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"filewatch/internal/fsutil"

	"github.com/charlievieth/fastwalk"
)

type treeEntry struct {
	path   string
	isDir  bool
	isLink bool
}

// scanTree lists the entries below root without following links. When deep
// is false only direct children are returned. If root is itself a link, the
// walk runs over its target and paths are reported under root. Results are
// sorted by path.
func scanTree(root string, deep bool) ([]treeEntry, error) {
	if !deep {
		return scanChildren(root)
	}
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}

	var mutex sync.Mutex
	entries := []treeEntry{}
	conf := &fastwalk.Config{
		Follow: false,
	}
	err = fastwalk.Walk(conf, walkRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == walkRoot {
			return nil
		}
		rel, relErr := filepath.Rel(walkRoot, path)
		if relErr != nil {
			return nil
		}
		found := treeEntry{
			path:   filepath.Join(root, rel),
			isDir:  entry.IsDir(),
			isLink: isLinkEntry(entry),
		}
		mutex.Lock()
		entries = append(entries, found)
		mutex.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

func scanChildren(root string) ([]treeEntry, error) {
	children, err := fsutil.ReadDirOrEmpty(root)
	if err != nil {
		return nil, err
	}
	entries := make([]treeEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, treeEntry{
			path:   filepath.Join(root, child.Name()),
			isDir:  child.IsDir(),
			isLink: isLinkEntry(child),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// isLinkEntry reports symlinks and, on Windows, junctions which the runtime
// surfaces as irregular files.
func isLinkEntry(entry fs.DirEntry) bool {
	return entry.Type()&(os.ModeSymlink|os.ModeIrregular) != 0
}

func sortEntries(entries []treeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].path < entries[j].path
	})
}

// subdirectories filters entries down to ordinary directories.
func subdirectories(entries []treeEntry) []string {
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.isDir && !entry.isLink {
			dirs = append(dirs, entry.path)
		}
	}
	return dirs
}

// linkCandidates filters entries down to links that may point at directories.
func linkCandidates(entries []treeEntry) []string {
	links := make([]string, 0)
	for _, entry := range entries {
		if entry.isLink {
			links = append(links, entry.path)
		}
	}
	return links
}
