package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"

	"filewatch/internal/fsutil"
	"filewatch/internal/logging"
	"filewatch/internal/metrics"
)

type linkWatch struct {
	handle Handle
	target string
}

type linkManagerOptions struct {
	Root        string
	RootOptions SourceOptions
	LinkOptions SourceOptions
	Source      Source
	Sink        RawSink
	Logger      *logging.Logger
	Metrics     *metrics.Registry
	OnLog       func(string)
}

// linkManager keeps one raw watch per physical directory tree: the root and
// every directory reached through a symbolic link below it. The registry is
// only touched from the worker goroutine, or before it starts and after it
// exits.
type linkManager struct {
	root        string
	rootOptions SourceOptions
	linkOptions SourceOptions
	source      Source
	sink        RawSink
	logger      *logging.Logger
	metrics     *metrics.Registry
	onLog       func(string)

	watches    map[string]linkWatch
	visited    map[string]string
	rootTarget string
	active     atomic.Int64
}

func newLinkManager(options linkManagerOptions) *linkManager {
	return &linkManager{
		root:        options.Root,
		rootOptions: options.RootOptions,
		linkOptions: options.LinkOptions,
		source:      options.Source,
		sink:        options.Sink,
		logger:      options.Logger,
		metrics:     options.Metrics,
		onLog:       options.OnLog,
		watches:     make(map[string]linkWatch),
		visited:     make(map[string]string),
	}
}

// create watches the root and every link directory already present below it.
// Only a failure on the root itself is returned.
func (manager *linkManager) create() error {
	target, err := filepath.EvalSymlinks(manager.root)
	if err != nil {
		return fmt.Errorf("resolve watch root %q: %w", manager.root, err)
	}
	handle, err := manager.source.Watch(manager.root, manager.rootOptions, manager.sink)
	if err != nil {
		return fmt.Errorf("watch %q: %w", manager.root, err)
	}
	manager.rootTarget = target
	manager.register(manager.root, handle, target)
	manager.provisionLinksBelow(manager.root, manager.rootOptions.Recursive)
	return nil
}

// handleEvent keeps the registry in step with the tree. The event itself is
// forwarded by the caller regardless of the outcome.
func (manager *linkManager) handleEvent(event RawEvent) {
	switch event.Type {
	case Created:
		manager.onCreated(event.Path)
	case Deleted:
		manager.release(event.Path)
	case Renamed:
		manager.release(event.OldPath)
		manager.onCreated(event.Path)
	}
}

func (manager *linkManager) onCreated(path string) {
	if path == "" || path == manager.root {
		return
	}
	isDir, isLink, err := classifyPath(path)
	if err != nil {
		// Entries that vanish before classification are routine.
		manager.logger.Debug("classify created entry failed", manager.fields(path, err))
		return
	}
	if !isDir {
		return
	}
	if isLink {
		manager.provision(path)
		return
	}
	if manager.coveredDeep(path) {
		manager.provisionLinksBelow(path, true)
	}
}

func (manager *linkManager) provisionLinksBelow(dir string, deep bool) {
	entries, err := scanTree(dir, deep)
	if err != nil {
		manager.warn("scan for links failed", dir, err)
		return
	}
	for _, link := range linkCandidates(entries) {
		manager.provision(link)
	}
}

func (manager *linkManager) provision(path string) {
	if _, ok := manager.watches[path]; ok {
		return
	}
	isDir, isLink, err := classifyPath(path)
	if err != nil {
		manager.warn("classify link failed", path, err)
		return
	}
	if !isDir || !isLink {
		return
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		manager.warn("resolve link failed", path, err)
		return
	}
	if owner, seen := manager.visited[target]; seen {
		manager.logger.Debug("link target already watched", map[string]string{
			"path":   path,
			"target": target,
			"owner":  owner,
		})
		return
	}
	if fsutil.IsWithinPath(target, manager.rootTarget) {
		manager.logger.Debug("link target contains watch root", map[string]string{
			"path":   path,
			"target": target,
		})
		return
	}

	handle, err := manager.source.Watch(path, manager.linkOptions, manager.sink)
	if err != nil {
		manager.warn("link watch failed", path, err)
		return
	}
	manager.register(path, handle, target)
	manager.logger.Debug("link watch added", map[string]string{
		"path":           path,
		"target":         target,
		"active_watches": strconv.FormatInt(manager.active.Load(), 10),
	})
	manager.provisionLinksBelow(path, true)
}

func (manager *linkManager) register(path string, handle Handle, target string) {
	manager.watches[path] = linkWatch{handle: handle, target: target}
	manager.visited[target] = path
	manager.active.Add(1)
	manager.metrics.AddActiveWatches(1)
}

// release closes the watch registered at path together with any link watch
// nested below it. The root watch is only released by dispose.
func (manager *linkManager) release(path string) {
	if path == "" {
		return
	}
	for registered := range manager.watches {
		if registered == manager.root {
			continue
		}
		if registered != path && !fsutil.IsParent(registered, path) {
			continue
		}
		if err := manager.closeWatch(registered); err != nil {
			manager.warn("close link watch failed", registered, err)
			continue
		}
		manager.logger.Debug("link watch removed", map[string]string{
			"path":           registered,
			"active_watches": strconv.FormatInt(manager.active.Load(), 10),
		})
	}
}

func (manager *linkManager) closeWatch(path string) error {
	watch, ok := manager.watches[path]
	if !ok {
		return nil
	}
	delete(manager.watches, path)
	if manager.visited[watch.target] == path {
		delete(manager.visited, watch.target)
	}
	manager.active.Add(-1)
	manager.metrics.AddActiveWatches(-1)
	if watch.handle == nil {
		return nil
	}
	return watch.handle.Close()
}

// dispose closes every handle, the root included.
func (manager *linkManager) dispose() error {
	var errs []error
	for _, path := range manager.paths() {
		if err := manager.closeWatch(path); err != nil {
			errs = append(errs, fmt.Errorf("close watch %q: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// coveredDeep reports whether changes below path are observed recursively.
func (manager *linkManager) coveredDeep(path string) bool {
	if manager.rootOptions.Recursive && fsutil.IsParent(path, manager.root) {
		return true
	}
	for registered := range manager.watches {
		if registered != manager.root && fsutil.IsParent(path, registered) {
			return true
		}
	}
	return false
}

func (manager *linkManager) paths() []string {
	paths := make([]string, 0, len(manager.watches))
	for path := range manager.watches {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (manager *linkManager) count() int {
	return int(manager.active.Load())
}

func (manager *linkManager) warn(message, path string, err error) {
	manager.metrics.IncError("provision")
	manager.logger.Warn(message, manager.fields(path, err))
	if manager.onLog != nil {
		manager.onLog(fmt.Sprintf("%s: %s: %v", message, path, err))
	}
}

func (manager *linkManager) fields(path string, err error) map[string]string {
	fields := map[string]string{"path": path}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}
