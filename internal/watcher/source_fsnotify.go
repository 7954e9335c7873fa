package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"filewatch/internal/fsutil"
	"filewatch/internal/logging"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
)

const defaultRenamePairWindow = 10 * time.Millisecond

// ErrRootRemoved is reported when the directory a raw watch is rooted at
// disappears.
var ErrRootRemoved = errors.New("watched directory removed")

// FSNotifySource is the default Source. fsnotify watches single directories,
// so recursive watches register every ordinary subdirectory and follow the
// tree as it changes. Links are left to the caller.
type FSNotifySource struct {
	Logger *logging.Logger
	Clock  clock.Clock
	// PairWindow is how long a rename waits for its matching create before
	// it is reported as a delete.
	PairWindow time.Duration
}

func NewFSNotifySource(logger *logging.Logger) *FSNotifySource {
	return &FSNotifySource{Logger: logger}
}

func (source *FSNotifySource) Watch(path string, options SourceOptions, sink RawSink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	clk := source.Clock
	if clk == nil {
		clk = clock.New()
	}
	window := source.PairWindow
	if window <= 0 {
		window = defaultRenamePairWindow
	}
	if options.NotifyFilter == 0 {
		options.NotifyFilter = DefaultNotifyFilter
	}

	watch := &fsnotifyWatch{
		notify:     notify,
		root:       filepath.Clean(path),
		options:    options,
		matcher:    newNameMatcher(options.Filter),
		sink:       sink,
		clock:      clk,
		pairWindow: window,
		logger:     source.Logger,
		dirs:       make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	if err := watch.addRoot(); err != nil {
		_ = notify.Close()
		return nil, err
	}
	watch.wg.Add(1)
	go watch.run()
	return watch, nil
}

type pendingRename struct {
	path  string
	isDir bool
}

type fsnotifyWatch struct {
	notify     *fsnotify.Watcher
	root       string
	options    SourceOptions
	matcher    nameMatcher
	sink       RawSink
	clock      clock.Clock
	pairWindow time.Duration
	logger     *logging.Logger

	// Owned by the run goroutine once it starts.
	dirs      map[string]struct{}
	pending   *pendingRename
	pairTimer *clock.Timer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (watch *fsnotifyWatch) Close() error {
	var err error
	watch.closeOnce.Do(func() {
		close(watch.done)
		err = watch.notify.Close()
		watch.wg.Wait()
		if watch.pairTimer != nil {
			watch.pairTimer.Stop()
			watch.pairTimer = nil
		}
	})
	return err
}

func (watch *fsnotifyWatch) addRoot() error {
	if err := watch.notify.Add(watch.root); err != nil {
		return fmt.Errorf("watch %q: %w", watch.root, err)
	}
	watch.dirs[watch.root] = struct{}{}
	if !watch.options.Recursive {
		return nil
	}
	entries, err := scanTree(watch.root, true)
	if err != nil {
		return fmt.Errorf("scan %q: %w", watch.root, err)
	}
	for _, dir := range subdirectories(entries) {
		watch.addDir(dir)
	}
	return nil
}

// addDir registers one subdirectory. Failures are logged: the directory may
// already be gone again.
func (watch *fsnotifyWatch) addDir(dir string) {
	if err := watch.notify.Add(dir); err != nil {
		watch.logger.Debug("subdirectory watch failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	watch.dirs[dir] = struct{}{}
}

// addSubtree registers a directory that appeared after the watch started.
// Entries created inside it before registration are reported as created
// when announce is set.
func (watch *fsnotifyWatch) addSubtree(dir string, announce bool) {
	watch.addDir(dir)
	entries, err := scanTree(dir, true)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.isDir && !entry.isLink {
			watch.addDir(entry.path)
		}
		if announce {
			isDir := entry.isDir
			if entry.isLink {
				isDir = fsutil.DirExists(entry.path)
			}
			watch.emitName(Created, entry.path, "", isDir)
		}
	}
}

// forgetDir drops path and every known directory below it. It reports
// whether path was a known directory.
func (watch *fsnotifyWatch) forgetDir(path string) bool {
	_, known := watch.dirs[path]
	if !known {
		return false
	}
	for dir := range watch.dirs {
		if dir == path || fsutil.IsParent(dir, path) {
			delete(watch.dirs, dir)
			// The kernel usually drops these on its own.
			_ = watch.notify.Remove(dir)
		}
	}
	return true
}

func (watch *fsnotifyWatch) run() {
	defer watch.wg.Done()
	for {
		var pairC <-chan time.Time
		if watch.pairTimer != nil {
			pairC = watch.pairTimer.C
		}
		select {
		case event, ok := <-watch.notify.Events:
			if !ok {
				watch.flushPending()
				return
			}
			watch.handle(event)
		case err, ok := <-watch.notify.Errors:
			if !ok {
				return
			}
			if err != nil {
				watch.sink.Error(err)
			}
		case <-pairC:
			watch.pairTimer = nil
			watch.flushPending()
		case <-watch.done:
			return
		}
	}
}

func (watch *fsnotifyWatch) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if watch.pending != nil {
		pending := *watch.pending
		watch.clearPending()
		if event.Has(fsnotify.Create) && path != pending.path && path != watch.root {
			watch.completeRename(pending, path)
			return
		}
		watch.emitName(Deleted, pending.path, "", pending.isDir)
	}

	if path == watch.root {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			watch.sink.Error(fmt.Errorf("%w: %s", ErrRootRemoved, watch.root))
		}
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		watch.onCreate(path)
	case event.Has(fsnotify.Remove):
		isDir := watch.forgetDir(path)
		watch.emitName(Deleted, path, "", isDir)
	case event.Has(fsnotify.Rename):
		isDir := watch.forgetDir(path)
		watch.pending = &pendingRename{path: path, isDir: isDir}
		watch.pairTimer = watch.clock.Timer(watch.pairWindow)
	case event.Has(fsnotify.Write):
		if watch.options.NotifyFilter.allowsWrite() && watch.matcher.match(path) {
			watch.emit(Changed, path, "")
		}
	case event.Has(fsnotify.Chmod):
		if watch.options.NotifyFilter.allowsAttributes() && watch.matcher.match(path) {
			watch.emit(Changed, path, "")
		}
	}
}

func (watch *fsnotifyWatch) onCreate(path string) {
	isDir, isLink, err := classifyPath(path)
	if err != nil {
		// Gone already; the removal that follows cancels this out.
		watch.emitName(Created, path, "", false)
		return
	}
	watch.emitName(Created, path, "", isDir)
	if isDir && !isLink && watch.options.Recursive {
		watch.addSubtree(path, true)
	}
}

func (watch *fsnotifyWatch) completeRename(pending pendingRename, path string) {
	isDir, isLink, err := classifyPath(path)
	if err != nil {
		isDir = pending.isDir
	}
	if err == nil && isDir && !isLink && watch.options.Recursive {
		watch.addSubtree(path, false)
	}
	if !watch.options.NotifyFilter.allowsName(isDir) {
		return
	}
	if !watch.matcher.match(path) && !watch.matcher.match(pending.path) {
		return
	}
	watch.emit(Renamed, path, pending.path)
}

func (watch *fsnotifyWatch) flushPending() {
	if watch.pending == nil {
		return
	}
	pending := *watch.pending
	watch.clearPending()
	watch.emitName(Deleted, pending.path, "", pending.isDir)
}

func (watch *fsnotifyWatch) clearPending() {
	watch.pending = nil
	if watch.pairTimer != nil {
		watch.pairTimer.Stop()
		watch.pairTimer = nil
	}
}

// emitName reports a create, delete or rename subject to the name filters.
func (watch *fsnotifyWatch) emitName(changeType ChangeType, path, oldPath string, isDir bool) {
	if !watch.options.NotifyFilter.allowsName(isDir) || !watch.matcher.match(path) {
		return
	}
	watch.emit(changeType, path, oldPath)
}

func (watch *fsnotifyWatch) emit(changeType ChangeType, path, oldPath string) {
	watch.sink.Event(RawEvent{
		Type:      changeType,
		Path:      path,
		OldPath:   oldPath,
		Timestamp: watch.clock.Now(),
	})
}
