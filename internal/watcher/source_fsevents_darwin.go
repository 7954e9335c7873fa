//go:build darwin

package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filewatch/internal/logging"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsevents"
)

const fseventsLatency = 20 * time.Millisecond

// FSEventsSource uses the macOS FSEvents stream, which is recursive by
// nature. Non-recursive watches keep only direct children of the root.
type FSEventsSource struct {
	Logger *logging.Logger
	Clock  clock.Clock
}

func newFSEventsSource(logger *logging.Logger) (Source, error) {
	return &FSEventsSource{Logger: logger}, nil
}

func (source *FSEventsSource) Watch(path string, options SourceOptions, sink RawSink) (Handle, error) {
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	root := filepath.Clean(path)
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	device, err := fsevents.DeviceForPath(resolved)
	if err != nil {
		return nil, err
	}
	clk := source.Clock
	if clk == nil {
		clk = clock.New()
	}
	if options.NotifyFilter == 0 {
		options.NotifyFilter = DefaultNotifyFilter
	}

	watch := &fseventsWatch{
		stream: &fsevents.EventStream{
			Paths:   []string{resolved},
			Latency: fseventsLatency,
			Device:  device,
			Flags:   fsevents.FileEvents | fsevents.WatchRoot,
		},
		root:     root,
		resolved: resolved,
		options:  options,
		matcher:  newNameMatcher(options.Filter),
		sink:     sink,
		clock:    clk,
		logger:   source.Logger,
		done:     make(chan struct{}),
	}
	watch.stream.Start()
	watch.wg.Add(1)
	go watch.run()
	return watch, nil
}

type fseventsWatch struct {
	stream   *fsevents.EventStream
	root     string
	resolved string
	options  SourceOptions
	matcher  nameMatcher
	sink     RawSink
	clock    clock.Clock
	logger   *logging.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (watch *fseventsWatch) Close() error {
	watch.closeOnce.Do(func() {
		close(watch.done)
		watch.stream.Stop()
		watch.wg.Wait()
	})
	return nil
}

func (watch *fseventsWatch) run() {
	defer watch.wg.Done()
	for {
		select {
		case <-watch.done:
			return
		case events, ok := <-watch.stream.Events:
			if !ok {
				return
			}
			watch.handleBatch(events)
		}
	}
}

func (watch *fseventsWatch) handleBatch(events []fsevents.Event) {
	for index := 0; index < len(events); index++ {
		event := events[index]
		path, ok := watch.localPath(event.Path)
		if !ok {
			continue
		}
		if event.Flags&fsevents.RootChanged != 0 || path == watch.root {
			if !pathExists(watch.root) {
				watch.sink.Error(ErrRootRemoved)
			}
			continue
		}
		isDir := event.Flags&fsevents.ItemIsDir != 0

		if event.Flags&fsevents.ItemRenamed != 0 {
			// A move within the stream arrives as two renamed items.
			if index+1 < len(events) && events[index+1].Flags&fsevents.ItemRenamed != 0 {
				if next, ok := watch.localPath(events[index+1].Path); ok && !pathExists(path) && pathExists(next) {
					index++
					watch.emitName(Renamed, next, path, isDir)
					continue
				}
			}
			if pathExists(path) {
				watch.emitName(Created, path, "", isDir)
			} else {
				watch.emitName(Deleted, path, "", isDir)
			}
			continue
		}

		exists := pathExists(path)
		switch {
		case event.Flags&fsevents.ItemRemoved != 0 && !exists:
			watch.emitName(Deleted, path, "", isDir)
		case event.Flags&fsevents.ItemCreated != 0 && exists:
			watch.emitName(Created, path, "", isDir)
		case event.Flags&fsevents.ItemModified != 0:
			if watch.options.NotifyFilter.allowsWrite() && watch.matcher.match(path) {
				watch.emit(Changed, path, "")
			}
		case event.Flags&(fsevents.ItemInodeMetaMod|fsevents.ItemChangeOwner|fsevents.ItemXattrMod) != 0:
			if watch.options.NotifyFilter.allowsAttributes() && watch.matcher.match(path) {
				watch.emit(Changed, path, "")
			}
		}
	}
}

// localPath maps a stream path back under the root as the caller named it.
func (watch *fseventsWatch) localPath(streamPath string) (string, bool) {
	if len(streamPath) > 0 && streamPath[0] != '/' {
		streamPath = "/" + streamPath
	}
	rel, err := filepath.Rel(watch.resolved, streamPath)
	if err != nil || rel == ".." || (len(rel) > 2 && rel[:3] == "../") {
		return "", false
	}
	path := filepath.Join(watch.root, rel)
	if !watch.options.Recursive && rel != "." && filepath.Dir(path) != watch.root {
		return "", false
	}
	return path, true
}

func (watch *fseventsWatch) emitName(changeType ChangeType, path, oldPath string, isDir bool) {
	if !watch.options.NotifyFilter.allowsName(isDir) {
		return
	}
	if !watch.matcher.match(path) && (oldPath == "" || !watch.matcher.match(oldPath)) {
		return
	}
	watch.emit(changeType, path, oldPath)
}

func (watch *fseventsWatch) emit(changeType ChangeType, path, oldPath string) {
	watch.sink.Event(RawEvent{
		Type:      changeType,
		Path:      path,
		OldPath:   oldPath,
		Timestamp: watch.clock.Now(),
	})
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
