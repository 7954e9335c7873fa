package watcher

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeSource records Watch calls and lets tests inject raw events.
type fakeSource struct {
	mutex   sync.Mutex
	handles map[string]*fakeHandle
	failFor map[string]error
	opened  []string
}

type fakeHandle struct {
	source  *fakeSource
	path    string
	options SourceOptions
	sink    RawSink
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handles: make(map[string]*fakeHandle),
		failFor: make(map[string]error),
	}
}

func (source *fakeSource) Watch(path string, options SourceOptions, sink RawSink) (Handle, error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	if err := source.failFor[path]; err != nil {
		return nil, err
	}
	handle := &fakeHandle{source: source, path: path, options: options, sink: sink}
	source.handles[path] = handle
	source.opened = append(source.opened, path)
	return handle, nil
}

func (handle *fakeHandle) Close() error {
	handle.source.mutex.Lock()
	defer handle.source.mutex.Unlock()
	if handle.closed {
		return errors.New("handle closed twice")
	}
	handle.closed = true
	if handle.source.handles[handle.path] == handle {
		delete(handle.source.handles, handle.path)
	}
	return nil
}

func (source *fakeSource) fail(path string, err error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	source.failFor[path] = err
}

func (source *fakeSource) openPaths() []string {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	paths := make([]string, 0, len(source.handles))
	for path := range source.handles {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (source *fakeSource) handle(path string) *fakeHandle {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.handles[path]
}

// raise delivers an event through the sink of the watch opened at path.
func (source *fakeSource) raise(path string, event RawEvent) bool {
	handle := source.handle(path)
	if handle == nil {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handle.sink.Event(event)
	return true
}

func (source *fakeSource) raiseError(path string, err error) bool {
	handle := source.handle(path)
	if handle == nil {
		return false
	}
	handle.sink.Error(err)
	return true
}

type recordingSink struct {
	mutex  sync.Mutex
	events []RawEvent
	errs   []error
}

func (sink *recordingSink) Event(event RawEvent) {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	sink.events = append(sink.events, event)
}

func (sink *recordingSink) Error(err error) {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	sink.errs = append(sink.errs, err)
}
