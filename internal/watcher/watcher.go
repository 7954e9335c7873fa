package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"filewatch/internal/fsutil"
	"filewatch/internal/logging"
	"filewatch/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	fieldCategory  = "filewatch.category"
	fieldWatcherID = "filewatch.watcher_id"
)

var ErrClosed = errors.New("watcher is closed")

// FileWatcher reports debounced, normalized changes below one folder,
// following symbolic links into the trees they point at.
type FileWatcher struct {
	id         string
	options    Options
	logger     *logging.Logger
	metrics    *metrics.Registry
	clock      clock.Clock
	source     Source
	dispatcher *dispatcher

	mutex     sync.Mutex
	closed    bool
	run       *watchRun
	startedAt time.Time

	// raising is set while the worker delivers to error or log handlers so
	// a handler that calls Stop does not wait on its own goroutine.
	raising atomic.Bool
}

// watchRun holds everything created by one Start and torn down by Stop.
type watchRun struct {
	root       string
	queue      *eventQueue
	processor  *Processor
	manager    *linkManager
	cancel     context.CancelFunc
	done       chan struct{}
	active     atomic.Bool
	disposeErr error
}

// Stats is a point-in-time view of a FileWatcher.
type Stats struct {
	ID            string    `json:"id"`
	Root          string    `json:"root"`
	Running       bool      `json:"running"`
	ActiveWatches int       `json:"activeWatches"`
	QueueDepth    int       `json:"queueDepth"`
	Pending       int       `json:"pending"`
	StartedAt     time.Time `json:"startedAt"`
}

// New creates a FileWatcher for folderPath with default options.
func New(folderPath string) (*FileWatcher, error) {
	return NewWithOptions(Options{FolderPath: folderPath})
}

// NewWithOptions creates a FileWatcher with custom options. The watcher is
// idle until Start is called.
func NewWithOptions(options Options) (*FileWatcher, error) {
	if options.FolderPath == "" {
		return nil, errors.New("folder path is required")
	}
	if options.Filter == "" {
		options.Filter = defaultFilter
	}
	if err := ValidateFilter(options.Filter); err != nil {
		return nil, err
	}
	if options.NotifyFilter == 0 {
		options.NotifyFilter = DefaultNotifyFilter
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.SpamThreshold <= 0 {
		options.SpamThreshold = DefaultSpamThreshold
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}

	id := uuid.NewString()
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	logger = logger.With(map[string]string{
		fieldCategory:  "watcher",
		fieldWatcherID: id,
	})
	if options.Source == nil {
		options.Source = NewFSNotifySource(logger)
	}

	watcher := &FileWatcher{
		id:      id,
		options: options,
		logger:  logger,
		metrics: options.Metrics,
		clock:   options.Clock,
		source:  options.Source,
	}
	watcher.dispatcher = newDispatcher(watcher, options.Invoker, options.Metrics)
	return watcher, nil
}

func (watcher *FileWatcher) ID() string {
	if watcher == nil {
		return ""
	}
	return watcher.id
}

// Root returns the configured folder path.
func (watcher *FileWatcher) Root() string {
	if watcher == nil {
		return ""
	}
	return watcher.options.FolderPath
}

func (watcher *FileWatcher) OnCreated(handler ChangeHandler) {
	watcher.onChange(Created, handler)
}

func (watcher *FileWatcher) OnDeleted(handler ChangeHandler) {
	watcher.onChange(Deleted, handler)
}

func (watcher *FileWatcher) OnChanged(handler ChangeHandler) {
	watcher.onChange(Changed, handler)
}

func (watcher *FileWatcher) OnRenamed(handler ChangeHandler) {
	watcher.onChange(Renamed, handler)
}

func (watcher *FileWatcher) OnError(handler ErrorHandler) {
	if watcher == nil {
		return
	}
	watcher.dispatcher.addError(handler)
}

func (watcher *FileWatcher) OnLog(handler LogHandler) {
	if watcher == nil {
		return
	}
	watcher.dispatcher.addLog(handler)
}

func (watcher *FileWatcher) onChange(changeType ChangeType, handler ChangeHandler) {
	if watcher == nil {
		return
	}
	watcher.dispatcher.addChange(changeType, handler)
}

// Start begins watching. A missing folder is not an error: the watcher
// stays idle. Calling Start on a running watcher is a no-op.
func (watcher *FileWatcher) Start() error {
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed {
		return ErrClosed
	}
	if watcher.run != nil {
		return nil
	}
	if !fsutil.DirExists(watcher.options.FolderPath) {
		watcher.logger.Debug("watch folder missing, not starting", map[string]string{
			"path": watcher.options.FolderPath,
		})
		return nil
	}
	root, err := fsutil.CanonicalPath(watcher.options.FolderPath)
	if err != nil {
		return fmt.Errorf("resolve watch folder: %w", err)
	}

	run := &watchRun{
		root:  root,
		queue: newEventQueue(watcher.metrics),
		done:  make(chan struct{}),
	}
	run.processor = NewProcessor(ProcessorOptions{
		Delay:         watcher.options.Debounce,
		SpamThreshold: watcher.options.SpamThreshold,
		Clock:         watcher.clock,
		Logger:        watcher.logger,
		Metrics:       watcher.metrics,
		Emit: func(events []ChangeEvent) {
			if run.active.Load() {
				watcher.dispatcher.dispatch(events)
			}
		},
		OnLog: func(message string) {
			watcher.raiseLog(run, message)
		},
		OnFatal: func(err error) {
			watcher.fatal(run, err)
		},
	})
	sourceOptions := SourceOptions{
		Filter:       watcher.options.Filter,
		NotifyFilter: watcher.options.NotifyFilter,
		Recursive:    watcher.options.IncludeSubdirectories,
	}
	linkOptions := sourceOptions
	linkOptions.Recursive = true
	run.manager = newLinkManager(linkManagerOptions{
		Root:        root,
		RootOptions: sourceOptions,
		LinkOptions: linkOptions,
		Source:      watcher.source,
		Sink:        queueSink{queue: run.queue},
		Logger:      watcher.logger,
		Metrics:     watcher.metrics,
		OnLog: func(message string) {
			watcher.raiseLog(run, message)
		},
	})
	if err := run.manager.create(); err != nil {
		_ = run.manager.dispose()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	run.active.Store(true)
	watcher.run = run
	watcher.startedAt = watcher.clock.Now()
	go watcher.work(ctx, run)

	watcher.logger.Info("watcher started", map[string]string{
		"path":           root,
		"recursive":      strconv.FormatBool(watcher.options.IncludeSubdirectories),
		"active_watches": strconv.Itoa(run.manager.count()),
	})
	return nil
}

// Stop halts delivery, releases every raw watch and stops the worker.
// Buffered events are discarded. Stop on an idle watcher is a no-op.
func (watcher *FileWatcher) Stop() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	run := watcher.run
	watcher.run = nil
	watcher.mutex.Unlock()
	if run == nil {
		return nil
	}

	run.active.Store(false)
	run.processor.Stop()
	run.cancel()
	if watcher.raising.Load() {
		// Called from a handler on the worker; it disposes on exit.
		return nil
	}
	<-run.done
	watcher.logger.Info("watcher stopped", map[string]string{
		"path": run.root,
	})
	return run.disposeErr
}

// Close stops the watcher and prevents further starts. Safe to call more
// than once and after Stop.
func (watcher *FileWatcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	watcher.closed = true
	watcher.mutex.Unlock()
	return watcher.Stop()
}

// Running reports whether the worker is active.
func (watcher *FileWatcher) Running() bool {
	if watcher == nil {
		return false
	}
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.run != nil
}

// Stats reports the current watcher state.
func (watcher *FileWatcher) Stats() Stats {
	if watcher == nil {
		return Stats{}
	}
	watcher.mutex.Lock()
	run := watcher.run
	stats := Stats{
		ID:   watcher.id,
		Root: watcher.options.FolderPath,
	}
	if run != nil {
		stats.Running = true
		stats.Root = run.root
		stats.StartedAt = watcher.startedAt
	}
	watcher.mutex.Unlock()
	if run != nil {
		stats.ActiveWatches = run.manager.count()
		stats.QueueDepth = run.queue.len()
		stats.Pending = run.processor.Pending()
	}
	return stats
}

// work is the single consumer of the raw queue. It owns the link registry
// and disposes it on exit.
func (watcher *FileWatcher) work(ctx context.Context, run *watchRun) {
	defer close(run.done)
	defer func() {
		run.disposeErr = run.manager.dispose()
	}()
	for {
		item, err := run.queue.take(ctx)
		if err != nil {
			return
		}
		if item.err != nil {
			watcher.platformError(run, item.err)
			continue
		}
		event := item.event
		watcher.metrics.IncRawEvent(event.Type.String())
		run.manager.handleEvent(event)
		run.processor.Process(ChangeEvent{
			ChangeType:  event.Type,
			FullPath:    event.Path,
			OldFullPath: event.OldPath,
		})
	}
}

func (watcher *FileWatcher) platformError(run *watchRun, err error) {
	watcher.metrics.IncError("platform")
	watcher.logger.Warn("watch error", map[string]string{
		"error": err.Error(),
	})
	watcher.raiseError(run, err)
}

// fatal stops the watcher after an unrecoverable failure.
func (watcher *FileWatcher) fatal(run *watchRun, err error) {
	watcher.raiseError(run, err)
	watcher.mutex.Lock()
	current := watcher.run == run
	watcher.mutex.Unlock()
	if current {
		_ = watcher.Stop()
	}
}

func (watcher *FileWatcher) raiseError(run *watchRun, err error) {
	if !run.active.Load() {
		return
	}
	watcher.raising.Store(true)
	defer watcher.raising.Store(false)
	watcher.dispatcher.raiseError(err)
}

func (watcher *FileWatcher) raiseLog(run *watchRun, message string) {
	if !run.active.Load() {
		return
	}
	watcher.raising.Store(true)
	defer watcher.raising.Store(false)
	watcher.dispatcher.raiseLog(message)
}
