package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sync"

	"filewatch/internal/fsutil"
	"filewatch/internal/logging"
	"filewatch/internal/metrics"
	"filewatch/internal/version"
	"filewatch/internal/watcher"
)

func runWatch(args []string, deps commandDeps) int {
	cfg, err := loadConfig(commandWatch, args, deps.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(deps.Stderr, err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintln(deps.Stdout, version.Describe("filewatch"))
		return 0
	}

	logger := newLogger(cfg, deps.Stderr)
	defer func() {
		_ = logger.Sync()
	}()
	logStartupSources(logger, cfg)

	ctx, stop := notifyShutdown(context.Background(), logger)
	defer stop()

	if err := watchFolder(ctx, cfg, deps.Stdout, logger, nil); err != nil {
		logger.Error("watch failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

// watchFolder prints every change below the configured folder until ctx is
// cancelled. A nil source selects the configured backend.
func watchFolder(ctx context.Context, cfg Config, out io.Writer, logger *logging.Logger, source watcher.Source) error {
	fileWatcher, err := newFolderWatcher(cfg, logger, metrics.New(), source)
	if err != nil {
		return err
	}
	defer func() {
		_ = fileWatcher.Close()
	}()

	printer := &changePrinter{out: out}
	fileWatcher.OnCreated(printer.print)
	fileWatcher.OnDeleted(printer.print)
	fileWatcher.OnChanged(printer.print)
	fileWatcher.OnRenamed(printer.print)
	fileWatcher.OnError(func(_ *watcher.FileWatcher, err error) {
		logger.Warn("watch error", map[string]string{
			"error": err.Error(),
		})
	})
	fileWatcher.OnLog(func(_ *watcher.FileWatcher, message string) {
		logger.Info(message, nil)
	})

	if err := fileWatcher.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return fileWatcher.Close()
}

// newFolderWatcher validates the folder and builds a watcher from cfg.
func newFolderWatcher(cfg Config, logger *logging.Logger, registry *metrics.Registry, source watcher.Source) (*watcher.FileWatcher, error) {
	options, err := cfg.Settings.WatcherOptions("")
	if err != nil {
		return nil, err
	}
	if !fsutil.DirExists(options.FolderPath) {
		return nil, fmt.Errorf("folder %s does not exist", options.FolderPath)
	}
	if source == nil {
		source, err = watcher.NewSource(cfg.Settings.Watch.Backend, logger)
		if err != nil {
			return nil, err
		}
	}
	options.Logger = logger
	options.Metrics = registry
	options.Source = source
	return watcher.NewWithOptions(options)
}

// changePrinter writes one line per change. Handlers may run concurrently
// when an invoker is configured, so writes are serialized.
type changePrinter struct {
	mutex sync.Mutex
	out   io.Writer
}

func (printer *changePrinter) print(_ *watcher.FileWatcher, change watcher.ChangeEvent) {
	printer.mutex.Lock()
	defer printer.mutex.Unlock()
	fmt.Fprintln(printer.out, formatChange(change))
}

func formatChange(change watcher.ChangeEvent) string {
	line := fmt.Sprintf("[cha] %s | %s", change.ChangeType, change.FullPath)
	if change.ChangeType == watcher.Renamed && change.OldFullPath != "" {
		line += " <- " + change.OldFullPath
	}
	return line
}
