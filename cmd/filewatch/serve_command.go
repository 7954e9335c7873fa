package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"filewatch/internal/api"
	"filewatch/internal/logging"
	"filewatch/internal/metrics"
	"filewatch/internal/version"
	"filewatch/internal/watcher"

	"golang.org/x/sync/errgroup"
)

const (
	httpServerShutdownTimeout = 5 * time.Second
	httpReadHeaderTimeout     = 5 * time.Second
)

func runServe(args []string, deps commandDeps) int {
	cfg, err := loadConfig(commandServe, args, deps.Stdout)
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

	listener, err := net.Listen("tcp", cfg.Settings.Server.Addr)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.Settings.Server.Addr,
			"error": err.Error(),
		})
		return 1
	}
	if err := serveFolder(ctx, cfg, listener, logger, nil); err != nil {
		logger.Error("serve failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	return 0
}

// serveFolder watches the configured folder and serves its change stream on
// listener until ctx is cancelled or the server fails. A nil source selects
// the configured backend.
func serveFolder(ctx context.Context, cfg Config, listener net.Listener, logger *logging.Logger, source watcher.Source) error {
	registry := metrics.New().WithRuntimeCollectors()
	startedAt := time.Now().UTC()

	fileWatcher, err := newFolderWatcher(cfg, logger, registry, source)
	if err != nil {
		_ = listener.Close()
		return err
	}

	hub := watcher.NewHub(ctx, watcher.HubOptions{
		HistorySize: int(cfg.Settings.Server.HistorySize),
		Registry:    registry,
		Logger:      logger,
	})
	if err := hub.Attach(fileWatcher); err != nil {
		_ = listener.Close()
		_ = hub.Close()
		return err
	}
	if err := fileWatcher.Start(); err != nil {
		_ = listener.Close()
		_ = hub.Close()
		return err
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RouteConfig{
		Hub:            hub,
		Logger:         logger,
		Metrics:        registry,
		AuthToken:      cfg.Settings.Server.AuthToken,
		AllowedOrigins: cfg.Settings.Server.AllowedOrigins,
		StartedAt:      startedAt,
	})
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", server.Shutdown)
	coordinator.Add("watchers", func(context.Context) error {
		return hub.Close()
	})

	logger.Info("filewatch listening", map[string]string{
		"addr":    listener.Addr().String(),
		"path":    fileWatcher.Root(),
		"version": version.Version,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
		defer cancel()
		return coordinator.Run(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("filewatch stopped", nil)
	return err
}
