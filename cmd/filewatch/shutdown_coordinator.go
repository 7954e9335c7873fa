package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"filewatch/internal/logging"
)

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator runs teardown phases once, in registration order. A
// failing phase does not prevent the ones after it.
type shutdownCoordinator struct {
	logger *logging.Logger
	once   sync.Once
	mutex  sync.Mutex
	phases []shutdownPhase
	err    error
}

func newShutdownCoordinator(logger *logging.Logger) *shutdownCoordinator {
	return &shutdownCoordinator{
		logger: logger,
	}
}

func (coordinator *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if coordinator == nil || stop == nil {
		return
	}
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	coordinator.phases = append(coordinator.phases, shutdownPhase{
		name: name,
		stop: stop,
	})
}

// Run executes every phase. Later calls return the first run's result.
func (coordinator *shutdownCoordinator) Run(ctx context.Context) error {
	if coordinator == nil {
		return nil
	}
	coordinator.once.Do(func() {
		coordinator.mutex.Lock()
		phases := append([]shutdownPhase(nil), coordinator.phases...)
		coordinator.mutex.Unlock()

		var runErr error
		for _, phase := range phases {
			started := time.Now()
			coordinator.logger.Debug("shutdown phase starting", map[string]string{
				"phase": phase.name,
			})
			err := phase.stop(ctx)
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			if err != nil {
				runErr = errors.Join(runErr, fmt.Errorf("%s: %w", phase.name, err))
				coordinator.logger.Warn("shutdown phase failed", map[string]string{
					"phase": phase.name,
					"error": err.Error(),
				})
				continue
			}
			coordinator.logger.Debug("shutdown phase finished", map[string]string{
				"phase":       phase.name,
				"duration_ms": strconv.FormatInt(time.Since(started).Milliseconds(), 10),
			})
		}
		coordinator.err = runErr
	})
	return coordinator.err
}
