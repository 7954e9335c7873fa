//go:build !darwin

package watcher

import (
	"fmt"

	"filewatch/internal/logging"
)

func newFSEventsSource(_ *logging.Logger) (Source, error) {
	return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, BackendFSEvents)
}
