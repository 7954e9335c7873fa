package watcher

import (
	"errors"
	"fmt"
	"strings"

	"filewatch/internal/logging"
)

const (
	BackendFSNotify = "fsnotify"
	BackendFSEvents = "fsevents"
)

var ErrBackendUnavailable = errors.New("watch backend unavailable on this platform")

// NewSource returns the raw watch primitive for backend. An empty name
// selects fsnotify.
func NewSource(backend string, logger *logging.Logger) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFSNotify:
		return NewFSNotifySource(logger), nil
	case BackendFSEvents:
		return newFSEventsSource(logger)
	default:
		return nil, fmt.Errorf("unknown watch backend %q", backend)
	}
}
