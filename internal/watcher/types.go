package watcher

import (
	"encoding/json"
	"fmt"
	"time"

	"filewatch/internal/logging"
	"filewatch/internal/metrics"

	"github.com/benbjohnson/clock"
)

// ChangeType classifies a logical change.
type ChangeType int

const (
	Created ChangeType = iota + 1
	Deleted
	Changed
	Renamed
)

func (changeType ChangeType) String() string {
	switch changeType {
	case Created:
		return "Created"
	case Deleted:
		return "Deleted"
	case Changed:
		return "Changed"
	case Renamed:
		return "Renamed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(changeType))
	}
}

func (changeType ChangeType) valid() bool {
	return changeType >= Created && changeType <= Renamed
}

// ParseChangeType is the inverse of ChangeType.String.
func ParseChangeType(value string) (ChangeType, error) {
	switch value {
	case "Created":
		return Created, nil
	case "Deleted":
		return Deleted, nil
	case "Changed":
		return Changed, nil
	case "Renamed":
		return Renamed, nil
	default:
		return 0, fmt.Errorf("unknown change type %q", value)
	}
}

func (changeType ChangeType) MarshalJSON() ([]byte, error) {
	if !changeType.valid() {
		return nil, fmt.Errorf("unknown change type %d", int(changeType))
	}
	return json.Marshal(changeType.String())
}

func (changeType *ChangeType) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	parsed, err := ParseChangeType(value)
	if err != nil {
		return err
	}
	*changeType = parsed
	return nil
}

// ChangeEvent is a single logical change. OldFullPath is set only for Renamed.
type ChangeEvent struct {
	ChangeType  ChangeType `json:"changeType"`
	FullPath    string     `json:"fullPath"`
	OldFullPath string     `json:"oldFullPath"`
}

// HasOldFullPath reports whether OldFullPath carries meaning.
func (event ChangeEvent) HasOldFullPath() bool {
	return event.ChangeType == Renamed
}

func (event ChangeEvent) MarshalJSON() ([]byte, error) {
	payload := struct {
		ChangeType  ChangeType `json:"changeType"`
		FullPath    string     `json:"fullPath"`
		OldFullPath *string    `json:"oldFullPath"`
	}{
		ChangeType: event.ChangeType,
		FullPath:   event.FullPath,
	}
	if event.HasOldFullPath() {
		old := event.OldFullPath
		payload.OldFullPath = &old
	}
	return json.Marshal(payload)
}

func (event ChangeEvent) String() string {
	if event.HasOldFullPath() {
		return fmt.Sprintf("%s %s -> %s", event.ChangeType, event.OldFullPath, event.FullPath)
	}
	return fmt.Sprintf("%s %s", event.ChangeType, event.FullPath)
}

// RawEvent is an unprocessed notification from a Source.
type RawEvent struct {
	Type      ChangeType
	Path      string
	OldPath   string
	Timestamp time.Time
}

// RawSink receives raw notifications from a Source. Implementations must be
// safe for concurrent use; sources call it from their own goroutines.
type RawSink interface {
	Event(RawEvent)
	Error(error)
}

// Handle releases resources held by a raw watch.
type Handle interface {
	Close() error
}

// Source is the platform watch primitive. Watch starts reporting changes
// below path to sink until the returned Handle is closed.
type Source interface {
	Watch(path string, options SourceOptions, sink RawSink) (Handle, error)
}

// SourceOptions are applied by a Source to the events it raises.
type SourceOptions struct {
	Filter       string
	NotifyFilter NotifyFilter
	Recursive    bool
}

// Invoker runs fn on a caller-designated execution context and returns once
// fn has completed there.
type Invoker func(fn func())

// Options controls FileWatcher behavior.
type Options struct {
	FolderPath            string
	Filter                string
	NotifyFilter          NotifyFilter
	IncludeSubdirectories bool
	Invoker               Invoker

	Debounce      time.Duration
	SpamThreshold time.Duration

	Logger  *logging.Logger
	Metrics *metrics.Registry
	Source  Source
	Clock   clock.Clock
}
