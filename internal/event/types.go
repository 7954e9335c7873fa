package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// LogEvent wraps log data for streaming.
type LogEvent struct {
	EventType  string            `json:"type"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
}

func NewLogEvent(level, message string, context map[string]string) LogEvent {
	return LogEvent{
		EventType:  "log_entry",
		Level:      level,
		Message:    message,
		Context:    context,
		OccurredAt: time.Now().UTC(),
	}
}

func (e LogEvent) Type() string {
	return e.EventType
}

func (e LogEvent) Timestamp() time.Time {
	return e.OccurredAt
}
