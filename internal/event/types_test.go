package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var _ Event = LogEvent{}

func TestNewLogEvent(t *testing.T) {
	event := NewLogEvent("warning", "busy", map[string]string{"path": "/tmp/a"})

	assert.Equal(t, "log_entry", event.Type())
	assert.Equal(t, "warning", event.Level)
	assert.Equal(t, "/tmp/a", event.Context["path"])
	assert.Equal(t, time.UTC, event.Timestamp().Location())
}
