package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"filewatch/internal/metrics"
	"filewatch/internal/watcher"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialEvents(t *testing.T, handler http.Handler, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	return conn
}

func newStreamHub(t *testing.T) *watcher.Hub {
	t.Helper()
	hub := watcher.NewHub(context.Background(), watcher.HubOptions{HistorySize: 8, Registry: metrics.New()})
	t.Cleanup(func() {
		_ = hub.Close()
	})
	return hub
}

func TestEventsHandlerStreamsFilteredNotifications(t *testing.T) {
	hub := newStreamHub(t)
	conn := dialEvents(t, &EventsHandler{Hub: hub}, "?types=change")

	hub.Publish(watcher.Notification{EventType: watcher.EventTypeWatchLog, Message: "skip"})
	hub.Publish(watcher.Notification{
		EventType: watcher.EventTypeChange,
		WatcherID: "w1",
		Change:    &watcher.ChangeEvent{ChangeType: watcher.Renamed, FullPath: "/w/b", OldFullPath: "/w/a"},
	})

	var payload map[string]any
	require.NoError(t, conn.ReadJSON(&payload))
	assert.Equal(t, "change", payload["type"])
	assert.Equal(t, "w1", payload["watcherId"])
	change := payload["change"].(map[string]any)
	assert.Equal(t, "Renamed", change["changeType"])
	assert.Equal(t, "/w/a", change["oldFullPath"])
}

func TestEventsHandlerReplaysHistory(t *testing.T) {
	hub := newStreamHub(t)
	hub.Publish(watcher.Notification{EventType: watcher.EventTypeWatchError, Message: "first"})
	hub.Publish(watcher.Notification{EventType: watcher.EventTypeWatchLog, Message: "second"})
	hub.Publish(watcher.Notification{EventType: watcher.EventTypeWatchLog, Message: "third"})

	conn := dialEvents(t, &EventsHandler{Hub: hub}, "?replay=2&types=watch_log")

	var first, second watcher.Notification
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "second", first.Message)
	assert.Equal(t, "third", second.Message)
}

func TestEventsHandlerRequiresToken(t *testing.T) {
	srv := httptest.NewServer(&EventsHandler{Hub: newStreamHub(t), AuthToken: "secret"})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, response)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=secret", nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestEventsHandlerUnavailableCloses(t *testing.T) {
	conn := dialEvents(t, &EventsHandler{}, "")

	var envelope wsErrorPayload
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, "error", envelope.Type)
	assert.Equal(t, http.StatusServiceUnavailable, envelope.Status)

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, "event stream unavailable", closeErr.Text)
}

func TestParseReplay(t *testing.T) {
	count, err := parseReplay("")
	assert.Nil(t, err)
	assert.Equal(t, 0, count)

	count, err = parseReplay("5000")
	assert.Nil(t, err)
	assert.Equal(t, maxEventReplay, count)

	_, err = parseReplay("-1")
	require.NotNil(t, err)
	assert.Equal(t, http.StatusBadRequest, err.Status)
}
