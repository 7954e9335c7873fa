package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"filewatch/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(context.Background(), HubOptions{HistorySize: 8, Registry: metrics.New()})
	t.Cleanup(func() {
		_ = hub.Close()
	})
	return hub
}

func receiveNotification(t *testing.T, notifications <-chan Notification) Notification {
	t.Helper()
	select {
	case notification := <-notifications:
		return notification
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func TestHubSubscribePublish(t *testing.T) {
	hub := newTestHub(t)

	notifications := make(chan Notification, 1)
	id := hub.Subscribe(EventTypeChange, func(notification Notification) {
		notifications <- notification
	})
	require.NotEmpty(t, id)

	hub.Publish(Notification{
		EventType: EventTypeChange,
		Change:    &ChangeEvent{ChangeType: Changed, FullPath: "/w/a.txt"},
	})

	notification := receiveNotification(t, notifications)
	require.NotNil(t, notification.Change)
	assert.Equal(t, "/w/a.txt", notification.Change.FullPath)
	assert.False(t, notification.Timestamp().IsZero())
}

func TestHubUnsubscribe(t *testing.T) {
	hub := newTestHub(t)

	notifications := make(chan Notification, 1)
	id := hub.Subscribe(EventTypeChange, func(notification Notification) {
		notifications <- notification
	})
	hub.Unsubscribe(id)
	assert.Equal(t, 0, hub.SubscriberCount())

	hub.Publish(Notification{EventType: EventTypeChange})

	select {
	case <-notifications:
		t.Fatal("unexpected notification after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubStreamsAttachedWatcher(t *testing.T) {
	hub := newTestHub(t)
	fixture := newWatcherFixture(t, Options{})
	require.NoError(t, hub.Attach(fixture.watcher))
	require.NoError(t, hub.Attach(fixture.watcher))
	assert.Len(t, hub.Watchers(), 1)

	changes, cancelChanges := hub.Stream(EventTypeChange)
	defer cancelChanges()
	all, cancelAll := hub.Stream()
	defer cancelAll()

	require.NoError(t, fixture.watcher.Start())
	path := fixture.path("a.txt")
	fixture.raise(t, RawEvent{Type: Created, Path: path})
	fixture.flush(t, 1)

	notification := receiveNotification(t, changes)
	assert.Equal(t, EventTypeChange, notification.Type())
	assert.Equal(t, fixture.watcher.ID(), notification.WatcherID)
	assert.Equal(t, ChangeEvent{ChangeType: Created, FullPath: path}, *notification.Change)

	require.True(t, fixture.source.raiseError(fixture.root, errors.New("overflow")))
	assert.Equal(t, EventTypeChange, receiveNotification(t, all).Type())
	failure := receiveNotification(t, all)
	assert.Equal(t, EventTypeWatchError, failure.Type())
	assert.Equal(t, "overflow", failure.Message)

	assert.Len(t, hub.Recent(1), 1)
	assert.Len(t, hub.Recent(0), 2)
}

func TestHubCloseClosesWatchersAndStreams(t *testing.T) {
	hub := newTestHub(t)
	fixture := newWatcherFixture(t, Options{})
	require.NoError(t, hub.Attach(fixture.watcher))
	require.NoError(t, fixture.watcher.Start())

	stream, cancel := hub.Stream()
	defer cancel()

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	assert.False(t, fixture.watcher.Running())
	assert.Empty(t, hub.Watchers())
	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}
