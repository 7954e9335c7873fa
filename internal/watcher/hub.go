package watcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"filewatch/internal/event"
	"filewatch/internal/logging"
	"filewatch/internal/metrics"
)

const (
	EventTypeChange     = "change"
	EventTypeWatchError = "watch_error"
	EventTypeWatchLog   = "watch_log"
)

const defaultHubHistory = 256

// Notification is published on the hub bus for every delivered change,
// error and log message of an attached watcher.
type Notification struct {
	EventType  string       `json:"type"`
	WatcherID  string       `json:"watcherId"`
	Change     *ChangeEvent `json:"change,omitempty"`
	Message    string       `json:"message,omitempty"`
	OccurredAt time.Time    `json:"timestamp"`
}

func (notification Notification) Type() string {
	return notification.EventType
}

func (notification Notification) Timestamp() time.Time {
	return notification.OccurredAt
}

var _ event.Event = Notification{}

type HubOptions struct {
	Name        string
	HistorySize int
	Registry    *metrics.Registry
	Logger      *logging.Logger
}

// Hub fans watcher activity out to any number of subscribers.
type Hub struct {
	mutex         sync.Mutex
	watchers      map[string]*FileWatcher
	subscriptions map[string]func()
	nextID        uint64
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	bus           *event.Bus[Notification]
}

// NewHub creates a Hub tied to the provided context.
func NewHub(ctx context.Context, options HubOptions) *Hub {
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Name == "" {
		options.Name = "watcher_events"
	}
	if options.HistorySize <= 0 {
		options.HistorySize = defaultHubHistory
	}
	derived, cancel := context.WithCancel(ctx)
	hub := &Hub{
		watchers:      make(map[string]*FileWatcher),
		subscriptions: make(map[string]func()),
		ctx:           derived,
		cancel:        cancel,
		bus: event.NewBus[Notification](derived, event.BusOptions{
			Name:        options.Name,
			HistorySize: options.HistorySize,
			Registry:    options.Registry,
			Logger:      options.Logger,
		}),
	}
	go func() {
		<-derived.Done()
		_ = hub.Close()
	}()
	return hub
}

// Attach publishes the watcher's changes, errors and log messages. Attaching
// the same watcher twice is a no-op.
func (hub *Hub) Attach(watcher *FileWatcher) error {
	if hub == nil {
		return errors.New("hub is nil")
	}
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	hub.mutex.Lock()
	if _, ok := hub.watchers[watcher.ID()]; ok {
		hub.mutex.Unlock()
		return nil
	}
	hub.watchers[watcher.ID()] = watcher
	hub.mutex.Unlock()

	onChange := func(source *FileWatcher, change ChangeEvent) {
		hub.Publish(Notification{
			EventType: EventTypeChange,
			WatcherID: source.ID(),
			Change:    &change,
		})
	}
	watcher.OnCreated(onChange)
	watcher.OnDeleted(onChange)
	watcher.OnChanged(onChange)
	watcher.OnRenamed(onChange)
	watcher.OnError(func(source *FileWatcher, err error) {
		hub.Publish(Notification{
			EventType: EventTypeWatchError,
			WatcherID: source.ID(),
			Message:   err.Error(),
		})
	})
	watcher.OnLog(func(source *FileWatcher, message string) {
		hub.Publish(Notification{
			EventType: EventTypeWatchLog,
			WatcherID: source.ID(),
			Message:   message,
		})
	})
	return nil
}

// Watchers returns the attached watchers.
func (hub *Hub) Watchers() []*FileWatcher {
	if hub == nil {
		return nil
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	watchers := make([]*FileWatcher, 0, len(hub.watchers))
	for _, watcher := range hub.watchers {
		watchers = append(watchers, watcher)
	}
	return watchers
}

// Publish broadcasts a notification to subscribers of its type.
func (hub *Hub) Publish(notification Notification) {
	if hub == nil || hub.bus == nil || notification.EventType == "" {
		return
	}
	if notification.OccurredAt.IsZero() {
		notification.OccurredAt = time.Now().UTC()
	}
	hub.bus.Publish(notification)
}

// Stream returns a channel of notifications. With no types every
// notification is delivered. The cancel func must be called when done.
func (hub *Hub) Stream(eventTypes ...string) (<-chan Notification, func()) {
	if hub == nil || hub.bus == nil {
		closed := make(chan Notification)
		close(closed)
		return closed, func() {}
	}
	if len(eventTypes) == 0 {
		return hub.bus.Subscribe()
	}
	return hub.bus.SubscribeTypes(eventTypes...)
}

// Recent returns up to count of the latest notifications, oldest first.
func (hub *Hub) Recent(count int) []Notification {
	if hub == nil || hub.bus == nil {
		return nil
	}
	history := hub.bus.DumpHistory()
	if count > 0 && len(history) > count {
		history = history[len(history)-count:]
	}
	return history
}

// Subscribe registers a listener for an event type.
func (hub *Hub) Subscribe(eventType string, listener func(Notification)) string {
	if hub == nil || hub.bus == nil || eventType == "" || listener == nil {
		return ""
	}

	notifications, cancel := hub.bus.SubscribeType(eventType)

	hub.mutex.Lock()
	hub.nextID++
	id := strconv.FormatUint(hub.nextID, 10)
	hub.subscriptions[id] = cancel
	hub.mutex.Unlock()

	go func() {
		for notification := range notifications {
			listener(notification)
		}
	}()

	return id
}

// Unsubscribe removes a subscription by ID.
func (hub *Hub) Unsubscribe(id string) {
	if hub == nil || id == "" {
		return
	}

	hub.mutex.Lock()
	cancel, ok := hub.subscriptions[id]
	delete(hub.subscriptions, id)
	hub.mutex.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}

// Close shuts down the hub and closes every attached watcher.
func (hub *Hub) Close() error {
	if hub == nil {
		return nil
	}

	var closeErr error
	hub.closeOnce.Do(func() {
		hub.mutex.Lock()
		watchers := hub.watchers
		hub.watchers = make(map[string]*FileWatcher)
		subscriptions := hub.subscriptions
		hub.subscriptions = make(map[string]func())
		hub.mutex.Unlock()

		var errs []error
		for _, watcher := range watchers {
			if err := watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		closeErr = errors.Join(errs...)

		for _, cancel := range subscriptions {
			if cancel != nil {
				cancel()
			}
		}
		if hub.cancel != nil {
			hub.cancel()
		}
		if hub.bus != nil {
			hub.bus.Close()
		}
	})
	return closeErr
}

// SubscriberCount reports the number of active subscriptions.
func (hub *Hub) SubscriberCount() int {
	if hub == nil {
		return 0
	}
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.subscriptions)
}
