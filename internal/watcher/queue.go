package watcher

import (
	"context"
	"sync"

	"filewatch/internal/metrics"
)

type queueItem struct {
	event RawEvent
	err   error
}

// eventQueue is an unbounded FIFO. push never blocks, so a slow worker
// cannot stall the raw sources.
type eventQueue struct {
	mutex   sync.Mutex
	items   []queueItem
	notify  chan struct{}
	metrics *metrics.Registry
}

func newEventQueue(registry *metrics.Registry) *eventQueue {
	return &eventQueue{
		notify:  make(chan struct{}, 1),
		metrics: registry,
	}
}

func (queue *eventQueue) push(item queueItem) {
	queue.mutex.Lock()
	queue.items = append(queue.items, item)
	depth := len(queue.items)
	queue.mutex.Unlock()
	queue.metrics.SetQueueDepth(depth)

	select {
	case queue.notify <- struct{}{}:
	default:
	}
}

// take blocks until an item is available or ctx is done.
func (queue *eventQueue) take(ctx context.Context) (queueItem, error) {
	for {
		queue.mutex.Lock()
		if len(queue.items) > 0 {
			item := queue.items[0]
			queue.items[0] = queueItem{}
			queue.items = queue.items[1:]
			if len(queue.items) == 0 {
				queue.items = nil
			}
			depth := len(queue.items)
			queue.mutex.Unlock()
			queue.metrics.SetQueueDepth(depth)
			return item, nil
		}
		queue.mutex.Unlock()

		select {
		case <-ctx.Done():
			return queueItem{}, ctx.Err()
		case <-queue.notify:
		}
	}
}

func (queue *eventQueue) len() int {
	queue.mutex.Lock()
	defer queue.mutex.Unlock()
	return len(queue.items)
}

// queueSink adapts the queue to RawSink for sources.
type queueSink struct {
	queue *eventQueue
}

func (sink queueSink) Event(event RawEvent) {
	sink.queue.push(queueItem{event: event})
}

func (sink queueSink) Error(err error) {
	if err == nil {
		return
	}
	sink.queue.push(queueItem{err: err})
}
