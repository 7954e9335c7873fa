package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	queue := newEventQueue(nil)
	sink := queueSink{queue: queue}
	sink.Event(RawEvent{Type: Created, Path: "a"})
	sink.Error(errors.New("boom"))
	sink.Event(RawEvent{Type: Deleted, Path: "b"})
	sink.Error(nil)
	require.Equal(t, 3, queue.len())

	ctx := context.Background()
	first, err := queue.take(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.event.Path)

	second, err := queue.take(ctx)
	require.NoError(t, err)
	assert.EqualError(t, second.err, "boom")

	third, err := queue.take(ctx)
	require.NoError(t, err)
	assert.Equal(t, Deleted, third.event.Type)
	assert.Equal(t, 0, queue.len())
}

func TestEventQueueTakeBlocksUntilPush(t *testing.T) {
	queue := newEventQueue(nil)
	got := make(chan queueItem, 1)
	go func() {
		item, err := queue.take(context.Background())
		if err == nil {
			got <- item
		}
	}()

	select {
	case <-got:
		t.Fatal("take returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	queue.push(queueItem{event: RawEvent{Path: "late"}})
	select {
	case item := <-got:
		assert.Equal(t, "late", item.event.Path)
	case <-time.After(time.Second):
		t.Fatal("take did not wake after push")
	}
}

func TestEventQueueTakeHonorsCancel(t *testing.T) {
	queue := newEventQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := queue.take(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventQueueConcurrentProducers(t *testing.T) {
	queue := newEventQueue(nil)
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				queue.push(queueItem{event: RawEvent{Type: Changed}})
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < producers*perProducer; i++ {
		_, err := queue.take(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, 0, queue.len())
}
