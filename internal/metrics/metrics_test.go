package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCountsWatcherActivity(t *testing.T) {
	registry := New()

	registry.IncRawEvent("Created")
	registry.IncRawEvent("Created")
	registry.IncEmitted("Changed")
	registry.ObserveFlush(5, 2)
	registry.AddActiveWatches(3)
	registry.AddActiveWatches(-1)
	registry.SetQueueDepth(7)
	registry.IncSpamWarning()
	registry.IncError("invariant")

	assert.Equal(t, 2.0, testutil.ToFloat64(registry.rawEvents.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.emittedEvents.WithLabelValues("changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.flushes))
	assert.Equal(t, 3.0, testutil.ToFloat64(registry.coalescedEvents))
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.activeWatches))
	assert.Equal(t, 7.0, testutil.ToFloat64(registry.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.spamWarnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.errors.WithLabelValues("invariant")))
}

func TestRegistryEventBusMetrics(t *testing.T) {
	registry := New()

	registry.IncEventPublished("stream", "change")
	registry.IncEventDropped("stream", "")
	registry.SetEventSubscriberCounts("stream", 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.busPublished.WithLabelValues("stream", "change")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.busDropped.WithLabelValues("stream", "unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.busSubscribers.WithLabelValues("stream", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.busSubscribers.WithLabelValues("stream", "false")))
}

func TestRegistryHandlerServesExposition(t *testing.T) {
	registry := New()
	registry.IncRawEvent("Deleted")

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(recorder.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `filewatch_raw_events_total{type="deleted"} 1`)
}

func TestRegistryNilAndZeroValueAreSafe(t *testing.T) {
	for _, registry := range []*Registry{nil, {}} {
		registry.IncRawEvent("Created")
		registry.ObserveFlush(1, 1)
		registry.AddActiveWatches(1)
		registry.IncEventPublished("bus", "type")
		registry.SetEventSubscriberCounts("bus", 1, 1)
		families, err := registry.Gatherer().Gather()
		require.NoError(t, err)
		assert.Empty(t, families)
	}
}
