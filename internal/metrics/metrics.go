package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filewatch"

// Registry holds the watcher metrics. All methods are safe on a nil receiver.
type Registry struct {
	registry *prometheus.Registry

	rawEvents       *prometheus.CounterVec
	emittedEvents   *prometheus.CounterVec
	coalescedEvents prometheus.Counter
	flushes         prometheus.Counter
	flushSize       prometheus.Histogram
	activeWatches   prometheus.Gauge
	queueDepth      prometheus.Gauge
	spamWarnings    prometheus.Counter
	errors          *prometheus.CounterVec
	busPublished    *prometheus.CounterVec
	busDropped      *prometheus.CounterVec
	busSubscribers  *prometheus.GaugeVec
}

// New builds a Registry backed by its own prometheus registry.
func New() *Registry {
	registry := prometheus.NewRegistry()
	r := &Registry{
		registry: registry,
		rawEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_events_total",
			Help:      "Raw notifications received from watch sources.",
		}, []string{"type"}),
		emittedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emitted_events_total",
			Help:      "Normalized change events delivered to listeners.",
		}, []string{"type"}),
		coalescedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_events_total",
			Help:      "Buffered events removed by normalization.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Debounce windows flushed.",
		}),
		flushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_size",
			Help:      "Buffered events per flush before normalization.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		activeWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_watches",
			Help:      "Raw watch handles currently open.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Raw events waiting for the worker.",
		}),
		spamWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spam_warnings_total",
			Help:      "Warnings raised for long uninterrupted event bursts.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by kind.",
		}, []string{"kind"}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on an event bus.",
		}, []string{"bus", "type"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped for slow bus subscribers.",
		}, []string{"bus", "type"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Active subscribers per event bus.",
		}, []string{"bus", "filtered"}),
	}
	registry.MustRegister(
		r.rawEvents,
		r.emittedEvents,
		r.coalescedEvents,
		r.flushes,
		r.flushSize,
		r.activeWatches,
		r.queueDepth,
		r.spamWarnings,
		r.errors,
		r.busPublished,
		r.busDropped,
		r.busSubscribers,
	)
	return r
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func (r *Registry) WithRuntimeCollectors() *Registry {
	if r.disabled() {
		return nil
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Default is the process-wide registry used when callers pass none.
var Default = New()

func (r *Registry) IncRawEvent(changeType string) {
	if r.disabled() {
		return
	}
	r.rawEvents.WithLabelValues(normalizeLabel(changeType)).Inc()
}

func (r *Registry) IncEmitted(changeType string) {
	if r.disabled() {
		return
	}
	r.emittedEvents.WithLabelValues(normalizeLabel(changeType)).Inc()
}

// ObserveFlush records one flush of buffered raw events that produced
// emitted normalized events.
func (r *Registry) ObserveFlush(buffered, emitted int) {
	if r.disabled() {
		return
	}
	r.flushes.Inc()
	r.flushSize.Observe(float64(buffered))
	if buffered > emitted {
		r.coalescedEvents.Add(float64(buffered - emitted))
	}
}

func (r *Registry) AddActiveWatches(delta int) {
	if r.disabled() {
		return
	}
	r.activeWatches.Add(float64(delta))
}

func (r *Registry) SetQueueDepth(depth int) {
	if r.disabled() {
		return
	}
	r.queueDepth.Set(float64(depth))
}

func (r *Registry) IncSpamWarning() {
	if r.disabled() {
		return
	}
	r.spamWarnings.Inc()
}

func (r *Registry) IncError(kind string) {
	if r.disabled() {
		return
	}
	r.errors.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r.disabled() {
		return
	}
	r.busPublished.WithLabelValues(normalizeLabel(bus), normalizeLabel(eventType)).Inc()
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r.disabled() {
		return
	}
	r.busDropped.WithLabelValues(normalizeLabel(bus), normalizeLabel(eventType)).Inc()
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r.disabled() {
		return
	}
	name := normalizeLabel(bus)
	r.busSubscribers.WithLabelValues(name, "true").Set(float64(filtered))
	r.busSubscribers.WithLabelValues(name, "false").Set(float64(unfiltered))
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r.disabled() {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// disabled covers nil and zero-value registries.
func (r *Registry) disabled() bool {
	return r == nil || r.registry == nil
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return strings.ToLower(value)
}
