// Package metrics exports tree runtime and event bus activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/behave/internal/core/bt"
	"github.com/zeusync/behave/internal/core/events/bus"
)

const namespace = "behave"

// Collector implements bt.Observer and bus.EventBusObserver on its own registry.
type Collector struct {
	registry *prometheus.Registry

	nodesStarted   *prometheus.CounterVec
	nodesFinished  *prometheus.CounterVec
	treeTicks      *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	eventsHandled  *prometheus.CounterVec
	eventReceivers *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	instances      *prometheus.GaugeVec

	busPublished *prometheus.CounterVec
	busHandlers  *prometheus.CounterVec
	busErrors    *prometheus.CounterVec
	busDuration  *prometheus.HistogramVec
}

var (
	_ bt.Observer          = (*Collector)(nil)
	_ bus.EventBusObserver = (*Collector)(nil)
)

// New creates a collector. With processMetrics the Go runtime and process
// collectors are registered too.
func New(processMetrics bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		nodesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_started_total",
			Help:      "Node activations, by tree and node type.",
		}, []string{"tree", "type"}),
		nodesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_finished_total",
			Help:      "Node terminations, by tree, node type and outcome.",
		}, []string{"tree", "type", "status", "aborted"}),
		treeTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_ticks_total",
			Help:      "Completed ticks, by tree and root status.",
		}, []string{"tree", "status"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one tree tick.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"tree"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events delivered to a running tree.",
		}, []string{"tree", "event"}),
		eventReceivers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_receivers_total",
			Help:      "Nodes that received an event.",
		}, []string{"tree", "event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped by the cascade limit.",
		}, []string{"tree", "event"}),
		instances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances",
			Help:      "Spawned tree instances.",
		}, []string{"tree"}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Events published on the bus.",
		}, []string{"topic", "type"}),
		busHandlers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_calls_total",
			Help:      "Handler invocations.",
		}, []string{"topic"}),
		busErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "errors_total",
			Help:      "Publishes where at least one handler failed.",
		}, []string{"topic"}),
		busDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver one event to all handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
	c.registry.MustRegister(
		c.nodesStarted, c.nodesFinished, c.treeTicks, c.tickDuration,
		c.eventsHandled, c.eventReceivers, c.eventsDropped, c.instances,
		c.busPublished, c.busHandlers, c.busErrors, c.busDuration,
	)
	if processMetrics {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry is the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) NodeStarted(_ bt.ActorID, tree string, node bt.NodeInfo) {
	c.nodesStarted.WithLabelValues(tree, node.Type).Inc()
}

func (c *Collector) NodeFinished(_ bt.ActorID, tree string, node bt.NodeInfo, status bt.Status, aborted bool) {
	c.nodesFinished.WithLabelValues(tree, node.Type, status.String(), strconv.FormatBool(aborted)).Inc()
}

func (c *Collector) TreeTicked(_ bt.ActorID, tree string, status bt.Status, elapsed time.Duration) {
	c.treeTicks.WithLabelValues(tree, status.String()).Inc()
	c.tickDuration.WithLabelValues(tree).Observe(elapsed.Seconds())
}

func (c *Collector) EventDelivered(_ bt.ActorID, tree string, ev bt.Event, receivers int) {
	c.eventsHandled.WithLabelValues(tree, ev.Name()).Inc()
	c.eventReceivers.WithLabelValues(tree, ev.Name()).Add(float64(receivers))
}

func (c *Collector) EventDropped(_ bt.ActorID, tree string, ev bt.Event) {
	c.eventsDropped.WithLabelValues(tree, ev.Name()).Inc()
}

// InstanceSpawned and InstanceDespawned track the number of live instances per tree.
func (c *Collector) InstanceSpawned(_ bt.ActorID, tree string) {
	c.instances.WithLabelValues(tree).Inc()
}

func (c *Collector) InstanceDespawned(_ bt.ActorID, tree string) {
	c.instances.WithLabelValues(tree).Dec()
}

func (c *Collector) OnPublish(topic, eventType string, _ bus.Event) {
	c.busPublished.WithLabelValues(topic, eventType).Inc()
}

func (c *Collector) OnDelivered(topic, _ string, handlers int, err error, duration time.Duration) {
	c.busHandlers.WithLabelValues(topic).Add(float64(handlers))
	if err != nil {
		c.busErrors.WithLabelValues(topic).Inc()
	}
	c.busDuration.WithLabelValues(topic).Observe(duration.Seconds())
}
