package metrics

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveconnect/internal/events"
)

// RegistryStats exposes the connection registry size.
type RegistryStats interface {
	Stats() (conns, topics int)
}

// Collector gathers liveconnect gauges at scrape time and owns the event counters.
// It implements the observer interfaces of the call engine, session service and registry.
type Collector struct {
	registry  RegistryStats
	startTime time.Time

	connectionsDesc *prometheus.Desc
	topicsDesc      *prometheus.Desc
	uptimeDesc      *prometheus.Desc

	callTransitions *prometheus.CounterVec
	sessionOutcomes *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	droppedConns    prometheus.Counter
}

// NewCollector creates a collector. registry may be nil.
func NewCollector(registry RegistryStats, startTime time.Time) *Collector {
	return &Collector{
		registry:  registry,
		startTime: startTime,

		connectionsDesc: prometheus.NewDesc(
			"liveconnect_ws_connections",
			"Open websocket connections on this process",
			nil, nil,
		),
		topicsDesc: prometheus.NewDesc(
			"liveconnect_registry_topics",
			"Topics with at least one local subscriber",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"liveconnect_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),

		callTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveconnect_call_transitions_total",
			Help: "Persisted call transitions by resulting state",
		}, []string{"state"}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveconnect_session_outcomes_total",
			Help: "Instant session admissions and status changes by outcome",
		}, []string{"outcome"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liveconnect_publish_failures_total",
			Help: "Events that could not be published to the bus, by event type",
		}, []string{"type"}),
		droppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liveconnect_ws_dropped_total",
			Help: "Connections dropped because their send queue was full",
		}),
	}
}

// SetRegistry attaches the connection registry. Call it before the first scrape; the registry
// itself takes the collector as its drop observer, so the two are built in sequence.
func (c *Collector) SetRegistry(r RegistryStats) { c.registry = r }

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectionsDesc
	ch <- c.topicsDesc
	ch <- c.uptimeDesc
	c.callTransitions.Describe(ch)
	c.sessionOutcomes.Describe(ch)
	c.publishFailures.Describe(ch)
	c.droppedConns.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.registry != nil {
		conns, topics := c.registry.Stats()
		ch <- prometheus.MustNewConstMetric(c.connectionsDesc, prometheus.GaugeValue, float64(conns))
		ch <- prometheus.MustNewConstMetric(c.topicsDesc, prometheus.GaugeValue, float64(topics))
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())

	c.callTransitions.Collect(ch)
	c.sessionOutcomes.Collect(ch)
	c.publishFailures.Collect(ch)
	c.droppedConns.Collect(ch)
}

func (c *Collector) CallTransition(to string) { c.callTransitions.WithLabelValues(to).Inc() }

func (c *Collector) SessionOutcome(outcome string) { c.sessionOutcomes.WithLabelValues(outcome).Inc() }

func (c *Collector) ConnectionDropped() { c.droppedConns.Inc() }

// CountingPublisher wraps a Publisher and counts failures by event type.
type CountingPublisher struct {
	next events.Publisher
	c    *Collector
}

func (c *Collector) WrapPublisher(next events.Publisher) *CountingPublisher {
	return &CountingPublisher{next: next, c: c}
}

func (p *CountingPublisher) Publish(ctx context.Context, e events.Event) error {
	err := p.next.Publish(ctx, e)
	if err != nil {
		p.c.publishFailures.WithLabelValues(string(e.Type())).Inc()
	}
	return err
}

// Handler serves the given registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// NewRegistry returns a registry holding the collector plus Go and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
