// Package metrics exposes the relay's Prometheus instrumentation. Metric
// names are stable; dashboards and alerts depend on them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements relay.Observer and carries the ingest-side counters
// that the UDP handler drives directly.
type Collector struct {
	received     prometheus.Counter
	parsed       prometheus.Counter
	parseErrors  prometheus.Counter
	conversions  prometheus.Counter
	convErrors   prometheus.Counter
	sent         prometheus.Counter
	sendErrors   prometheus.Counter
	processing   prometheus.Histogram
	activeDevs   prometheus.Gauge
	takConnected prometheus.Gauge
}

// New registers the relay metric set on reg and returns the collector.
// Pass prometheus.NewRegistry() in tests to avoid global registration.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpgga_messages_received_total",
			Help: "UDP datagrams received on the ingest socket.",
		}),
		parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpgga_messages_parsed_total",
			Help: "GPGGA sentences parsed successfully.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpgga_parse_errors_total",
			Help: "Datagrams rejected by the GPGGA parser.",
		}),
		conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cot_conversions_total",
			Help: "Records converted to CoT events.",
		}),
		convErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cot_conversion_errors_total",
			Help: "Records that failed CoT serialization.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cot_messages_sent_total",
			Help: "CoT events handed to the TAK link.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cot_send_errors_total",
			Help: "CoT events dropped because the TAK queue was full or closed.",
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "message_processing_seconds",
			Help:    "End-to-end latency from datagram receipt to queue handoff.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		activeDevs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_devices_count",
			Help: "Devices seen within the current expiry window.",
		}),
		takConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tak_connection_status",
			Help: "1 when the TAK link is connected, 0 otherwise.",
		}),
	}
	reg.MustRegister(
		c.received, c.parsed, c.parseErrors,
		c.conversions, c.convErrors, c.sent, c.sendErrors,
		c.processing, c.activeDevs, c.takConnected,
	)
	return c
}

// Ingest-side hooks, called by the UDP handler.

func (c *Collector) MessageReceived() { c.received.Inc() }
func (c *Collector) MessageParsed()   { c.parsed.Inc() }
func (c *Collector) ParseError()      { c.parseErrors.Inc() }

// relay.Observer implementation.

func (c *Collector) RecordProcessed(d time.Duration) {
	c.conversions.Inc()
	c.processing.Observe(d.Seconds())
}

func (c *Collector) ConversionError() { c.convErrors.Inc() }

func (c *Collector) EventSent() { c.sent.Inc() }

func (c *Collector) SendError() { c.sendErrors.Inc() }

func (c *Collector) NewDevice(string) {}

func (c *Collector) SetActiveDevices(n int) { c.activeDevs.Set(float64(n)) }

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.takConnected.Set(1)
	} else {
		c.takConnected.Set(0)
	}
}
