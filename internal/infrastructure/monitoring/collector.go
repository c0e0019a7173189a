package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector publishes dispatcher counters to Prometheus.
type Collector struct {
	commandSessions   prometheus.Gauge
	streamingSessions prometheus.Gauge

	chunksDispatched prometheus.Counter
	chunksDeferred   prometheus.Counter
	bytesDispatched  prometheus.Counter
	clientsSkipped   prometheus.Counter
	rateChanges      prometheus.Counter

	sampleRate prometheus.Gauge
	pingRTT    prometheus.Histogram
}

// NewCollector registers the streaming metrics with the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		commandSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slimcast_command_sessions",
			Help: "Number of live SlimProto control sessions",
		}),

		streamingSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slimcast_streaming_sessions",
			Help: "Number of live HTTP audio sessions",
		}),

		chunksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "slimcast_chunks_dispatched_total",
			Help: "Total number of chunks fanned out to audio sessions",
		}),

		chunksDeferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "slimcast_chunks_deferred_total",
			Help: "Total number of chunk deliveries deferred back to the producer",
		}),

		bytesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "slimcast_bytes_dispatched_total",
			Help: "Total PCM bytes accepted for fan-out",
		}),

		clientsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "slimcast_clients_skipped_total",
			Help: "Total number of per-client chunk deliveries skipped on rate mismatch",
		}),

		rateChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "slimcast_rate_changes_total",
			Help: "Total number of committed sampling rate transitions",
		}),

		sampleRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "slimcast_sample_rate_hz",
			Help: "Currently committed sampling rate",
		}),

		pingRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slimcast_ping_rtt_seconds",
			Help:    "Round-trip latency measured by the periodic ping",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// NewDefaultCollector registers with the global default registry.
func NewDefaultCollector() *Collector {
	return NewCollector(prometheus.DefaultRegisterer)
}

func (c *Collector) CommandSessionOpened()   { c.commandSessions.Inc() }
func (c *Collector) CommandSessionClosed()   { c.commandSessions.Dec() }
func (c *Collector) StreamingSessionOpened() { c.streamingSessions.Inc() }
func (c *Collector) StreamingSessionClosed() { c.streamingSessions.Dec() }

func (c *Collector) ChunkDispatched(recipients, bytes int) {
	c.chunksDispatched.Inc()
	c.bytesDispatched.Add(float64(bytes))
}

func (c *Collector) ChunkDeferred() { c.chunksDeferred.Inc() }

func (c *Collector) ClientsSkipped(count int) {
	c.clientsSkipped.Add(float64(count))
}

func (c *Collector) RateChanged(sampleRate int) {
	c.rateChanges.Inc()
	c.sampleRate.Set(float64(sampleRate))
}

func (c *Collector) PingRTT(rtt time.Duration) {
	c.pingRTT.Observe(rtt.Seconds())
}
