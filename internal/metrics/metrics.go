package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every relay metric.
const Namespace = "relay"

// Stream outcomes used as the outcome label.
const (
	OutcomeCompleted          = "completed"
	OutcomeFailed             = "failed"
	OutcomeClientDisconnected = "client_disconnected"
	OutcomeRejected           = "rejected"
)

// Collector holds the relay's Prometheus collectors. All methods are safe for
// concurrent use, and a nil *Collector records nothing.
type Collector struct {
	streams        *prometheus.CounterVec
	inProgress     prometheus.Gauge
	chunks         prometheus.Counter
	upstreamErrors *prometheus.CounterVec
	firstChunk     prometheus.Histogram
	duration       prometheus.Histogram
}

// NewCollector registers the relay collectors on r.
func NewCollector(r prometheus.Registerer) *Collector {
	f := promauto.With(r)
	return &Collector{
		streams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "streams_total",
			Help:      "Relayed streams by outcome",
		}, []string{"outcome"}),
		inProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "streams_in_progress",
			Help:      "Streams currently being relayed",
		}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_relayed_total",
			Help:      "Chunks written and flushed to clients",
		}),
		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by error kind",
		}, []string{"kind"}),
		firstChunk: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stream_first_chunk_seconds",
			Help:      "Time from request to first chunk pulled from the backend",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "stream_duration_seconds",
			Help:      "Total stream duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
}

// StreamStarted marks a stream as in flight. The returned func must be called
// exactly once when it ends.
func (c *Collector) StreamStarted() (done func(outcome string, elapsed time.Duration)) {
	if c == nil {
		return func(string, time.Duration) {}
	}
	c.inProgress.Inc()
	return func(outcome string, elapsed time.Duration) {
		c.inProgress.Dec()
		c.streams.WithLabelValues(outcome).Inc()
		c.duration.Observe(elapsed.Seconds())
	}
}

// FirstChunk records time to first chunk.
func (c *Collector) FirstChunk(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.firstChunk.Observe(elapsed.Seconds())
}

// ChunkRelayed counts a chunk that reached the client.
func (c *Collector) ChunkRelayed() {
	if c == nil {
		return
	}
	c.chunks.Inc()
}

// UpstreamError counts a backend failure by kind.
func (c *Collector) UpstreamError(kind string) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(kind).Inc()
}

// Rejected counts a request refused before any stream was opened.
func (c *Collector) Rejected() {
	if c == nil {
		return
	}
	c.streams.WithLabelValues(OutcomeRejected).Inc()
}
