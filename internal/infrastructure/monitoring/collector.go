package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports the server's streaming metrics to Prometheus. All
// methods are nil-safe so metrics can be switched off by injecting a
// nil collector.
type Collector struct {
	peersConnected prometheus.Gauge

	framesSentTotal    prometheus.Counter
	framesDroppedTotal *prometheus.CounterVec
	bytesSentTotal     prometheus.Counter
	audioPacketsTotal  prometheus.Counter
	backlogDropsTotal  prometheus.Counter

	frameProcessingSeconds prometheus.Histogram
	rttSeconds             prometheus.Histogram
}

// NewCollector registers the mirrorcast metrics with reg; pass
// prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mirrorcast_peers_connected",
			Help: "Number of connected receivers",
		}),

		framesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorcast_frames_sent_total",
			Help: "Total video frames fanned out",
		}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mirrorcast_frames_dropped_total",
			Help: "Total frames dropped, by reason",
		}, []string{"reason"}),

		bytesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorcast_bytes_sent_total",
			Help: "Total payload bytes submitted to receivers",
		}),

		audioPacketsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorcast_audio_packets_total",
			Help: "Total audio packets fanned out",
		}),

		backlogDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mirrorcast_backlog_drops_total",
			Help: "Frames dropped because a receiver's backlog exceeded the high-water mark",
		}),

		frameProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirrorcast_frame_processing_seconds",
			Help:    "Capture-encode-send duration per tick",
			Buckets: []float64{0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25, 0.5},
		}),

		rttSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mirrorcast_rtt_seconds",
			Help:    "Round-trip samples derived from receiver acks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
	}
}

func (c *Collector) PeerConnected() {
	if c != nil {
		c.peersConnected.Inc()
	}
}

func (c *Collector) PeerDisconnected() {
	if c != nil {
		c.peersConnected.Dec()
	}
}

func (c *Collector) FrameSent(bytes int, processing time.Duration) {
	if c == nil {
		return
	}
	c.framesSentTotal.Inc()
	c.bytesSentTotal.Add(float64(bytes))
	c.frameProcessingSeconds.Observe(processing.Seconds())
}

func (c *Collector) FrameDropped(reason string) {
	if c != nil {
		c.framesDroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) BacklogDrop() {
	if c != nil {
		c.backlogDropsTotal.Inc()
	}
}

func (c *Collector) AudioPacket(bytes int) {
	if c == nil {
		return
	}
	c.audioPacketsTotal.Inc()
	c.bytesSentTotal.Add(float64(bytes))
}

func (c *Collector) ObserveRTT(rtt time.Duration) {
	if c != nil {
		c.rttSeconds.Observe(rtt.Seconds())
	}
}
