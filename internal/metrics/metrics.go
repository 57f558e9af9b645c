// Package metrics exposes the streaming client's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	Sessions        prometheus.Counter
	ChunksCreated   prometheus.Counter
	ChunksSent      prometheus.Counter
	SendFailures    prometheus.Counter
	ResultsReceived prometheus.Counter
	ResultsDropped  *prometheus.CounterVec
	ResultErrors    prometheus.Counter
	Merges          prometheus.Counter

	ConnectionStatus prometheus.Gauge
	ChunksInFlight   prometheus.Gauge

	RoundTrip      prometheus.Histogram
	ProcessingTime prometheus.Histogram
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them through Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_sessions_total",
			Help: "Total number of audio sources loaded",
		}),
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_chunks_created_total",
			Help: "Total number of chunks produced by windowing",
		}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_chunks_sent_total",
			Help: "Total number of chunks written to the connection",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_chunk_send_failures_total",
			Help: "Total number of chunk sends that failed",
		}),
		ResultsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_results_received_total",
			Help: "Total number of transcription results applied to a chunk",
		}),
		ResultsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_results_dropped_total",
			Help: "Total number of inbound results dropped",
		}, []string{"reason"}),
		ResultErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_result_errors_total",
			Help: "Total number of results the service flagged as errors",
		}),
		Merges: f.NewCounter(prometheus.CounterOpts{
			Name: "gostt_transcript_merges_total",
			Help: "Total number of debounced transcript recomputations",
		}),
		ConnectionStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_connection_status",
			Help: "Connection status (0 connecting, 1 connected, 2 disconnected)",
		}),
		ChunksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_chunks_in_flight",
			Help: "Chunks sent and awaiting a transcript",
		}),
		RoundTrip: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_chunk_round_trip_seconds",
			Help:    "Time from sending a chunk to receiving its transcript",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_service_processing_seconds",
			Help:    "Processing time reported by the transcription service",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) SessionStarted(chunks int) {
	if m == nil {
		return
	}
	m.Sessions.Inc()
	m.ChunksCreated.Add(float64(chunks))
	m.ChunksInFlight.Set(0)
}

func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
	m.ChunksInFlight.Inc()
}

func (m *Metrics) ChunkSendFailed() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// ResultApplied records a result for a known chunk. roundTrip is zero when
// the send time is unknown; processing is the service-reported time.
func (m *Metrics) ResultApplied(wasSent bool, roundTrip, processing time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.ResultsReceived.Inc()
	if wasSent {
		m.ChunksInFlight.Dec()
	}
	if roundTrip > 0 {
		m.RoundTrip.Observe(roundTrip.Seconds())
	}
	if processing > 0 {
		m.ProcessingTime.Observe(processing.Seconds())
	}
	if failed {
		m.ResultErrors.Inc()
	}
}

// ResultDropped records a discarded inbound message. reason is a short
// label such as "malformed" or "unknown_chunk".
func (m *Metrics) ResultDropped(reason string) {
	if m == nil {
		return
	}
	m.ResultsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Merged() {
	if m == nil {
		return
	}
	m.Merges.Inc()
}

// SetConnectionStatus records the numeric connection status.
func (m *Metrics) SetConnectionStatus(status int) {
	if m == nil {
		return
	}
	m.ConnectionStatus.Set(float64(status))
}
