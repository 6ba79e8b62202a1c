package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Peer connection metrics
	PeerConnected(clientID string)
	PeerDisconnected(clientID string)
	PeerFailure(clientID, reason string)

	// Data channel messaging metrics
	MessageSent(clientID string)
	MessageAcked(clientID string)
	MessageRetried(clientID string)
	MessageDropped(clientID string)
	MessageDeduplicated(clientID string)
	ChunkSent(clientID string)
	ChunkReassembled(clientID string)

	// Audio pipeline metrics
	AudioFrameReceived(clientID string, sizeBytes int)
	AudioPacketForwarded(clientID string, sizeBytes int)
	AudioFrameDroppedByVAD(clientID string)
	AudioFrameDroppedNotReady(clientID string)
	AudioUnderrun(clientID string)

	// Speech session metrics
	SessionStarted(clientID string)
	SessionClosed(clientID string)
	ToolInvoked(toolName string, success bool)

	// Error metrics
	ErrorOccurred(clientID, errorType string)

	// HTTP handler for metrics endpoint
	Handler() http.Handler
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	activePeers     prometheus.Gauge
	peerConnections *prometheus.CounterVec
	peerDisconnects *prometheus.CounterVec
	peerFailures    *prometheus.CounterVec

	messagesSent    *prometheus.CounterVec
	messagesAcked   *prometheus.CounterVec
	messagesRetried *prometheus.CounterVec
	messagesDropped *prometheus.CounterVec
	messagesDeduped *prometheus.CounterVec
	chunksSent      *prometheus.CounterVec
	chunksRebuilt   *prometheus.CounterVec

	audioFramesIn    *prometheus.CounterVec
	audioPacketsOut  *prometheus.CounterVec
	audioBytesIn     *prometheus.CounterVec
	audioVADDrops    *prometheus.CounterVec
	audioGateDrops   *prometheus.CounterVec
	audioUnderruns   *prometheus.CounterVec
	audioPacketBytes *prometheus.HistogramVec

	activeSessions prometheus.Gauge
	toolCalls      *prometheus.CounterVec

	errors *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		activePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_peers",
			Help: "Number of active WebRTC peers",
		}),

		peerConnections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_peer_connections_total",
				Help: "Total number of WebRTC peer connections",
			},
			[]string{"client_id"},
		),

		peerDisconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_peer_disconnects_total",
				Help: "Total number of WebRTC peer disconnections",
			},
			[]string{"client_id"},
		),

		peerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_peer_failures_total",
				Help: "Total number of WebRTC peer failures",
			},
			[]string{"client_id", "reason"},
		),

		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_messages_sent_total",
				Help: "Total number of data channel messages sent",
			},
			[]string{"client_id"},
		),

		messagesAcked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_messages_acked_total",
				Help: "Total number of data channel messages acknowledged",
			},
			[]string{"client_id"},
		),

		messagesRetried: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_messages_retried_total",
				Help: "Total number of data channel message retries",
			},
			[]string{"client_id"},
		),

		messagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_messages_dropped_total",
				Help: "Total number of data channel messages dropped after retry exhaustion",
			},
			[]string{"client_id"},
		),

		messagesDeduped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_messages_deduplicated_total",
				Help: "Total number of duplicate data channel messages discarded",
			},
			[]string{"client_id"},
		),

		chunksSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_chunks_sent_total",
				Help: "Total number of message chunks sent",
			},
			[]string{"client_id"},
		),

		chunksRebuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_chunks_reassembled_total",
				Help: "Total number of chunked messages reassembled",
			},
			[]string{"client_id"},
		),

		audioFramesIn: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_frames_received_total",
				Help: "Total number of inbound audio frames",
			},
			[]string{"client_id"},
		),

		audioPacketsOut: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_packets_forwarded_total",
				Help: "Total number of audio packets forwarded to the speech stream",
			},
			[]string{"client_id"},
		),

		audioBytesIn: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_bytes_received_total",
				Help: "Total inbound audio bytes",
			},
			[]string{"client_id"},
		),

		audioVADDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_vad_drops_total",
				Help: "Total number of audio windows dropped as non-speech",
			},
			[]string{"client_id"},
		),

		audioGateDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_not_ready_drops_total",
				Help: "Total number of audio frames dropped before session readiness",
			},
			[]string{"client_id"},
		),

		audioUnderruns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_audio_underruns_total",
				Help: "Total number of output buffer underruns",
			},
			[]string{"client_id"},
		),

		audioPacketBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voicebridge_audio_packet_bytes",
				Help:    "Size of forwarded audio packets in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
			},
			[]string{"client_id"},
		),

		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_sessions",
			Help: "Number of active speech sessions",
		}),

		toolCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),

		errors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voicebridge_errors_total",
				Help: "Total number of errors",
			},
			[]string{"client_id", "error_type"},
		),
	}
}

// PeerConnected records a new peer connection
func (c *PrometheusCollector) PeerConnected(clientID string) {
	c.activePeers.Inc()
	c.peerConnections.WithLabelValues(clientID).Inc()
}

// PeerDisconnected records a peer disconnection
func (c *PrometheusCollector) PeerDisconnected(clientID string) {
	c.activePeers.Dec()
	c.peerDisconnects.WithLabelValues(clientID).Inc()
}

// PeerFailure records a peer failure
func (c *PrometheusCollector) PeerFailure(clientID, reason string) {
	c.peerFailures.WithLabelValues(clientID, reason).Inc()
}

// MessageSent records a sent data channel message
func (c *PrometheusCollector) MessageSent(clientID string) {
	c.messagesSent.WithLabelValues(clientID).Inc()
}

// MessageAcked records an acknowledged message
func (c *PrometheusCollector) MessageAcked(clientID string) {
	c.messagesAcked.WithLabelValues(clientID).Inc()
}

// MessageRetried records a message retry
func (c *PrometheusCollector) MessageRetried(clientID string) {
	c.messagesRetried.WithLabelValues(clientID).Inc()
}

// MessageDropped records a message dropped after retry exhaustion
func (c *PrometheusCollector) MessageDropped(clientID string) {
	c.messagesDropped.WithLabelValues(clientID).Inc()
}

// MessageDeduplicated records a discarded duplicate message
func (c *PrometheusCollector) MessageDeduplicated(clientID string) {
	c.messagesDeduped.WithLabelValues(clientID).Inc()
}

// ChunkSent records a sent chunk
func (c *PrometheusCollector) ChunkSent(clientID string) {
	c.chunksSent.WithLabelValues(clientID).Inc()
}

// ChunkReassembled records a reassembled chunked message
func (c *PrometheusCollector) ChunkReassembled(clientID string) {
	c.chunksRebuilt.WithLabelValues(clientID).Inc()
}

// AudioFrameReceived records an inbound audio frame
func (c *PrometheusCollector) AudioFrameReceived(clientID string, sizeBytes int) {
	c.audioFramesIn.WithLabelValues(clientID).Inc()
	c.audioBytesIn.WithLabelValues(clientID).Add(float64(sizeBytes))
}

// AudioPacketForwarded records an audio packet forwarded to the speech stream
func (c *PrometheusCollector) AudioPacketForwarded(clientID string, sizeBytes int) {
	c.audioPacketsOut.WithLabelValues(clientID).Inc()
	c.audioPacketBytes.WithLabelValues(clientID).Observe(float64(sizeBytes))
}

// AudioFrameDroppedByVAD records an audio window dropped as non-speech
func (c *PrometheusCollector) AudioFrameDroppedByVAD(clientID string) {
	c.audioVADDrops.WithLabelValues(clientID).Inc()
}

// AudioFrameDroppedNotReady records a frame dropped before session readiness
func (c *PrometheusCollector) AudioFrameDroppedNotReady(clientID string) {
	c.audioGateDrops.WithLabelValues(clientID).Inc()
}

// AudioUnderrun records an output buffer underrun
func (c *PrometheusCollector) AudioUnderrun(clientID string) {
	c.audioUnderruns.WithLabelValues(clientID).Inc()
}

// SessionStarted records a started speech session
func (c *PrometheusCollector) SessionStarted(clientID string) {
	c.activeSessions.Inc()
}

// SessionClosed records a closed speech session
func (c *PrometheusCollector) SessionClosed(clientID string) {
	c.activeSessions.Dec()
}

// ToolInvoked records a tool invocation
func (c *PrometheusCollector) ToolInvoked(toolName string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.toolCalls.WithLabelValues(toolName, status).Inc()
}

// ErrorOccurred records an error
func (c *PrometheusCollector) ErrorOccurred(clientID, errorType string) {
	c.errors.WithLabelValues(clientID, errorType).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.Handler()
}
