package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	// Connection metrics
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	disconnectsTotal  prometheus.Counter

	// Message metrics
	messagesProcessed prometheus.Counter
	messagesReceived  *prometheus.CounterVec // by message type

	// Broadcast metrics
	broadcastsTotal prometheus.Counter
	broadcastFanout prometheus.Histogram
	sendFailures    prometheus.Counter

	// Game state metrics
	onlinePlayers prometheus.Gauge
	activeEvents  prometheus.Gauge
	playersSwept  prometheus.Counter
}

// NewMetrics creates a new metrics instance registered against reg. Each
// server owns its own registry so tests can build isolated instances.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_connections",
				Help: "Current number of open client connections",
			},
		),
		connectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_connections_total",
				Help: "Total number of client connections accepted",
			},
		),
		disconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_disconnects_total",
				Help: "Total number of client connections finalized",
			},
		),
		messagesProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_messages_processed_total",
				Help: "Total number of inbound messages processed",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_received_total",
				Help: "Total number of messages received from clients by type",
			},
			[]string{"type"},
		),
		broadcastsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_broadcasts_total",
				Help: "Total number of messages broadcast (unique messages, not deliveries)",
			},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_broadcast_fanout",
				Help:    "Number of clients that received each broadcast message",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		sendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_send_failures_total",
				Help: "Total number of failed broadcast deliveries",
			},
		),
		onlinePlayers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_online_players",
				Help: "Current number of tracked player states",
			},
		),
		activeEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_events",
				Help: "Current number of active timed global events",
			},
		),
		playersSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_players_swept_total",
				Help: "Total number of stale player states removed by the sweep",
			},
		),
	}
}

// RecordConnect increments the connection counters
func (m *Metrics) RecordConnect() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

// RecordDisconnect decrements the active gauge and counts the disconnect
func (m *Metrics) RecordDisconnect() {
	m.disconnectsTotal.Inc()
	m.activeConnections.Dec()
}

// RecordMessage counts a processed inbound message
func (m *Metrics) RecordMessage() {
	m.messagesProcessed.Inc()
}

// RecordMessageReceived increments the received counter for a message type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordBroadcast records one broadcast and how many clients received it
func (m *Metrics) RecordBroadcast(recipientCount int) {
	m.broadcastsTotal.Inc()
	m.broadcastFanout.Observe(float64(recipientCount))
}

// RecordSendFailure counts a failed delivery to a single connection
func (m *Metrics) RecordSendFailure() {
	m.sendFailures.Inc()
}

// RecordOnlinePlayers updates the tracked player count
func (m *Metrics) RecordOnlinePlayers(count int) {
	m.onlinePlayers.Set(float64(count))
}

// RecordActiveEvents updates the active event count
func (m *Metrics) RecordActiveEvents(count int) {
	m.activeEvents.Set(float64(count))
}

// RecordPlayersSwept counts stale player states removed by the sweep
func (m *Metrics) RecordPlayersSwept(count int) {
	m.playersSwept.Add(float64(count))
}
