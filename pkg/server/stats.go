package server

import (
	"sync/atomic"
	"time"
)

// StatsCollector tracks connection and message counters for the health
// surface. Counters are atomics so handlers on different connection
// goroutines can record without holding a lock. The active connection count
// is floored at zero; the disconnect finalizer guarantees one decrement per
// connection, so hitting the floor indicates a caller bug rather than an
// expected condition.
type StatsCollector struct {
	startTime time.Time

	totalConnections  atomic.Uint64
	activeConnections atomic.Int64
	messagesProcessed atomic.Uint64

	metrics *Metrics // optional Prometheus mirror
}

// StatsSnapshot is a point-in-time read of the counters.
type StatsSnapshot struct {
	TotalConnections  uint64
	ActiveConnections int64
	MessagesProcessed uint64
	StartTime         time.Time
	Uptime            time.Duration
}

// NewStatsCollector creates a stats collector starting its uptime clock now.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{startTime: time.Now()}
}

// SetMetrics attaches a Prometheus mirror to the collector.
func (c *StatsCollector) SetMetrics(metrics *Metrics) {
	c.metrics = metrics
}

// RecordConnect counts a newly accepted connection.
func (c *StatsCollector) RecordConnect() {
	c.totalConnections.Add(1)
	c.activeConnections.Add(1)

	if c.metrics != nil {
		c.metrics.RecordConnect()
	}
}

// RecordDisconnect counts a finalized connection. Callers must invoke it
// exactly once per connection regardless of how many termination signals the
// transport raises.
func (c *StatsCollector) RecordDisconnect() {
	for {
		active := c.activeConnections.Load()
		if active <= 0 {
			break
		}
		if c.activeConnections.CompareAndSwap(active, active-1) {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.RecordDisconnect()
	}
}

// RecordMessage counts a processed inbound message.
func (c *StatsCollector) RecordMessage() {
	c.messagesProcessed.Add(1)

	if c.metrics != nil {
		c.metrics.RecordMessage()
	}
}

// Snapshot returns the current counter values.
func (c *StatsCollector) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalConnections:  c.totalConnections.Load(),
		ActiveConnections: c.activeConnections.Load(),
		MessagesProcessed: c.messagesProcessed.Load(),
		StartTime:         c.startTime,
		Uptime:            time.Since(c.startTime),
	}
}
