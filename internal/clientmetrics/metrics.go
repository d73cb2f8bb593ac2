// Package clientmetrics tracks per-connection traffic for protocol clients.
package clientmetrics

import (
	"sync/atomic"
	"time"

	"github.com/torosent/wsbench/internal/metrics"
)

// ClientMetrics tracks connection and message statistics for one connection.
// The reader and writer sides update it concurrently, so every counter is atomic.
type ClientMetrics struct {
	connectedAt  atomic.Int64 // unix nanos, 0 until connected
	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

// Snapshot is a point-in-time copy of ClientMetrics.
type Snapshot struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the connection time.
func (m *ClientMetrics) MarkConnected() {
	m.connectedAt.Store(time.Now().UnixNano())
}

// IncrementSent counts one outbound message of the given size.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(bytes)
}

// IncrementReceived counts one inbound message of the given size.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.messagesRecv.Add(1)
	m.bytesRecv.Add(bytes)
}

// IncrementErrors increments the transport error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.errors.Add(1)
}

// Snapshot returns the current values.
func (m *ClientMetrics) Snapshot() Snapshot {
	var duration time.Duration
	if at := m.connectedAt.Load(); at != 0 {
		duration = time.Since(time.Unix(0, at))
	}
	return Snapshot{
		ConnectionDuration: duration,
		MessagesSent:       m.messagesSent.Load(),
		MessagesReceived:   m.messagesRecv.Load(),
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesRecv.Load(),
		Errors:             m.errors.Load(),
	}
}

// Traffic converts the snapshot into the run-level traffic record.
func (s Snapshot) Traffic() metrics.Traffic {
	return metrics.Traffic{
		MessagesSent:     s.MessagesSent,
		MessagesReceived: s.MessagesReceived,
		BytesSent:        s.BytesSent,
		BytesReceived:    s.BytesReceived,
	}
}
