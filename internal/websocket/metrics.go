package websocket

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks hub activity. Counters are always kept in memory and are
// also recorded on an OpenTelemetry meter when one is attached.
type Metrics struct {
	totalConnections  atomic.Int64
	activeConnections atomic.Int64
	messagesSent      atomic.Int64
	messagesReceived  atomic.Int64
	bytesSent         atomic.Int64
	droppedMessages   atomic.Int64

	connections metric.Int64UpDownCounter
	messages    metric.Int64Counter
	dropped     metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewMetrics creates metrics; a nil meter keeps them in memory only
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	if meter == nil {
		return m, nil
	}

	var (
		errs []error
		err  error
	)
	m.connections, err = meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Number of connected websocket clients"))
	errs = append(errs, err)

	m.messages, err = meter.Int64Counter("websocket_messages_total",
		metric.WithDescription("Websocket messages by direction"))
	errs = append(errs, err)

	m.dropped, err = meter.Int64Counter("websocket_messages_dropped_total",
		metric.WithDescription("Messages dropped because a client was too slow"))
	errs = append(errs, err)

	m.duration, err = meter.Float64Histogram("websocket_connection_duration_seconds",
		metric.WithDescription("How long clients stayed connected"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordConnection records a new connection
func (m *Metrics) RecordConnection(ctx context.Context) {
	m.totalConnections.Add(1)
	m.activeConnections.Add(1)
	if m.connections != nil {
		m.connections.Add(ctx, 1)
	}
}

// RecordDisconnection records a client leaving after duration
func (m *Metrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	m.activeConnections.Add(-1)
	if m.connections != nil {
		m.connections.Add(ctx, -1)
		m.duration.Record(ctx, duration.Seconds())
	}
}

// RecordSent records a message delivered to a client's queue
func (m *Metrics) RecordSent(ctx context.Context, size int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(size))
	if m.messages != nil {
		m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "out")))
	}
}

// RecordReceived records a message read from a client
func (m *Metrics) RecordReceived(ctx context.Context) {
	m.messagesReceived.Add(1)
	if m.messages != nil {
		m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "in")))
	}
}

// RecordDropped records a message a client could not take
func (m *Metrics) RecordDropped(ctx context.Context) {
	m.droppedMessages.Add(1)
	if m.dropped != nil {
		m.dropped.Add(ctx, 1)
	}
}

// Snapshot returns the in-memory counters
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"total_connections":  m.totalConnections.Load(),
		"active_connections": m.activeConnections.Load(),
		"messages_sent":      m.messagesSent.Load(),
		"messages_received":  m.messagesReceived.Load(),
		"bytes_sent":         m.bytesSent.Load(),
		"dropped_messages":   m.droppedMessages.Load(),
	}
}
