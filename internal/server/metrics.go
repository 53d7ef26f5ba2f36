package server

import (
	"sync/atomic"
	"time"

	"github.com/Brownie44l1/httpconnector/internal/logging"
)

// Metrics holds server runtime counters
type Metrics struct {
	RequestsTotal     atomic.Int64
	ActiveConnections atomic.Int64
	ErrorsTotal       atomic.Int64
	Errors4xx         atomic.Int64
	Errors5xx         atomic.Int64
	BytesSent         atomic.Int64

	TotalLatencyNs atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordReply records a completed reply
func (m *Metrics) RecordReply(rec logging.AccessRecord) {
	m.RequestsTotal.Add(1)
	m.TotalLatencyNs.Add(rec.Duration.Nanoseconds())
	m.BytesSent.Add(rec.BytesSent)

	if rec.Status >= 400 && rec.Status < 500 {
		m.Errors4xx.Add(1)
	} else if rec.Status >= 500 {
		m.Errors5xx.Add(1)
		m.ErrorsTotal.Add(1)
	}
}

// RecordError counts a connection that ended with an unexpected I/O error.
func (m *Metrics) RecordError() {
	m.ErrorsTotal.Add(1)
}

// AverageLatency returns the average time from request to final byte
func (m *Metrics) AverageLatency() time.Duration {
	totalReqs := m.RequestsTotal.Load()
	if totalReqs == 0 {
		return 0
	}

	avgNs := m.TotalLatencyNs.Load() / totalReqs
	return time.Duration(avgNs)
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	RequestsTotal     int64
	ActiveConnections int64
	ErrorsTotal       int64
	Errors4xx         int64
	Errors5xx         int64
	BytesSent         int64
	AverageLatency    time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestsTotal:     m.RequestsTotal.Load(),
		ActiveConnections: m.ActiveConnections.Load(),
		ErrorsTotal:       m.ErrorsTotal.Load(),
		Errors4xx:         m.Errors4xx.Load(),
		Errors5xx:         m.Errors5xx.Load(),
		BytesSent:         m.BytesSent.Load(),
		AverageLatency:    m.AverageLatency(),
	}
}
