package server

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionManager owns the live connections so that they can all be
// stopped at shutdown.
type ConnectionManager struct {
	conns   *xsync.MapOf[uint64, *Connection]
	nextID  atomic.Uint64
	metrics *Metrics
}

func NewConnectionManager(metrics *Metrics, sizeHint int) *ConnectionManager {
	return &ConnectionManager{
		conns:   xsync.NewMapOf[uint64, *Connection](xsync.WithPresize(sizeHint)),
		metrics: metrics,
	}
}

// Start registers c and begins serving it.
func (m *ConnectionManager) Start(c *Connection) {
	c.id = m.nextID.Add(1)
	m.conns.Store(c.id, c)
	m.metrics.ActiveConnections.Add(1)
	c.start()
}

// Stop closes c.
func (m *ConnectionManager) Stop(c *Connection) {
	c.Stop()
}

// StopAll closes every registered connection.
func (m *ConnectionManager) StopAll() {
	m.conns.Range(func(_ uint64, c *Connection) bool {
		c.Stop()
		return true
	})
}

// Len returns the number of live connections.
func (m *ConnectionManager) Len() int {
	return m.conns.Size()
}

// remove is called by a connection once it stopped.
func (m *ConnectionManager) remove(c *Connection) {
	if _, ok := m.conns.LoadAndDelete(c.id); ok {
		m.metrics.ActiveConnections.Add(-1)
	}
}
