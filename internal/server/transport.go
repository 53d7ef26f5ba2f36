package server

import (
	"context"
	"crypto/tls"
	"net"
)

// transport is the socket under a connection: plain TCP or TLS.
type transport interface {
	Conn() net.Conn
	// Handshake completes the connection setup before the first read.
	Handshake(ctx context.Context) error
	// Scheme is "http" or "https".
	Scheme() string
	// Shutdown closes the socket. graceful ends the write side first and
	// must only be set when no write is in flight.
	Shutdown(graceful bool)
}

type tcpTransport struct {
	conn net.Conn
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) Conn() net.Conn                    { return t.conn }
func (t *tcpTransport) Handshake(_ context.Context) error { return nil }
func (t *tcpTransport) Scheme() string                    { return "http" }

func (t *tcpTransport) Shutdown(graceful bool) {
	if tc, ok := t.conn.(*net.TCPConn); ok && graceful {
		tc.CloseWrite()
	}
	t.conn.Close()
}

type tlsTransport struct {
	conn *tls.Conn
}

func newTLSTransport(conn net.Conn, conf *tls.Config) *tlsTransport {
	return &tlsTransport{conn: tls.Server(conn, conf)}
}

func (t *tlsTransport) Conn() net.Conn { return t.conn }

func (t *tlsTransport) Handshake(ctx context.Context) error {
	return t.conn.HandshakeContext(ctx)
}

func (t *tlsTransport) Scheme() string { return "https" }

func (t *tlsTransport) Shutdown(graceful bool) {
	if graceful {
		// close_notify
		t.conn.CloseWrite()
	}
	t.conn.Close()
}
