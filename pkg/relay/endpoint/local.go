package endpoint

import (
	"net"
	"time"
)

// LocalEndpoint is an in-memory Endpoint backed by net.Pipe, used by
// connector.LocalConnector and by package tests that want to drive the
// HTTP/1 state machine without a real socket.
type LocalEndpoint struct {
	*TCPEndpoint
	peer net.Conn
}

// NewLocalPair returns two connected LocalEndpoints: one to hand to a
// Connector (the "server side") and one for a test to write requests
// into and read responses from (the "client side").
func NewLocalPair() (server *LocalEndpoint, client net.Conn) {
	a, b := net.Pipe()
	return &LocalEndpoint{TCPEndpoint: New(a), peer: b}, b
}

// NOTE: net.Pipe connections have no real deadlines/CloseWrite beyond
// what net.Conn already provides; SetIdleTimeout and ShutdownOutput
// degrade gracefully (net.Pipe's SetDeadline works, CloseWrite does
// not exist so ShutdownOutput falls back to a full Close on the
// embedded TCPEndpoint, matching net.Pipe semantics).
var _ Endpoint = (*LocalEndpoint)(nil)

func (l *LocalEndpoint) ShutdownOutput() error {
	return l.Close()
}

// idleDeadline is exposed only for tests that want to assert timeout
// wiring without sleeping a full idle period.
func (l *LocalEndpoint) idleDeadline() time.Duration {
	return time.Duration(l.idleTimeout.Load())
}
