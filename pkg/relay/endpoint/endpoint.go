// Package endpoint defines the bidirectional byte-channel abstraction
// Connections are driven over, and a net.Conn-backed implementation of
// it.
//
// spec.md models Endpoint as non-blocking: fill returns immediately
// with n|-1|0 and fillInterested arms a callback for when more bytes
// arrive. Idiomatic Go gets the same effect from a blocking read on a
// dedicated goroutine — the goroutine that calls Fill simply blocks
// until data or EOF arrives, which is exactly the shape of the
// teacher's http11.Connection.Serve loop. FillInterested is kept as a
// method (rather than deleted) because the delayed-dispatch and h2c
// upgrade hand-off paths need to re-arm interest without owning the
// blocking goroutine themselves.
package endpoint

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Fill/Write after Close.
var ErrClosed = errors.New("endpoint: closed")

// Connection is the minimal surface an Endpoint needs from whatever
// protocol driver is currently bound to it, so that Upgrade can hand
// the endpoint to a replacement driver (e.g. h2c) without either
// package importing the other.
type Connection interface {
	OnOpen()
	OnClose(cause error)
}

// Endpoint is a bidirectional, byte-stream network endpoint: a TCP
// socket, optionally wrapped in TLS, or an in-memory pair for tests.
type Endpoint interface {
	// Fill reads into buf, returning the number of bytes read. It
	// returns (0, io.EOF) once the peer has shut down its output, and
	// (0, nil) to signal "no data yet" (httpconn's fillAndParseOnce
	// retries such a read once before re-arming FillInterested).
	// TCPEndpoint.Fill blocks until bytes, EOF, or an error, so callers
	// normally never observe (0, nil).
	Fill(buf []byte) (int, error)

	// Write performs a gather-write of all buffers in order, blocking
	// until fully written or an error occurs.
	Write(bufs ...[]byte) (int64, error)

	// ShutdownOutput half-closes the write side without closing Fill.
	ShutdownOutput() error

	// Close closes both directions and releases the underlying fd.
	Close() error

	IsOpen() bool
	IsInputShutdown() bool

	// FillInterested arranges for cb to run once more input is likely
	// available. Used when a caller wants to stop blocking its own
	// goroutine on Fill (e.g. during delayed dispatch) and be resumed
	// later via the Scheduler/executor instead.
	FillInterested(cb func())

	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	SetIdleTimeout(d time.Duration)

	// Upgrade replaces the Connection driving this endpoint. Called by
	// the HTTP/1 Connection on a successful Upgrade (§4.3); after this
	// returns, the caller must stop driving the endpoint itself.
	Upgrade(next Connection)
}

// TCPEndpoint adapts a net.Conn (plain TCP or *tls.Conn) to Endpoint.
type TCPEndpoint struct {
	conn net.Conn

	idleTimeout atomic.Int64 // nanoseconds, 0 = none

	closed   atomic.Bool
	inputEOF atomic.Bool

	mu   sync.Mutex
	next Connection
}

// New wraps conn as an Endpoint.
func New(conn net.Conn) *TCPEndpoint {
	return &TCPEndpoint{conn: conn}
}

func (e *TCPEndpoint) armDeadline() {
	d := e.idleTimeout.Load()
	if d <= 0 {
		return
	}
	e.conn.SetDeadline(time.Now().Add(time.Duration(d)))
}

// Fill blocks on the underlying connection's Read, honoring the
// configured idle timeout via a deadline.
func (e *TCPEndpoint) Fill(buf []byte) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	e.armDeadline()
	n, err := e.conn.Read(buf)
	if err == io.EOF {
		e.inputEOF.Store(true)
	}
	return n, err
}

// Write writes each non-empty buffer in bufs, in order, with its own
// underlying Write call.
func (e *TCPEndpoint) Write(bufs ...[]byte) (int64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	e.armDeadline()
	var total int64
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := e.conn.Write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *TCPEndpoint) ShutdownOutput() error {
	if cw, ok := e.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (e *TCPEndpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.conn.Close()
}

func (e *TCPEndpoint) IsOpen() bool           { return !e.closed.Load() }
func (e *TCPEndpoint) IsInputShutdown() bool  { return e.inputEOF.Load() }
func (e *TCPEndpoint) RemoteAddr() net.Addr   { return e.conn.RemoteAddr() }
func (e *TCPEndpoint) LocalAddr() net.Addr    { return e.conn.LocalAddr() }

func (e *TCPEndpoint) SetIdleTimeout(d time.Duration) {
	e.idleTimeout.Store(int64(d))
}

// FillInterested runs cb on a new goroutine right away, so the caller's
// own goroutine can return instead of blocking. It does not wait for
// the connection to become readable and reads nothing itself; the
// resumed caller blocks in its next Fill.
func (e *TCPEndpoint) FillInterested(cb func()) {
	go func() {
		cb()
	}()
}

func (e *TCPEndpoint) Upgrade(next Connection) {
	e.mu.Lock()
	e.next = next
	e.mu.Unlock()
	next.OnOpen()
}
