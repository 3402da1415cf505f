package connector

import "net"

// preloadedConn re-delivers bytes a DetectingFactory peek loop already
// consumed from the wire before any Endpoint existed, so the detected
// Connection's first Fill call sees exactly the same byte stream a
// factory that hadn't peeked would have seen. This is the Go-idiomatic
// stand-in for spec.md §4.1's "peeks... without consuming them": Go's
// net.Conn has no portable unread-byte primitive, so detection reads
// for real and this wrapper hands the bytes back.
type preloadedConn struct {
	net.Conn
	pending []byte
}

func newPreloadedConn(conn net.Conn, pending []byte) net.Conn {
	if len(pending) == 0 {
		return conn
	}
	return &preloadedConn{Conn: conn, pending: pending}
}

func (p *preloadedConn) Read(b []byte) (int, error) {
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		if len(p.pending) == 0 {
			p.pending = nil
		}
		return n, nil
	}
	return p.Conn.Read(b)
}
