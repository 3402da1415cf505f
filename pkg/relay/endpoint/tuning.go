package endpoint

import "net"

// TuningConfig holds the socket-level knobs a Connector applies to every
// accepted TCP connection before wrapping it in a TCPEndpoint. Zero
// values leave the corresponding option untouched. On Linux, Apply also
// sets TCP_USER_TIMEOUT to 10 seconds on every connection, and with
// KeepAlive set it sets the keep-alive idle/interval/count to 60s/10s/3.
type TuningConfig struct {
	NoDelay     bool // TCP_NODELAY
	KeepAlive   bool // SO_KEEPALIVE
	QuickAck    bool // TCP_QUICKACK (Linux only, best effort)
	RecvBuffer  int  // SO_RCVBUF
	SendBuffer  int  // SO_SNDBUF
}

// DefaultTuning mirrors the settings the teacher's socket.DefaultConfig
// recommends for HTTP/1.1 workloads.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		NoDelay:    true,
		KeepAlive:  true,
		QuickAck:   true,
		RecvBuffer: 256 * 1024,
		SendBuffer: 256 * 1024,
	}
}

// Apply tunes conn according to cfg. Unsupported options on a given
// net.Conn implementation (e.g. an in-memory pipe) are silently
// skipped — tuning is best-effort, never load-bearing for correctness.
func Apply(conn net.Conn, cfg TuningConfig) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if cfg.NoDelay {
		tc.SetNoDelay(true)
	}
	if cfg.KeepAlive {
		tc.SetKeepAlive(true)
	}
	if cfg.RecvBuffer > 0 {
		tc.SetReadBuffer(cfg.RecvBuffer)
	}
	if cfg.SendBuffer > 0 {
		tc.SetWriteBuffer(cfg.SendBuffer)
	}
	applyPlatformOptions(tc, cfg)
}
