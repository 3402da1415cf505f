//go:build linux

package endpoint

import (
	"net"

	"golang.org/x/sys/unix"
)

// Linux-only TCP options not exposed by net.TCPConn. Setting these is
// best-effort: any error from the syscall is ignored, matching the
// teacher's socket.applyPlatformOptions (every SetsockoptInt call there
// discards its error for the same reason — a missing optimization must
// never fail a connection).
const (
	tcpQuickAck    = 12
	tcpUserTimeout = 18
	tcpKeepIdle    = 4
	tcpKeepIntvl   = 5
	tcpKeepCnt     = 6
)

func applyPlatformOptions(tc *net.TCPConn, cfg TuningConfig) {
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		if cfg.QuickAck {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpQuickAck, 1)
		}
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpUserTimeout, 10000)
		if cfg.KeepAlive {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpKeepIdle, 60)
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpKeepIntvl, 10)
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, tcpKeepCnt, 3)
		}
	})
}
