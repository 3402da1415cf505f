//go:build !linux

package endpoint

import "net"

func applyPlatformOptions(tc *net.TCPConn, cfg TuningConfig) {
	// No portable equivalent of TCP_QUICKACK/TCP_USER_TIMEOUT outside
	// Linux; net.TCPConn's SetNoDelay/SetKeepAlive (applied in Apply)
	// already cover the options available everywhere.
}
