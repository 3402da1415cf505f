package httpconfig

import (
	"crypto/tls"
	"strings"

	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

// Attribute keys SecureRequestCustomizer and ForwardedRequestCustomizer
// populate. Exported so handlers know what to look for without
// depending on this package's internals beyond the constants.
const (
	AttrCipherSuite  = "relay.tls.cipher-suite"
	AttrSessionID    = "relay.tls.session-id" // not set: tls.ConnectionState has no session-id field
	AttrPeerCerts    = "relay.tls.peer-certificates"
	AttrForwardedFor = "relay.forwarded.for"
)

// SecureRequestCustomizer attaches the TLS cipher suite and peer
// certificates to the request and rewrites its scheme to https; it
// does not set AttrSessionID. connState is a func rather than a stored
// value because the Customizer runs once per request but the TLS
// handshake detail is per-connection; the caller supplies a closure
// over that connection's *tls.ConnectionState.
func SecureRequestCustomizer(connState func() *tls.ConnectionState) Customizer {
	return func(conn ConnectorInfo, cfg *Config, req *httpchannel.Request) *httpchannel.Request {
		if connState == nil {
			return req
		}
		state := connState()
		if state == nil {
			return req
		}
		req.Scheme = "https"
		req.SetAttribute(AttrCipherSuite, tls.CipherSuiteName(state.CipherSuite))
		if len(state.PeerCertificates) > 0 {
			req.SetAttribute(AttrPeerCerts, state.PeerCertificates)
		}
		return req
	}
}

// HostHeaderCustomizer synthesizes a Host header for HTTP/1.0 requests
// that omitted one (Host is mandatory on HTTP/1.1, so the parser
// already rejects a missing one there), from cfg.ServerAuthority if
// set, falling back to the connection's local address.
func HostHeaderCustomizer(conn ConnectorInfo, cfg *Config, req *httpchannel.Request) *httpchannel.Request {
	if req.Header.Has("Host") {
		return req
	}
	authority := cfg.ServerAuthority
	if authority == "" && req.LocalAddr != nil {
		authority = req.LocalAddr.String()
	}
	if authority == "" {
		return req
	}
	req.Header.Set("Host", []byte(authority))
	return req
}

// ForwardedHeaders names the X-Forwarded-* headers for Host, Server,
// For and Proto that ForwardedRequestCustomizer consults, plus the
// optional cipher-suite and SSL-session-id header names, which
// ForwardedRequestCustomizer does not read.
type ForwardedHeaders struct {
	Host       string
	Server     string
	For        string
	Proto      string
	CipherSuite string
	SSLSessionID string
}

// DefaultForwardedHeaders is the conventional X-Forwarded-* set.
func DefaultForwardedHeaders() ForwardedHeaders {
	return ForwardedHeaders{
		Host:   "X-Forwarded-Host",
		Server: "X-Forwarded-Server",
		For:    "X-Forwarded-For",
		Proto:  "X-Forwarded-Proto",
	}
}

// ForwardedRequestCustomizer applies a trusted proxy's X-Forwarded-*
// headers: Host replaces the Host header and Proto the scheme, while
// For and Server are only recorded, as the AttrForwardedFor and
// "relay.forwarded.server" attributes; RemoteAddr is left unchanged.
// The left-most entry of a comma-separated list
// is the farthest-downstream client, per spec.md §4.5.
func ForwardedRequestCustomizer(headers ForwardedHeaders) Customizer {
	return func(conn ConnectorInfo, cfg *Config, req *httpchannel.Request) *httpchannel.Request {
		if v := leftmost(req.Header.GetString(headers.For)); v != "" {
			req.SetAttribute(AttrForwardedFor, v)
		}
		if v := leftmost(req.Header.GetString(headers.Host)); v != "" {
			req.Header.Set("Host", []byte(v))
		}
		if v := leftmost(req.Header.GetString(headers.Proto)); v != "" {
			req.Scheme = v
		}
		if v := leftmost(req.Header.GetString(headers.Server)); v != "" {
			req.SetAttribute("relay.forwarded.server", v)
		}
		return req
	}
}

func leftmost(commaList string) string {
	if commaList == "" {
		return ""
	}
	first := strings.SplitN(commaList, ",", 2)[0]
	return strings.TrimSpace(first)
}
