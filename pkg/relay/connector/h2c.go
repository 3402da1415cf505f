package connector

import (
	"github.com/relayhttp/relay/pkg/relay/endpoint"
)

// H2CFactory is the UpgradingFactory reachable only via an h2c hand-off
// (an Upgrade: h2c request, or the HTTP/2 prior-knowledge preface
// routed through httpchannel.DirectUpgrader) — spec.md's Non-goals
// scope out frame-level HTTP/2, so this stops at the hand-off point
// itself: it always accepts, claims the endpoint, and drives it with
// whatever Next protocol the caller configured (typically another
// HTTPFactory's Connection, or a caller-supplied h2c server once one
// exists to plug in). A nil Next makes the factory decline every
// upgrade, which is a safe, usable default: a Connector advertising
// "h2c" in its Upgrading list without a real HTTP/2 implementation
// behind it should fall through to ordinary HTTP/1.1 dispatch rather
// than hand off to nothing.
type H2CFactory struct {
	// Next builds the Connection that actually serves the endpoint once
	// the hand-off completes. Left nil, TryUpgrade always declines.
	Next func(c *Connector, ep endpoint.Endpoint) endpoint.Connection
}

func (f *H2CFactory) Name() string       { return "h2c" }
func (f *H2CFactory) AltNames() []string { return nil }

// NewConnection exists to satisfy Factory; H2CFactory is never selected
// as a Connector's default or ALPN-matched factory (it isn't listed in
// Config.Factories), only consulted via TryUpgrade.
func (f *H2CFactory) NewConnection(c *Connector, ep endpoint.Endpoint) endpoint.Connection {
	if f.Next == nil {
		return nil
	}
	return f.Next(c, ep)
}

// TryUpgrade satisfies UpgradingFactory.
func (f *H2CFactory) TryUpgrade(c *Connector, ep endpoint.Endpoint) (endpoint.Connection, map[string]string, bool) {
	if f.Next == nil {
		return nil, nil, false
	}
	return f.Next(c, ep), nil, true
}
