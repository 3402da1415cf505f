package connector

import (
	"strings"

	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

// connectionUpgrader bridges httpchannel.Channel's narrow Upgrader
// contract (does this Upgrade token match something, and what's its
// protocol name) to the UpgradingFactory list a Connector was
// configured with, performing the actual endpoint hand-off via
// endpoint.Endpoint.Upgrade on success — the realization of spec.md
// §4.1's "Upgrade: ... replaces itself on the endpoint via
// endpoint.upgrade(newConnection)".
type connectionUpgrader struct {
	c         *Connector
	ep        endpoint.Endpoint
	factories []UpgradingFactory
}

func newConnectionUpgrader(c *Connector, ep endpoint.Endpoint, factories []UpgradingFactory) *connectionUpgrader {
	if len(factories) == 0 {
		return nil
	}
	return &connectionUpgrader{c: c, ep: ep, factories: factories}
}

// TryUpgrade satisfies httpchannel.Upgrader.
func (u *connectionUpgrader) TryUpgrade(req *httpchannel.Request) (bool, string) {
	if u == nil {
		return false, ""
	}
	token := strings.TrimSpace(req.Header.GetString("Upgrade"))
	if token == "" {
		return false, ""
	}
	return u.attempt(token)
}

// TryDirectUpgrade satisfies httpchannel.DirectUpgrader: HTTP/2's
// prior-knowledge preface carries no Upgrade header to inspect, so it
// always targets the fixed "h2c" token against the same factory list a
// header-driven Upgrade: h2c request would match.
func (u *connectionUpgrader) TryDirectUpgrade() (bool, string) {
	if u == nil {
		return false, ""
	}
	return u.attempt("h2c")
}

// attempt is the hand-off shared by TryUpgrade and TryDirectUpgrade:
// find the first registered UpgradingFactory matching token and, if it
// accepts the hand-off, replace this endpoint's Connection on it.
func (u *connectionUpgrader) attempt(token string) (bool, string) {
	for _, f := range u.factories {
		if !nameMatches(f, token) {
			continue
		}
		next, _, ok := f.TryUpgrade(u.c, u.ep)
		if !ok {
			continue
		}
		u.ep.Upgrade(next)
		u.c.unregister(u.c.trackedFor(u.ep), 0, true)
		return true, f.Name()
	}
	return false, ""
}

var _ httpchannel.DirectUpgrader = (*connectionUpgrader)(nil)

func nameMatches(f Factory, token string) bool {
	if strings.EqualFold(f.Name(), token) {
		return true
	}
	for _, alt := range f.AltNames() {
		if strings.EqualFold(alt, token) {
			return true
		}
	}
	return false
}
