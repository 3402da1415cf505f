package connector

import (
	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
	"github.com/relayhttp/relay/pkg/relay/httpconfig"
	"github.com/relayhttp/relay/pkg/relay/httpconn"
)

// HTTPFactory is the default Connection Factory: it builds an
// httpconn.Connection driving HTTP/1.0/1.1 over whatever endpoint it's
// given, per spec.md §3's "the first factory is the default" rule.
// Name is "http/1.1" so it also doubles as the ALPN target a TLS
// Connector selects.
type HTTPFactory struct {
	HTTPConfig *httpconfig.Config
	// Upgrading lists the factories reachable via the HTTP/1.1 Upgrade
	// mechanism (e.g. h2c) on connections this factory builds.
	Upgrading []UpgradingFactory
}

func (f *HTTPFactory) Name() string       { return "http/1.1" }
func (f *HTTPFactory) AltNames() []string { return nil }

func (f *HTTPFactory) NewConnection(c *Connector, ep endpoint.Endpoint) endpoint.Connection {
	cfg := f.HTTPConfig
	if cfg == nil {
		cfg = httpconfig.DefaultConfig()
	}
	chCfg := httpchannel.Config{
		MaxErrorDispatches:           cfg.MaxErrorDispatches,
		OutputAggregationSize:        cfg.OutputAggregationSize,
		PersistentConnectionsEnabled: cfg.PersistentConnectionsEnabled,
		SendServerVersion:            cfg.SendServerVersion,
		SendDateHeader:               cfg.SendDateHeader,
		DelayDispatchUntilContent:    cfg.DelayDispatchUntilContent,
	}
	// newConnectionUpgrader returns a typed nil when f.Upgrading is empty;
	// passed directly into the httpchannel.Upgrader interface parameter
	// that would come back non-nil (a nil *connectionUpgrader wrapped in
	// a non-nil interface), defeating any "== nil means no upgrader"
	// check on the other side. Keep it an untyped nil instead.
	var upgrader httpchannel.Upgrader
	if u := newConnectionUpgrader(c, ep, f.Upgrading); u != nil {
		upgrader = u
	}
	return httpconn.New(ep, c.cfg.Pool, c.dispatcher, upgrader, c.cfg.Root, httpconn.Config{
		InputBufferSize:    inputBufferSize(cfg),
		RequestHeaderSize:  cfg.RequestHeaderSize,
		ResponseHeaderSize: cfg.ResponseHeaderSize,
		Channel:            chCfg,
	})
}

func inputBufferSize(cfg *httpconfig.Config) int {
	if cfg != nil && cfg.OutputBufferSize > 0 {
		return cfg.OutputBufferSize
	}
	return 32 * 1024
}
