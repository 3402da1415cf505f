// Package httpconfig holds the per-connector configuration bag and the
// Customizer hook. ApplyCustomizers runs a Config's Customizers over a
// request; httpconn and httpchannel do not call it, so Customizers take
// effect only where a caller invokes ApplyCustomizers.
package httpconfig

import (
	"time"

	"github.com/relayhttp/relay/pkg/relay/httpchannel"
)

// Compliance is a strictness mode for one of the parser's three
// dimensions (HTTP syntax, URI syntax, cookie syntax). The core only
// ships Strict/Legacy; a deployment wanting RFC-violating leniency for
// a specific class of client picks Legacy for just that dimension
// rather than relaxing everything at once.
type Compliance uint8

const (
	ComplianceStrict Compliance = iota
	ComplianceLegacy
)

// ConnectorInfo is the minimal view of the owning connector a
// Customizer needs — just enough to answer "is this endpoint secure"
// and "what's its configured name" without httpconfig importing
// connector (which itself imports httpconfig for Config), which would
// cycle. connector.Connector satisfies this structurally.
type ConnectorInfo interface {
	Name() string
	Secure() bool
}

// Customizer rewrites or annotates a request before it reaches the
// Handler tree. It returns the request to use from here on — usually
// the same value with attributes set, occasionally a replacement
// wrapper — per spec.md §4.5's customizer contract. Order is the
// registration order in Config.Customizers; later customizers observe
// earlier ones' effects.
type Customizer func(conn ConnectorInfo, cfg *Config, req *httpchannel.Request) *httpchannel.Request

// Config is the immutable-ish (set once at connector construction,
// read concurrently by every request thereafter) bag of per-connector
// knobs spec.md §6's configuration table names.
type Config struct {
	OutputBufferSize      int
	OutputAggregationSize int
	RequestHeaderSize     int
	ResponseHeaderSize    int

	HeaderCacheSize    int
	HeaderCaseSensitive bool

	IdleTimeout time.Duration

	SecureScheme string
	SecurePort   int

	SendDateHeader    bool
	SendServerVersion bool
	SendXPoweredBy    bool

	DelayDispatchUntilContent   bool
	PersistentConnectionsEnabled bool
	MaxErrorDispatches          int

	MinRequestDataRate  int64 // bytes/sec, 0 = unenforced
	MinResponseDataRate int64

	HTTPCompliance   Compliance
	URICompliance    Compliance
	CookieCompliance Compliance

	RelativeRedirectAllowed bool
	ServerAuthority         string
	LocalAddressOverride    string

	FormEncodedMethods map[string]bool

	Customizers []Customizer
}

// DefaultConfig returns a Config matching spec.md §4/§6's stated
// defaults: 32 KiB output buffer, 1/4 of that for aggregation, 8 KiB
// header caps, delay-dispatch and persistent connections both on, 10
// max error dispatches, form-decoding for POST/PUT.
func DefaultConfig() *Config {
	const outputBuffer = 32 * 1024
	return &Config{
		OutputBufferSize:             outputBuffer,
		OutputAggregationSize:        outputBuffer / 4,
		RequestHeaderSize:            8 * 1024,
		ResponseHeaderSize:           8 * 1024,
		HeaderCacheSize:              512,
		HeaderCaseSensitive:          false,
		IdleTimeout:                  30 * time.Second,
		SecureScheme:                 "https",
		SecurePort:                   443,
		SendDateHeader:               true,
		SendServerVersion:            true,
		SendXPoweredBy:               false,
		DelayDispatchUntilContent:    true,
		PersistentConnectionsEnabled: true,
		MaxErrorDispatches:           10,
		HTTPCompliance:               ComplianceStrict,
		URICompliance:                ComplianceStrict,
		CookieCompliance:             ComplianceStrict,
		RelativeRedirectAllowed:      true,
		FormEncodedMethods: map[string]bool{
			"POST": true,
			"PUT":  true,
		},
	}
}

// ApplyCustomizers runs every registered Customizer in order,
// threading the (possibly replaced) request through each call.
func ApplyCustomizers(conn ConnectorInfo, cfg *Config, req *httpchannel.Request) *httpchannel.Request {
	for _, c := range cfg.Customizers {
		req = c(conn, cfg, req)
	}
	return req
}
