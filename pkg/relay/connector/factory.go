package connector

import "github.com/relayhttp/relay/pkg/relay/endpoint"

// DetectResult is what a DetectingFactory reports after peeking at a
// connection's first bytes, per spec.md §4.1's protocol-negotiation
// edge cases.
type DetectResult uint8

const (
	NeedMoreBytes DetectResult = iota
	Recognized
	NotRecognized
)

func (r DetectResult) String() string {
	switch r {
	case Recognized:
		return "RECOGNIZED"
	case NotRecognized:
		return "NOT_RECOGNIZED"
	default:
		return "NEED_MORE_BYTES"
	}
}

// Factory builds a Connection bound to an accepted endpoint. Name is
// the primary protocol name a Connector's default-factory slot or a
// TLS factory's nextProtocol lookup matches against; AltNames lists any
// secondary names the same lookup should also match.
type Factory interface {
	Name() string
	AltNames() []string
	NewConnection(c *Connector, ep endpoint.Endpoint) endpoint.Connection
}

// UpgradingFactory is implemented by factories reachable only through
// the HTTP/1.1 Upgrade mechanism (spec.md §4.3) rather than accept-time
// selection: h2c is the paradigm case.
type UpgradingFactory interface {
	Factory

	// TryUpgrade is called with the Upgrade token already matched
	// against this factory's names. It builds the replacement
	// Connection and the response header fields the 101 response
	// should carry. ok=false declines the upgrade (the Channel falls
	// through to normal dispatch).
	TryUpgrade(c *Connector, ep endpoint.Endpoint) (next endpoint.Connection, responseHeaders map[string]string, ok bool)
}

// DetectingFactory is usable on an "auto" port: it sniffs the protocol
// from the connection's first bytes without consuming them.
type DetectingFactory interface {
	Factory

	// Detect inspects peek, the bytes read so far but not yet consumed,
	// and reports whether they belong to this protocol.
	Detect(peek []byte) DetectResult
}
