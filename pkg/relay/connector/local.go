package connector

import (
	"net"

	"github.com/relayhttp/relay/pkg/relay/endpoint"
)

// LocalConnector drives Connector's full negotiate/register/finishAccept
// path over endpoint.NewLocalPair instead of a bound socket, so package
// tests can exercise a Factory chain, Stats, and the close-observer
// bridge without touching the network. Grounded on the same
// server.BaseServer shape Connector itself follows, narrowed to the
// in-process case the teacher's own test suite drives its HTTP/1
// connections through.
type LocalConnector struct {
	*Connector
}

// NewLocal builds a LocalConnector sharing cfg's Factories/Pool/
// Dispatcher/Logger but never binding a socket; call Dial to create each
// client-facing net.Conn.
func NewLocal(cfg Config) *LocalConnector {
	c := New(cfg)
	c.localPort = 0
	return &LocalConnector{Connector: c}
}

// Dial creates one in-memory connection, negotiates protocol and opens
// it exactly as Accept would for a real socket, and returns the net.Conn
// end a test's client code should read/write.
func (lc *LocalConnector) Dial() net.Conn {
	server, client := endpoint.NewLocalPair()
	lc.wg.Add(1)
	go func() {
		defer lc.wg.Done()
		lc.handleLocalAccepted(server)
	}()
	return client
}

func (lc *LocalConnector) handleLocalAccepted(ep *endpoint.LocalEndpoint) {
	// Local pairs skip byte-sniffing and TLS wrapping: a test that wants
	// to exercise protocol detection does so via Connector.negotiateDetect
	// over a real socket instead. LocalConnector always binds the default
	// factory directly.
	built, err := lc.negotiateDefaultWith(lc.cfg.Factories[0], ep)
	if err != nil {
		lc.cfg.Logger.ProtocolError(ep.RemoteAddr(), err.Error())
		ep.Close()
		return
	}
	lc.finishAccept(built)
}
