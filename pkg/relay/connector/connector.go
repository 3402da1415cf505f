// Package connector implements spec.md §4.1's Connector: a
// Server-bound listener that negotiates protocol via a chain of
// Connection Factories and drives the accept loop, grounded on the
// teacher's server.BaseServer/ShockwaveServer.Serve shape (connection
// tracking, a semaphore-gated concurrency cap, graceful Shutdown vs.
// immediate Close) generalized to the factory-chain protocol
// negotiation spec.md describes instead of a single hardcoded HTTP/1
// path.
package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/relayhttp/relay/pkg/relay/buffer"
	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/executor"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
	"github.com/relayhttp/relay/pkg/relay/httpconfig"
	"github.com/relayhttp/relay/pkg/relay/httpconn"
)

// ErrNotOpen is returned by Start when called before a successful Open.
var ErrNotOpen = errors.New("connector: Start called before Open")

// ErrNoFactories is returned by Open when Config.Factories is empty.
var ErrNoFactories = errors.New("connector: at least one Factory is required")

// DefaultShutdownGrace is the Config.ShutdownGrace New fills in when
// none is set: how long Stop waits for in-flight connections to drain
// when the caller's context carries no deadline of its own.
const DefaultShutdownGrace = 30 * time.Second

// Config bundles everything a Connector needs to bind, accept, and
// negotiate protocol for one listener, the Go realization of spec.md
// §3's Connector attribute list.
type Config struct {
	Name string
	Host string // empty = any
	Port int    // 0 = ephemeral

	AcceptorCount int // 0 = derive from GOMAXPROCS, per the teacher's default

	// Factories is the non-empty, ordered Connection Factory list;
	// Factories[0] is the default factory used when neither TLS wrapping
	// nor protocol detection applies.
	Factories []Factory

	// TLSConfig, if non-nil, makes this Connector a TLS listener: every
	// accepted socket is wrapped before factory selection, and the
	// negotiated ALPN protocol (tls.Config.NextProtos) selects the
	// factory by Name()/AltNames(), per spec.md §4.1's TLS-wrap edge
	// case.
	TLSConfig *tls.Config

	HTTPConfig *httpconfig.Config
	Root       handler.Handler

	Pool       *buffer.Pool
	Dispatcher *executor.Pool // optional; Stop waits on it. httpconn does not submit request handling to it
	Scheduler  *executor.Scheduler

	Tuning         endpoint.TuningConfig
	MaxConnections int // 0 = unbounded
	ShutdownGrace  time.Duration

	Logger Logger
}

// Logger is the minimal structured-logging surface Connector consults;
// relaylog.Connector satisfies it. A nil Logger is a silent no-op.
type Logger interface {
	AcceptError(err error)
	ConnectionError(remote net.Addr, err error)
	ProtocolError(remote net.Addr, reason string)
}

type noopLogger struct{}

func (noopLogger) AcceptError(error)               {}
func (noopLogger) ConnectionError(net.Addr, error) {}
func (noopLogger) ProtocolError(net.Addr, string)  {}

// trackedConn is what Connector.open tracks per negotiated connection:
// enough to force-close it during shutdown and to fold its final
// message count and lifetime into Stats on close.
type trackedConn struct {
	ep     endpoint.Endpoint
	opened time.Time
	remote net.Addr
}

// Connector is a Server-bound listener: it owns the bound socket,
// acceptor goroutines, the factory chain, and per-connector Stats, per
// spec.md §3/§4.1.
type Connector struct {
	cfg Config

	listener  net.Listener
	localPort int

	dispatcher dispatcherAdapter

	stats Stats

	mu       sync.Mutex
	open     map[endpoint.Endpoint]*trackedConn
	stopping bool
	wg       sync.WaitGroup

	acceptSem chan struct{} // nil when Config.MaxConnections <= 0
}

// New creates a Connector from cfg. Call Open then Start to begin
// accepting.
func New(cfg Config) *Connector {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	c := &Connector{cfg: cfg, localPort: -1}
	c.dispatcher = dispatcherAdapter{pool: cfg.Dispatcher}
	c.open = make(map[endpoint.Endpoint]*trackedConn)
	if cfg.MaxConnections > 0 {
		c.acceptSem = make(chan struct{}, cfg.MaxConnections)
	}
	return c
}

// Name satisfies httpconfig.ConnectorInfo.
func (c *Connector) Name() string { return c.cfg.Name }

// Secure satisfies httpconfig.ConnectorInfo: true once this Connector
// terminates TLS.
func (c *Connector) Secure() bool { return c.cfg.TLSConfig != nil }

// Addr returns the bound local address, valid only after Open.
func (c *Connector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// LocalPort returns -1 before Open, the bound port after.
func (c *Connector) LocalPort() int { return c.localPort }

// Stats returns the Connector's running statistics.
func (c *Connector) Stats() *Stats { return &c.stats }

// Open binds the listening socket, resolving port 0 to an ephemeral
// port, per spec.md §4.1's open() contract. Idempotent: calling Open
// again on an already-open Connector is a no-op.
func (c *Connector) Open() error {
	if c.listener != nil {
		return nil
	}
	if len(c.cfg.Factories) == 0 {
		return ErrNoFactories
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("connector %q: open: %w", c.cfg.Name, err)
	}
	c.listener = l
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		c.localPort = tcpAddr.Port
	}
	return nil
}

// Start requires Open to have already succeeded and spawns
// AcceptorCount long-running goroutines, each running the Accept(id)
// loop, per spec.md §4.1's start() contract.
func (c *Connector) Start() error {
	if c.listener == nil {
		return ErrNotOpen
	}
	n := c.cfg.AcceptorCount
	if n <= 0 {
		n = defaultAcceptorCount()
	}
	c.wg.Add(n)
	for i := 0; i < n; i++ {
		go c.Accept(i)
	}
	return nil
}

// Stop transitions through a graceful phase (existing connections are
// given until ctx's deadline, or Config.ShutdownGrace if ctx carries
// none, to drain) and then force-closes whatever remains, per spec.md
// §4.1's stop() contract.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.Close()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ShutdownGrace)
		defer cancel()
	}

	openCount := func() int {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.open)
	}
	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		for openCount() > 0 && ctx.Err() == nil {
			time.Sleep(10 * time.Millisecond)
		}
		close(drained)
	}()

	<-drained
	if openCount() > 0 {
		c.closeAllOpen()
	}
	if c.cfg.Dispatcher != nil {
		c.cfg.Dispatcher.Wait()
	}
	return nil
}

// Close force-closes every tracked connection immediately, without the
// graceful drain Stop performs. Grounded on the teacher's
// BaseServer.Close (immediate) as distinct from Shutdown (graceful).
func (c *Connector) Close() error {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	var err error
	if c.listener != nil {
		err = c.listener.Close()
	}
	c.closeAllOpen()
	c.wg.Wait()
	return err
}

func (c *Connector) closeAllOpen() {
	c.mu.Lock()
	tracked := make([]*trackedConn, 0, len(c.open))
	for _, tc := range c.open {
		tracked = append(tracked, tc)
	}
	c.mu.Unlock()
	for _, tc := range tracked {
		tc.ep.Close()
	}
}

func (c *Connector) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *Connector) register(tc *trackedConn) {
	c.mu.Lock()
	c.open[tc.ep] = tc
	c.mu.Unlock()
	c.stats.onOpen()
}

// trackedFor looks up the tracked entry for ep, used by
// connectionUpgrader to fold an upgraded endpoint out of the open set
// under its new protocol's ownership.
func (c *Connector) trackedFor(ep endpoint.Endpoint) *trackedConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[ep]
}

func (c *Connector) unregister(tc *trackedConn, messages int64, upgraded bool) {
	if tc == nil {
		return
	}
	c.mu.Lock()
	_, ok := c.open[tc.ep]
	delete(c.open, tc.ep)
	c.mu.Unlock()
	if !ok {
		return
	}
	if upgraded {
		c.stats.onUpgrade()
		return
	}
	c.stats.onClose(messages, time.Since(tc.opened))
}

// Accept is the per-acceptor loop spec.md §4.1 describes: each
// acceptor blocks on the shared listener, negotiates protocol for
// whatever it gets, and hands the result off to its own goroutine so a
// slow handshake or detect loop never starves other acceptors. id is
// used only for logging/stats labeling.
func (c *Connector) Accept(id int) {
	defer c.wg.Done()
	for {
		if c.acceptSem != nil {
			select {
			case c.acceptSem <- struct{}{}:
			case <-c.stoppedSignal():
				return
			}
		}
		conn, err := c.listener.Accept()
		if err != nil {
			if c.acceptSem != nil {
				<-c.acceptSem
			}
			if c.isStopping() {
				return
			}
			c.cfg.Logger.AcceptError(err)
			continue
		}
		go c.handleAccepted(conn)
	}
}

// stoppedSignal returns a channel that is immediately readable once
// the connector starts stopping, so Accept's semaphore-acquire select
// doesn't block forever past Stop/Close. A fresh channel per call is
// cheap relative to accept-rate and keeps Connector free of a
// once-closed-forever broadcast channel to manage.
func (c *Connector) stoppedSignal() <-chan struct{} {
	ch := make(chan struct{})
	if c.isStopping() {
		close(ch)
	}
	return ch
}

func (c *Connector) handleAccepted(netConn net.Conn) {
	if c.acceptSem != nil {
		defer func() { <-c.acceptSem }()
	}
	endpoint.Apply(netConn, c.cfg.Tuning)

	built, err := c.negotiate(netConn)
	if err != nil {
		c.cfg.Logger.ProtocolError(netConn.RemoteAddr(), err.Error())
		netConn.Close()
		return
	}
	c.finishAccept(built)
}

// negotiatedConnection bundles the endpoint.Connection a factory built
// with the endpoint.Endpoint it owns, so finishAccept can register and
// open it uniformly regardless of which negotiation path produced it.
type negotiatedConnection struct {
	conn endpoint.Connection
	ep   endpoint.Endpoint
}

func (c *Connector) negotiate(netConn net.Conn) (*negotiatedConnection, error) {
	if c.cfg.TLSConfig != nil {
		return c.negotiateTLS(netConn)
	}
	detecting := c.detectingFactories()
	if len(detecting) > 0 {
		return c.negotiateDetect(netConn, detecting)
	}
	return c.negotiateDefaultWith(c.cfg.Factories[0], endpoint.New(netConn))
}

func (c *Connector) negotiateTLS(netConn net.Conn) (*negotiatedConnection, error) {
	tlsConn := tls.Server(netConn, c.cfg.TLSConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	proto := tlsConn.ConnectionState().NegotiatedProtocol
	f := c.factoryByName(proto)
	if f == nil {
		f = c.cfg.Factories[0]
	}
	ep := endpoint.New(tlsConn)
	return c.negotiateDefaultWith(f, ep)
}

func (c *Connector) negotiateDefaultWith(f Factory, ep endpoint.Endpoint) (*negotiatedConnection, error) {
	conn := f.NewConnection(c, ep)
	return &negotiatedConnection{conn: conn, ep: ep}, nil
}

func (c *Connector) factoryByName(name string) Factory {
	if name == "" {
		return nil
	}
	for _, f := range c.cfg.Factories {
		if f.Name() == name {
			return f
		}
		for _, alt := range f.AltNames() {
			if alt == name {
				return f
			}
		}
	}
	return nil
}

func (c *Connector) detectingFactories() []DetectingFactory {
	var out []DetectingFactory
	for _, f := range c.cfg.Factories {
		if df, ok := f.(DetectingFactory); ok {
			out = append(out, df)
		}
	}
	return out
}

// maxDetectBytes bounds how many bytes negotiateDetect will peek before
// giving up, matching the request-header-size cap spec.md §4.1 reuses
// for the detect loop's own byte budget.
func (c *Connector) maxDetectBytes() int {
	if c.cfg.HTTPConfig != nil && c.cfg.HTTPConfig.RequestHeaderSize > 0 {
		return c.cfg.HTTPConfig.RequestHeaderSize
	}
	return 8192
}

func (c *Connector) negotiateDetect(netConn net.Conn, factories []DetectingFactory) (*negotiatedConnection, error) {
	peek := make([]byte, 0, 256)
	buf := make([]byte, 256)
	for {
		for _, f := range factories {
			switch f.Detect(peek) {
			case Recognized:
				ep := endpoint.New(newPreloadedConn(netConn, peek))
				return c.negotiateDefaultWith(f, ep)
			case NeedMoreBytes:
				continue
			}
		}
		if allNotRecognized(factories, peek) {
			return nil, errors.New("no factory recognized the connection")
		}
		if len(peek) >= c.maxDetectBytes() {
			return nil, errors.New("protocol not recognized within header size cap")
		}
		n, err := netConn.Read(buf)
		if n > 0 {
			peek = append(peek, buf[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}
	}
}

func allNotRecognized(factories []DetectingFactory, peek []byte) bool {
	for _, f := range factories {
		if f.Detect(peek) != NotRecognized {
			return false
		}
	}
	return true
}

func (c *Connector) finishAccept(bc *negotiatedConnection) {
	tc := &trackedConn{ep: bc.ep, opened: time.Now(), remote: bc.ep.RemoteAddr()}
	bc.ep.SetIdleTimeout(c.idleTimeout())
	c.register(tc)

	if hc, ok := bc.conn.(*httpconn.Connection); ok {
		hc.SetCloseObserver(func(cause error) {
			if cause != nil {
				c.cfg.Logger.ConnectionError(tc.remote, cause)
			}
			c.stats.addBytesIn(hc.BytesIn())
			c.stats.addBytesOut(hc.BytesOut())
			c.stats.addMessageIn(hc.Messages())
			c.stats.addMessageOut(hc.Messages())
			c.unregister(tc, hc.Messages(), false)
		})
	} else {
		// Non-httpconn connections (e.g. a future h2c factory) don't
		// expose a close observer or message count; fold them out of
		// the open set on Stop/Close only.
	}
	bc.conn.OnOpen()
}

func (c *Connector) idleTimeout() time.Duration {
	if c.cfg.HTTPConfig != nil && c.cfg.HTTPConfig.IdleTimeout > 0 {
		return c.cfg.HTTPConfig.IdleTimeout
	}
	return 30 * time.Second
}

// defaultAcceptorCount mirrors the teacher's "derive from CPU" default
// for acceptor-count, per spec.md §3.
func defaultAcceptorCount() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

var _ httpconfig.ConnectorInfo = (*Connector)(nil)
var _ httpchannel.Upgrader = (*connectionUpgrader)(nil)
