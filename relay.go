// Package relay is an embeddable HTTP/1.x server core: mount a
// handler.Handler tree, configure one or more Connectors, and call
// ListenAndServe. Everything below this package (buffer pool, executor,
// endpoint, wire codec, connector, httpconn, httpchannel, handler,
// httpconfig) composes into the lifecycle this file owns.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayhttp/relay/pkg/relay/buffer"
	"github.com/relayhttp/relay/pkg/relay/connector"
	"github.com/relayhttp/relay/pkg/relay/executor"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpconfig"
	"github.com/relayhttp/relay/pkg/relay/relaylog"
	"github.com/rs/zerolog"
)

// ErrNoConnectors is returned by ListenAndServe when no Connector has
// been added.
var ErrNoConnectors = errors.New("relay: at least one connector is required")

// ErrHandlerNotAttached is returned by ListenAndServe when the root
// Handler was never assigned to this Server — handler.SetHandler
// normally does this inside New, so this only fires for a Server built
// some other way (e.g. a zero-value Server with Root set by hand).
var ErrHandlerNotAttached = errors.New("relay: root Handler is not attached to this Server")

// Server is the root lifecycle object: it owns the shared buffer pool
// and dispatcher, the root Handler, and every Connector bound to it.
// Its Start/Stop ordering follows spec.md §3's invariant — the root
// Handler is live before any Connector opens, and every Connector stops
// before the Handler is torn down.
type Server struct {
	Root handler.Handler
	Pool *buffer.Pool
	Log  zerolog.Logger

	mu         sync.Mutex
	connectors []*connector.Connector
	dispatcher *executor.Pool
	scheduler  *executor.Scheduler
	started    bool
}

// New builds a Server around root, with a shared buffer pool and, when
// maxInFlight > 0, an executor.Pool of that size that every Connector
// receives as its Dispatcher and that Stop waits on. Request handling
// does not go through that pool: each request's Handler tree runs on a
// goroutine httpchannel.Channel starts, so maxInFlight does not bound it.
func New(root handler.Handler, maxInFlight int, log zerolog.Logger) *Server {
	s := &Server{
		Root: root,
		Pool: buffer.New(),
		Log:  log,
	}
	// Every node under root records s as its owning Server (spec.md §3's
	// Server-assignment invariant) before any Connector can reach it.
	handler.SetHandler(s, root)
	if maxInFlight > 0 {
		s.dispatcher = executor.New(maxInFlight)
	}
	s.scheduler = executor.NewScheduler()
	return s
}

// AddConnector builds a Connector from cfg (filling in the Server's
// shared Pool/Dispatcher/Scheduler/Root/Logger where cfg leaves them
// zero) and attaches it to this Server.
func (s *Server) AddConnector(cfg connector.Config) *connector.Connector {
	if cfg.Root == nil {
		cfg.Root = s.Root
	} else if cfg.Root != s.Root {
		// A per-connector override tree still belongs to this Server.
		handler.SetHandler(s, cfg.Root)
	}
	if cfg.Pool == nil {
		cfg.Pool = s.Pool
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = s.dispatcher
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = s.scheduler
	}
	if cfg.Logger == nil {
		cfg.Logger = relaylog.NewConnector(s.Log, cfg.Name)
	}
	c := connector.New(cfg)

	s.mu.Lock()
	s.connectors = append(s.connectors, c)
	s.mu.Unlock()
	return c
}

// Connectors returns every Connector attached via AddConnector, in
// attachment order.
func (s *Server) Connectors() []*connector.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*connector.Connector(nil), s.connectors...)
}

// ListenAndServe opens and starts every attached Connector, and blocks
// until ctx is cancelled, at which point it calls Stop on each
// Connector in attachment order and returns once they've all drained
// (or the grace period in cfg elapses).
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("relay: Server already started")
	}
	if len(s.connectors) == 0 {
		s.mu.Unlock()
		return ErrNoConnectors
	}
	if s.Root == nil || s.Root.Server() == nil {
		s.mu.Unlock()
		return ErrHandlerNotAttached
	}
	s.started = true
	connectors := append([]*connector.Connector(nil), s.connectors...)
	s.mu.Unlock()

	for _, c := range connectors {
		if err := c.Open(); err != nil {
			return fmt.Errorf("relay: open %s: %w", c.Name(), err)
		}
	}
	for _, c := range connectors {
		if err := c.Start(); err != nil {
			return fmt.Errorf("relay: start %s: %w", c.Name(), err)
		}
		s.Log.Info().Str("connector", c.Name()).Int("port", c.LocalPort()).Msg("connector listening")
	}

	<-ctx.Done()
	return s.Stop(context.Background())
}

// Stop gracefully stops every attached Connector in attachment order,
// per spec.md §3's shutdown-ordering invariant, then waits for work
// submitted to the shared dispatcher to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	connectors := append([]*connector.Connector(nil), s.connectors...)
	s.mu.Unlock()

	var firstErr error
	for _, c := range connectors {
		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
	return firstErr
}

// Close force-closes every attached Connector without waiting for
// in-flight work to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	connectors := append([]*connector.Connector(nil), s.connectors...)
	s.mu.Unlock()

	var firstErr error
	for _, c := range connectors {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BootConfig is what cmd/relayd loads from the environment: enough to
// stand up one plaintext HTTP Connector plus the shutdown control
// channel, grounded on the gateway's config.Load() env-var shape.
type BootConfig struct {
	Env             string
	Addr            string
	Port            int
	MaxInFlight     int
	GracefulTimeout time.Duration

	ShutdownKey  string
	ShutdownPort int

	HTTPConfig *httpconfig.Config
}
