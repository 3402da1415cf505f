// Package httpconn implements the per-endpoint HTTP/1 Connection:
// spec.md §4.2's fill/parse loop and iterating write-path state
// machine, wired to one reused httpchannel.Channel per connection. It
// is the glue between an endpoint.Endpoint (bytes) and a
// httpchannel.Channel (requests), the direct analogue of the teacher's
// http11.Connection.Serve loop adapted to the wire.Parser/Generator
// push-style callbacks instead of a pull-style bufio.Reader.
package httpconn

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relayhttp/relay/pkg/relay/buffer"
	"github.com/relayhttp/relay/pkg/relay/endpoint"
	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/httpchannel"
	"github.com/relayhttp/relay/pkg/relay/wire"
)

// IOError wraps a read or write failure on the endpoint, tagged so
// callers can distinguish it from a BadMessage/*wire.ParseError
// without a type switch on the underlying net error.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "httpconn: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// errNonPersistent signals that the response for the request just
// completed decided the connection should close (HTTP/1.0 without
// keep-alive, Connection: close, CONNECT, etc). It is never logged as
// a failure by abort; it is the ordinary path off a non-persistent
// connection.
var errNonPersistent = errors.New("httpconn: connection not persistent")

// Dispatcher hands a runnable off to whatever runs request handling.
// connector.Connector's executor.Pool satisfies this; kept narrow so
// this package doesn't need to import executor. Not currently consulted
// by Connection itself — httpchannel.Channel starts the Handler tree on
// its own goroutine directly (see Channel.startDispatch) rather than
// through a pool, so a handler can run concurrently with body delivery
// off the read loop's goroutine.
type Dispatcher interface {
	Submit(fn func())
}

// Config bundles the httpconfig.Config fields a Connection consults,
// passed by value so this package never imports httpconfig (which
// imports httpchannel and would otherwise cycle back here).
type Config struct {
	InputBufferSize    int
	RequestHeaderSize  int // plumbed into wire.NewParserSize; <= 0 keeps the codec defaults
	ResponseHeaderSize int // plumbed into wire.NewGeneratorSize; <= 0 leaves it unbounded
	Channel            httpchannel.Config
}

// Connection drives one endpoint.Endpoint as HTTP/1.0/1.1, per
// spec.md §4.2. One Connection is created per accepted endpoint by a
// connector.Factory and is never reused across endpoints; its Channel
// and wire.Parser/Generator *are* reused across the pipelined requests
// that arrive on that one endpoint. Connection itself implements
// wire.Callbacks (the parser drives it directly) and httpchannel.Sink
// (the Channel writes responses through it), so one type owns both
// halves of the wire state machine for this endpoint.
type Connection struct {
	ep   endpoint.Endpoint
	pool *buffer.Pool
	disp Dispatcher
	cfg  Config

	parser *wire.Parser
	gen    *wire.Generator
	ch     *httpchannel.Channel

	lastMethod uint8  // set by StartRequest, consulted by Commit for HEAD suppression
	cbErr      error  // error surfaced by the most recent Callbacks.MessageComplete/BadMessage

	reqBuf    []byte // acquired from pool, holds unconsumed bytes off the wire
	reqBufLen int    // valid bytes currently in reqBuf
	reqBufOff int    // bytes already consumed by the parser

	writeMu sync.Mutex // guards gen + ep.Write against a concurrent Close

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	messages atomic.Int64

	closeOnce     sync.Once
	closed        atomic.Bool
	closeObserver func(cause error)
}

// New builds a Connection over ep. upgrader may be nil (no Upgrade
// support wired for this connector); root is the Handler tree every
// request on this connection is dispatched to.
func New(ep endpoint.Endpoint, pool *buffer.Pool, disp Dispatcher, upgrader httpchannel.Upgrader, root handler.Handler, cfg Config) *Connection {
	c := &Connection{ep: ep, pool: pool, disp: disp, cfg: cfg}
	c.gen = wire.NewGeneratorSize(cfg.ResponseHeaderSize)
	c.ch = httpchannel.New(c, upgrader, root, cfg.Channel)
	c.parser = wire.NewParserSize(c, cfg.RequestHeaderSize)
	return c
}

// OnOpen satisfies endpoint.Connection: spawn the read/parse loop on
// its own goroutine (the idiomatic analogue of registering fill
// interest — the goroutine blocks in Endpoint.Fill instead of a
// reactor resuming it).
func (c *Connection) OnOpen() {
	go c.readLoop()
}

// OnClose satisfies endpoint.Connection. cause is nil on a clean,
// locally-initiated close.
func (c *Connection) OnClose(cause error) {
	c.releaseRequestBuffer()
}

// readLoop is spec.md §4.2's fill/parse loop, steps 1-6, run until the
// endpoint is exhausted, the connection is marked non-persistent, or
// it is handed off via Upgrade.
func (c *Connection) readLoop() {
	for {
		if c.closed.Load() {
			return
		}
		if err := c.fillAndParseOnce(); err != nil {
			c.abort(err)
			return
		}
		if c.parser == nil {
			// Upgraded: the endpoint now belongs to a different
			// Connection and this goroutine must stop driving it.
			return
		}
	}
}

// fillAndParseOnce performs one iteration of steps 2-6. It returns a
// non-nil error only for a condition that should tear the connection
// down; errStop reports a condition readLoop's caller (abort) treats
// as a clean, non-logged stop rather than a failure.
func (c *Connection) fillAndParseOnce() error {
	if err := c.ensureRequestBuffer(); err != nil {
		return err
	}

	if c.reqBufOff >= c.reqBufLen {
		// No pipelined bytes left over from a previous Fill; read more
		// off the wire before parsing. Reusing the buffer from the top
		// here (rather than only when it's entirely empty) is what lets
		// a connection serve an unbounded number of pipelined requests
		// without the input buffer growing unboundedly.
		c.reqBufOff, c.reqBufLen = 0, 0

		n, rerr := c.ep.Fill(c.reqBuf)
		if n == 0 && rerr == nil {
			// A single zero-read retry, per spec.md §4.2 step 3 (the TLS
			// handshake-record optimization): try exactly once more
			// before giving up and re-arming fill interest.
			n, rerr = c.ep.Fill(c.reqBuf)
			if n == 0 && rerr == nil {
				c.ep.FillInterested(func() { c.resumeRead() })
				return errStop
			}
		}
		if n > 0 {
			c.bytesIn.Add(int64(n))
			c.reqBufLen = n
		}
		if rerr != nil {
			if rerr == io.EOF {
				c.parser.HandleEOF()
				return errPeerClosed
			}
			return &IOError{Op: "fill", Err: rerr}
		}
	}

	consumed, perr := c.parser.Feed(c.reqBuf[c.reqBufOff:c.reqBufLen])
	c.reqBufOff += consumed
	if c.reqBufOff >= c.reqBufLen {
		c.reqBufOff, c.reqBufLen = 0, 0
	}
	if perr != nil {
		return &IOError{Op: "parse", Err: perr}
	}
	if c.cbErr != nil {
		err := c.cbErr
		c.cbErr = nil
		return err
	}
	return nil
}

// errStop is a sentinel telling readLoop to return without treating
// the condition as an abort; it never escapes this package. Unlike
// errPeerClosed, the endpoint stays open — FillInterested has armed a
// callback to resume this connection's read loop later.
var errStop = errors.New("httpconn: stop (internal)")

// errPeerClosed signals the peer shut down its side of the connection
// cleanly (Fill returned io.EOF). Unlike errStop, this condition is
// terminal: abort closes the endpoint so its resources are released,
// but does not log it as a failure.
var errPeerClosed = errors.New("httpconn: peer closed")

// resumeRead restarts the blocking read loop after a zero-byte Fill
// re-armed interest (see fillAndParseOnce). Runs on the goroutine the
// endpoint's FillInterested spawned.
func (c *Connection) resumeRead() {
	c.readLoop()
}

func (c *Connection) ensureRequestBuffer() error {
	if c.reqBuf != nil {
		return nil
	}
	size := c.cfg.InputBufferSize
	if size <= 0 {
		size = buffer.Class32KB
	}
	c.reqBuf = c.pool.Acquire(size)
	c.reqBufLen, c.reqBufOff = 0, 0
	return nil
}

func (c *Connection) releaseRequestBuffer() {
	if c.reqBuf == nil {
		return
	}
	if c.reqBufOff < c.reqBufLen {
		return // bytes for a pipelined request still unconsumed
	}
	c.pool.Release(c.reqBuf)
	c.reqBuf = nil
}

// abort reports a fatal connection error: anything other than a clean
// EOF or a non-persistent finish is logged by the caller (connector
// wires a logger in) and the endpoint is closed. errStop is swallowed
// — it is not a failure, just "nothing more to do on this goroutine
// right now".
func (c *Connection) abort(err error) {
	if err == errStop {
		return
	}
	cause := err
	if err == errPeerClosed || err == errNonPersistent {
		cause = nil
	}
	c.closeWithCause(cause)
}

// Close tears the connection down idempotently: closes the endpoint
// and releases any buffer still held. Equivalent to closeWithCause(nil)
// — exported for callers (connector shutdown) with no specific cause.
func (c *Connection) Close() error {
	return c.closeWithCause(nil)
}

// SetCloseObserver registers fn to run exactly once, the first time
// this connection is torn down, with the error that caused it (nil for
// a clean, locally-initiated or peer-initiated close). connector.Connector
// uses this to keep its open-connections set and Stats in sync without
// endpoint.Connection.OnClose needing a caller.
func (c *Connection) SetCloseObserver(fn func(cause error)) {
	c.closeObserver = fn
}

func (c *Connection) closeWithCause(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.ep.Close()
		c.releaseRequestBuffer()
		if c.closeObserver != nil {
			c.closeObserver(cause)
		}
	})
	return err
}

// BytesIn/BytesOut/Messages report cumulative counters for
// connector.Stats.
func (c *Connection) BytesIn() int64  { return c.bytesIn.Load() }
func (c *Connection) BytesOut() int64 { return c.bytesOut.Load() }
func (c *Connection) Messages() int64 { return c.messages.Load() }

// ---- wire.Callbacks -------------------------------------------------
//
// Connection implements wire.Callbacks directly rather than through a
// separate adapter type: httpchannel.Channel's method names and
// signatures (BeginRequest takes a context and returns *Request;
// MessageComplete returns three values) diverge from the Callbacks
// contract the Parser drives, so each method here just translates the
// shapes and, for MessageComplete/BadMessage, records the Channel's
// persistence verdict in cbErr for fillAndParseOnce to act on once
// Feed returns control.

// StartRequest satisfies wire.Callbacks.
func (c *Connection) StartRequest(method uint8, uri []byte, version wire.ProtoVersion) {
	c.lastMethod = method
	c.ch.BeginRequest(context.Background(), method, uri, version)
}

// ParsedHeader satisfies wire.Callbacks.
func (c *Connection) ParsedHeader(name, value []byte) { c.ch.ParsedHeader(name, value) }

// HeaderComplete satisfies wire.Callbacks.
func (c *Connection) HeaderComplete() error { return c.ch.HeaderComplete() }

// Content satisfies wire.Callbacks.
func (c *Connection) Content(buf []byte) { c.ch.Content(buf) }

// ContentComplete satisfies wire.Callbacks.
func (c *Connection) ContentComplete() { c.ch.ContentComplete() }

// ParsedTrailer satisfies wire.Callbacks.
func (c *Connection) ParsedTrailer(name, value []byte) { c.ch.ParsedTrailer(name, value) }

// Continue100 satisfies wire.Callbacks.
func (c *Connection) Continue100(available bool) { c.ch.Continue100(available) }

// EarlyEOF satisfies wire.Callbacks.
func (c *Connection) EarlyEOF() { c.ch.HandleEarlyEOF() }

// BadMessage satisfies wire.Callbacks. A *wire.ParseError gets an
// error response from the Channel. Any other error is one
// HeaderComplete returned (e.g. a failed 101 commit); Feed returns it
// as well, and fillAndParseOnce tears the connection down without a
// response.
func (c *Connection) BadMessage(err error) {
	perr, ok := err.(*wire.ParseError)
	if !ok {
		return
	}
	persistent, herr := c.ch.HandleBadMessage(perr)
	c.afterMessage(persistent, false, herr)
}

// MessageComplete satisfies wire.Callbacks. By the time this returns,
// the Handler tree (running on its own goroutine since HeaderComplete
// or Continue100/Content — see httpchannel.Channel.startDispatch) has
// finished and flushed its response through this Connection's Sink
// methods below; this call itself just joins that goroutine.
func (c *Connection) MessageComplete() {
	persistent, upgraded, err := c.ch.MessageComplete()
	c.afterMessage(persistent, upgraded, err)
}

// afterMessage resolves what fillAndParseOnce should do once the
// current message's response has finished flushing: reset for the
// next pipelined request, stop driving (Upgrade already handed the
// endpoint off), or surface errNonPersistent/err so the caller closes.
func (c *Connection) afterMessage(persistent, upgraded bool, err error) {
	c.messages.Add(1)
	if err != nil {
		c.cbErr = err
		return
	}
	if upgraded {
		c.parser = nil
		return
	}
	if !persistent {
		c.cbErr = errNonPersistent
		return
	}
	c.ch.Reset()
	c.parser.Reset()
	c.gen.Reset()
}

// ---- httpchannel.Sink -------------------------------------------------
//
// Commit/WriteBody drive wire.Generator's Next loop, gather-writing
// whichever of HeaderBuffer/ChunkBuffer/ContentBuffer each Flush/
// NeedChunk/NeedChunkTrailer op's mask names. The Handler tree runs on
// its own goroutine (see httpchannel.Channel.startDispatch) and calls
// these directly for the 100-continue interim response and the final
// response; the read loop's goroutine is parked in MessageComplete
// waiting on the same Channel the whole time, so exactly one goroutine
// ever drives the generator at once. writeMu exists only to keep a
// concurrent Close from racing the final ep.Write.

// Commit satisfies httpchannel.Sink: it primes the generator with the
// response metadata. No bytes reach the wire yet — Next's first call
// from a freshly-Reset generator always returns NEED_HEADER, which
// carries no Flush — actual transmission happens on the WriteBody call
// that follows.
func (c *Connection) Commit(meta wire.ResponseMeta) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.gen.Reset()
	if err := c.gen.SetResponse(meta, c.lastMethod == wire.MethodHEAD); err != nil {
		return err
	}
	_, _, err := c.gen.Next()
	return err
}

// WriteBody satisfies httpchannel.Sink: it hands buf to the generator
// and pumps Next until the generator is waiting on a fresh WriteContent
// call or the response (and, for a non-persistent connection, the
// output side of the socket) is finished.
func (c *Connection) WriteBody(buf []byte, last bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.gen.WriteContent(buf, last)
	return c.pump()
}

// pump drives Next in a loop, gather-writing every Flush/NeedChunk/
// NeedChunkTrailer op it sees. It stops either on a terminal op
// (DONE/SHUTDOWN_OUT/CONTINUE) or, mid-body, once the generator is
// waiting on the next WriteContent call and the most recent one wasn't
// marked final — ContentLast distinguishes "need a new buffer" from
// "already told to finish, just keep driving Next to get there".
func (c *Connection) pump() error {
	for {
		op, mask, err := c.gen.Next()
		if err != nil {
			return err
		}
		switch op {
		case wire.Flush, wire.NeedChunk, wire.NeedChunkTrailer:
			if werr := c.gatherWrite(mask); werr != nil {
				return werr
			}
			if mask&wire.MaskContent != 0 {
				c.gen.ClearContent()
			}
		case wire.ShutdownOut:
			return c.ep.ShutdownOutput()
		case wire.Done:
			return nil
		case wire.OpContinue:
			return nil
		default:
			// NeedHeader/NeedInfo: no bytes to send, keep driving.
			continue
		}
		if !c.gen.ContentLast() && c.gen.AwaitingContent() {
			return nil
		}
	}
}

// gatherWrite performs one Endpoint.Write call over whichever buffers
// mask names, in the wire order header, chunk-line, content.
func (c *Connection) gatherWrite(mask wire.GatherMask) error {
	var bufs [][]byte
	if mask&wire.MaskHeader != 0 {
		bufs = append(bufs, c.gen.HeaderBuffer())
	}
	if mask&wire.MaskChunk != 0 {
		bufs = append(bufs, c.gen.ChunkBuffer())
	}
	if mask&wire.MaskContent != 0 {
		bufs = append(bufs, c.gen.ContentBuffer())
	}
	n, err := c.ep.Write(bufs...)
	c.bytesOut.Add(n)
	return err
}
