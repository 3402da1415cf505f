package httpchannel

import (
	"context"
	"strings"

	"github.com/relayhttp/relay/pkg/relay/handler"
	"github.com/relayhttp/relay/pkg/relay/wire"
)

// State is the Channel's own lifecycle, independent of the wire
// Parser/Generator states: Idle before a request exists, Dispatched
// while the Handler tree is running, AsyncWait if a handler suspends
// (not yet exercised by any handler in this tree, but the hook exists
// for forward compatibility with async handlers), Completing once the
// handler has returned and the response is being flushed, Completed
// once the wire generator has reached DONE/SHUTDOWN_OUT.
type State uint8

const (
	StateIdle State = iota
	StateDispatched
	StateAsyncWait
	StateCompleting
	StateCompleted
)

// Sink is the write-side surface httpconn.Connection provides: the
// Channel decides what to send and when, the Connection owns the
// actual wire.Generator pump and socket.
type Sink interface {
	// Commit sends meta as the response's header block. Called exactly
	// once per response, before the first WriteBody call.
	Commit(meta wire.ResponseMeta) error

	// WriteBody sends buf as the next body segment; last marks the end
	// of the body (buf may be empty with last=true for a zero-length
	// body).
	WriteBody(buf []byte, last bool) error
}

// Upgrader is implemented by whatever owns the factory chain
// (connector.Connector) to let the Channel broker a protocol Upgrade
// without httpchannel importing connector.
type Upgrader interface {
	// TryUpgrade inspects the Upgrade/Connection headers already parsed
	// onto req and, if a registered protocol matches, performs the
	// hand-off and reports true. The Channel sends 101 on true and
	// treats the connection as no longer its own past that point.
	TryUpgrade(req *Request) (accepted bool, protocol string)
}

// DirectUpgrader is an optional extension an Upgrader can also satisfy
// to handle HTTP/2's prior-knowledge preface (RFC 7540 §3.4, "PRI *
// HTTP/2.0" with no headers) — reachable with no Upgrade header at all,
// so it can't be driven through TryUpgrade's header inspection.
// connector.connectionUpgrader implements this by retrying its factory
// list against the fixed token "h2c".
type DirectUpgrader interface {
	TryDirectUpgrade() (accepted bool, protocol string)
}

// DefaultMaxErrorDispatches bounds how many times a Channel will retry
// dispatching to an error handler for the same request before giving
// up and sending a bare 500, preventing a misbehaving error handler
// from looping forever (spec.md's error-dispatch-count invariant).
const DefaultMaxErrorDispatches = 10

// Channel drives one request/response exchange: it owns persistence
// decisions, the 100-continue and Upgrade protocols, and error-dispatch
// bookkeeping, and calls into the Handler tree to produce a response.
type Channel struct {
	sink     Sink
	upgrader Upgrader
	root     handler.Handler
	errorHandler handler.Handler

	maxErrorDispatches        int
	outputAggregationSize     int
	persistentEnabled         bool
	sendServerVersion         bool
	sendDateHeader            bool
	delayDispatchUntilContent bool

	serverDateHeader func() []byte

	state State
	req   *Request
	resp  *Response

	persistent bool

	// dispatch runs the Handler tree concurrently with body delivery
	// (see startDispatch) so a handler blocked in Body().Read() observes
	// bytes as the wire.Parser feeds them instead of only after the
	// whole body has already arrived — the ordering Expect: 100-continue
	// depends on. dispatchDone closes once the goroutine has recorded
	// handled/dispatchErr.
	dispatchStarted bool
	dispatchDone    chan struct{}
	handled         bool
	dispatchErr     error

	upgraded   bool
	upgradeErr error

	// skipDispatch marks a request handleDirectPreface already answered
	// itself (a declined HTTP/2 preface, sent as a bare 426) — the
	// Handler tree must never run for it, unlike the ordinary 404/500
	// fallbacks MessageComplete produces when dispatch itself runs but
	// nothing handles the request.
	skipDispatch bool
}

// Config bundles the subset of httpconfig.Config a Channel consults,
// passed by value so this package never imports httpconfig (which
// imports httpchannel for Request/Response, and would otherwise cycle).
type Config struct {
	MaxErrorDispatches           int
	OutputAggregationSize        int
	PersistentConnectionsEnabled bool
	SendServerVersion            bool
	SendDateHeader                bool
	DateHeader                    func() []byte

	// DelayDispatchUntilContent postpones starting the Handler tree
	// until the first body byte arrives (or ContentComplete, for a
	// declared-empty body), rather than immediately once headers finish
	// — spec.md §4.2/§4.3's dispatch-timing knob. Either way, dispatch
	// never waits for the *whole* body: a handler that reads the body
	// itself still streams it concurrently via Request.Body().
	DelayDispatchUntilContent bool

	// ErrorHandler, if set, is dispatched instead of root whenever a
	// response is being generated for a HandlerException or BadMessage
	// (spec.md §3's Server.ErrorHandler field). Nil means reuse root,
	// tagged with Dispatch=DispatchError, the same tree a handler can
	// itself branch on.
	ErrorHandler handler.Handler
}

// New creates a Channel bound to sink and root, ready to handle
// successive requests on one connection via Reset+Handle.
func New(sink Sink, upgrader Upgrader, root handler.Handler, cfg Config) *Channel {
	maxErr := cfg.MaxErrorDispatches
	if maxErr <= 0 {
		maxErr = DefaultMaxErrorDispatches
	}
	aggSize := cfg.OutputAggregationSize
	if aggSize <= 0 {
		aggSize = 8192
	}
	return &Channel{
		sink:                      sink,
		upgrader:                  upgrader,
		root:                      root,
		errorHandler:              cfg.ErrorHandler,
		maxErrorDispatches:        maxErr,
		outputAggregationSize:     aggSize,
		persistentEnabled:         cfg.PersistentConnectionsEnabled,
		sendServerVersion:         cfg.SendServerVersion,
		sendDateHeader:            cfg.SendDateHeader,
		delayDispatchUntilContent: cfg.DelayDispatchUntilContent,
		serverDateHeader:          cfg.DateHeader,
		state:                     StateIdle,
	}
}

// Reset prepares the Channel for the next request on a persistent
// connection.
func (c *Channel) Reset() {
	c.state = StateIdle
	c.req = nil
	c.resp = nil
	c.persistent = false
	c.dispatchStarted = false
	c.dispatchDone = nil
	c.handled = false
	c.dispatchErr = nil
	c.upgraded = false
	c.upgradeErr = nil
	c.skipDispatch = false
}

// BeginRequest is called at the same point wire.Parser's StartRequest
// callback fires (the request-line has been parsed, headers haven't):
// it builds the Request/Response pair. ParsedHeader/HeaderComplete
// calls follow as the caller feeds header fields through; the final
// persistence decision — the version x Connection-header table in
// spec.md §4.3 — is made in HeaderComplete, once every header has been
// seen:
//
//	HTTP/1.0, no Connection: keep-alive           -> close
//	HTTP/1.0, Connection: keep-alive               -> persistent
//	HTTP/1.1, no Connection header                 -> persistent
//	HTTP/1.1, Connection: close                    -> close
//	any version, method == CONNECT                 -> always close
func (c *Channel) BeginRequest(ctx context.Context, method uint8, uri []byte, version wire.ProtoVersion) *Request {
	c.req = newRequest(ctx)
	c.req.Method = method
	c.req.URI = uri
	splitURI(c.req)
	c.req.Version = version
	c.resp = newResponse(c)
	c.state = StateDispatched
	return c.req
}

func splitURI(r *Request) {
	if i := indexByte(r.URI, '?'); i >= 0 {
		r.Path = r.URI[:i]
		r.Query = r.URI[i+1:]
	} else {
		r.Path = r.URI
		r.Query = nil
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// ParsedHeader records a copy of one header field; the Connection and
// Expect decisions read the collected headers later, in HeaderComplete.
func (c *Channel) ParsedHeader(name, value []byte) {
	c.req.Header.Add(append([]byte(nil), name...), append([]byte(nil), value...))
}

// HeaderComplete finalizes the persistence decision once every header
// has been seen and creates the request body reader (Continue100 later
// installs the lazy 100-continue hook on it). It also decides the request's fate
// once headers are in, before any body byte has necessarily arrived:
// an Upgrade is brokered here (decided purely from headers), and
// ordinary dispatch starts here too unless either DelayDispatchUntilContent
// was requested or the request carries Expect: 100-continue — in the
// latter case Continue100 (called next, by the parser) starts dispatch
// instead, after it has registered the 100-continue hook, closing the
// window where a handler could call Body().Read() before that hook
// exists.
func (c *Channel) HeaderComplete() error {
	c.persistent = c.decidePersistence()
	c.req.body = newBodyReader()

	if c.req.Method == wire.MethodPRI && c.req.Version == wire.HTTP20 {
		return c.handleDirectPreface()
	}

	if upgraded, err := c.tryUpgrade(); upgraded {
		c.upgraded = true
		c.upgradeErr = err
		return err
	}

	if !c.delayDispatchUntilContent && !c.expectsContinueHeader() {
		c.startDispatch()
	}
	return nil
}

// expectsContinueHeader mirrors wire.Parser's own Expect: 100-continue
// classification (it runs before HeaderComplete and never exposes the
// flag to Callbacks), so HeaderComplete can tell whether Continue100
// is about to be called next and leave dispatch to it.
func (c *Channel) expectsContinueHeader() bool {
	return c.req.Version.Minor == 1 && strings.EqualFold(c.req.Header.GetString("Expect"), "100-continue")
}

// startDispatch runs the Handler tree on its own goroutine, concurrent
// with whatever body bytes are still arriving off the wire: a handler
// blocked in Request.Body().Read() unblocks as Content/ContentComplete
// feed the bodyReader from the parser's goroutine. MessageComplete
// waits on dispatchDone before flushing the final response, so exactly
// one goroutine is ever writing to the Sink (Continue100's 100-continue
// commit included) at a time. Safe to call more than once; only the
// first call starts anything.
func (c *Channel) startDispatch() {
	if c.dispatchStarted || c.skipDispatch {
		return
	}
	c.dispatchStarted = true
	c.dispatchDone = make(chan struct{})
	go func() {
		defer close(c.dispatchDone)
		handled, err := c.dispatch(DispatchRequest)
		if err != nil {
			handled, err = c.dispatchError(err)
		}
		c.handled = handled
		c.dispatchErr = err
	}()
}

// handleDirectPreface answers a prior-knowledge "PRI * HTTP/2.0"
// preface (RFC 7540 §3.4): a configured h2c factory (reached through
// Upgrader's optional DirectUpgrader extension) takes the connection
// over exactly like a header-driven Upgrade; absent one, the preface
// is refused with 426 rather than ever reaching the Handler tree.
func (c *Channel) handleDirectPreface() error {
	c.persistent = false
	if du, ok := c.upgrader.(DirectUpgrader); ok {
		if accepted, protocol := du.TryDirectUpgrade(); accepted {
			c.upgraded = true
			c.upgradeErr = c.commitUpgrade(protocol)
			return c.upgradeErr
		}
	}
	c.skipDispatch = true
	c.resp.Status = 426
	c.resp.Header.Set("Upgrade", []byte("h2c"))
	return nil
}

// commitUpgrade sends the 101 response handing the connection off to
// protocol, shared by the header-driven (tryUpgrade) and prior-knowledge
// (handleDirectPreface) paths.
func (c *Channel) commitUpgrade(protocol string) error {
	meta := wire.ResponseMeta{
		Status:     101,
		Version:    c.req.Version,
		Headers:    &wire.Fields{},
		Persistent: true,
	}
	meta.Headers.Add([]byte("Upgrade"), []byte(protocol))
	meta.Headers.Add([]byte("Connection"), []byte("upgrade"))
	if err := c.sink.Commit(meta); err != nil {
		return err
	}
	return c.sink.WriteBody(nil, true)
}

func (c *Channel) decidePersistence() bool {
	if c.req.Method == wire.MethodCONNECT {
		return false
	}
	if !c.persistentEnabled {
		return false
	}
	conn := strings.ToLower(c.req.Header.GetString("Connection"))
	switch {
	case c.req.Version.Minor == 0:
		return conn == "keep-alive"
	default:
		return conn != "close"
	}
}

// Continue100 is called by wire.Parser after HeaderComplete when the
// request carried Expect: 100-continue (the parser rejects an
// unrecognized expectation with 417, so that case never reaches here).
// available is ignored: the Channel always waits for the handler to
// actually read the body before committing to sending 100 Continue,
// since a handler that rejects the request outright (auth failure,
// routing miss) should never pay for an interim response it doesn't
// need.
func (c *Channel) Continue100(available bool) {
	c.req.ExpectsContinue = true
	sent := false
	c.req.body.onFirstRead = func() error {
		if sent {
			return nil
		}
		sent = true
		return c.sink.Commit(wire.ResponseMeta{
			Status:     100,
			Version:    c.req.Version,
			Headers:    &wire.Fields{},
			Persistent: true,
		})
	}
	// The hook above is now in place, so it's safe to let the handler
	// start reading the body: dispatch couldn't have started any
	// earlier than this without racing bodyReader's one-shot
	// firstReadDone check (see HeaderComplete).
	if !c.upgraded {
		c.startDispatch()
	}
}

// Content feeds one body segment to the request's streaming reader. If
// dispatch was deferred to first content (DelayDispatchUntilContent),
// this is what starts it.
func (c *Channel) Content(buf []byte) {
	if c.delayDispatchUntilContent && !c.upgraded {
		c.startDispatch()
	}
	c.req.body.feed(buf)
}

func (c *Channel) ContentComplete() {
	if c.delayDispatchUntilContent && !c.upgraded {
		c.startDispatch()
	}
	c.req.body.feedEOF()
}

// disallowedTrailerFields are the fields RFC 7230 §4.1.2 forbids a
// chunked trailer section from carrying: framing and hop-by-hop
// headers a trailer can't retroactively change are dropped rather than
// merged onto the request.
var disallowedTrailerFields = map[string]bool{
	"transfer-encoding":  true,
	"content-length":     true,
	"trailer":            true,
	"connection":         true,
	"keep-alive":         true,
	"te":                 true,
	"upgrade":            true,
	"proxy-authenticate": true,
	"proxy-authorization": true,
	"host":               true,
}

func (c *Channel) ParsedTrailer(name, value []byte) {
	if disallowedTrailerFields[strings.ToLower(string(name))] {
		return
	}
	c.req.Trailer.Add(append([]byte(nil), name...), append([]byte(nil), value...))
}

// MessageComplete runs the Handler tree to completion and finalizes
// the response. It returns the connection's persistence decision (the
// caller, httpconn.Connection, uses this to decide whether to Reset
// and read another request or to shut the connection down) and
// whether the connection was handed off via Upgrade.
func (c *Channel) MessageComplete() (persistent bool, upgraded bool, err error) {
	if c.upgraded {
		return false, true, c.upgradeErr
	}
	if c.skipDispatch {
		// handleDirectPreface already produced the complete response (a
		// declined HTTP/2 preface's 426); the Handler tree never runs.
		persistent, ferr := c.finish()
		return persistent, false, ferr
	}

	// Headers may have been seen with DelayDispatchUntilContent set and
	// an entirely empty body (no Content call ever arrives): dispatch
	// hasn't started yet in that case, since ContentComplete is what
	// would have started it, and it races Content for the same reason.
	c.startDispatch()
	<-c.dispatchDone

	handled, herr := c.handled, c.dispatchErr
	if !handled && herr == nil {
		c.resp.WriteHeader(404)
	}
	persistent, ferr := c.finish()
	if herr != nil {
		return persistent, false, herr
	}
	return persistent, false, ferr
}

func (c *Channel) dispatch(kind Dispatch) (bool, error) {
	c.req.Dispatch = kind
	target := c.root
	if kind == DispatchError && c.errorHandler != nil {
		target = c.errorHandler
	}
	return target.Handle(c.req, c.resp)
}

func (c *Channel) dispatchError(cause error) (bool, error) {
	c.req.ErrorDispatches++
	if c.req.ErrorDispatches > c.maxErrorDispatches {
		c.resp.Status = 500
		return true, nil
	}
	if c.resp.Committed() {
		// Headers are already on the wire; nothing left to do but
		// report the failure upward so the connection tears down.
		return true, cause
	}
	c.resp.Status = 500
	handled, err := c.dispatch(DispatchError)
	if err != nil {
		return c.dispatchError(err)
	}
	if !handled {
		c.resp.WriteHeader(500)
	}
	return true, nil
}

// HandleBadMessage responds to a *wire.ParseError raised by the parser
// before or during message parsing (spec.md §7's BadMessage taxonomy):
// the connection is marked non-persistent and an error response is
// produced via ErrorHandler (or root, tagged DispatchError) capped by
// the same error-dispatch counter MessageComplete uses. If the error
// arrived before StartRequest (e.g. an unparseable request line), no
// Request exists yet and a bare one is synthesized so the error
// Handler still has something to inspect.
func (c *Channel) HandleBadMessage(perr *wire.ParseError) (persistent bool, err error) {
	if c.req == nil {
		c.req = newRequest(context.Background())
		c.req.Version = wire.HTTP11
		c.resp = newResponse(c)
	}
	c.persistent = false
	if c.req.body != nil {
		c.req.body.feedError(perr)
	}
	if c.dispatchStarted {
		// A handler is already running concurrently (it started reading
		// the body before the error arrived); wait for it to finish
		// observing the feedError above rather than racing it to the
		// Sink with a second response.
		<-c.dispatchDone
	}
	if c.resp.Committed() {
		return false, perr
	}
	c.resp.Status = perr.Status
	handled, herr := c.dispatch(DispatchError)
	if herr != nil {
		handled, herr = c.dispatchError(herr)
	}
	if !handled && herr == nil {
		c.resp.WriteHeader(perr.Status)
	}
	p, ferr := c.finish()
	if herr != nil {
		return p, herr
	}
	return p, ferr
}

// HandleEarlyEOF aborts the in-flight request body, if any, so a
// handler blocked reading it observes the failure rather than hanging
// — spec.md §4.2's "Early-EOF mid-request: deliver to the channel"
// rule. No response is produced: the peer is already gone.
func (c *Channel) HandleEarlyEOF() {
	if c.req != nil && c.req.body != nil {
		c.req.body.feedError(wire.ErrUnexpectedEOF)
	}
}

// tryUpgrade runs the Upgrade protocol: a matching Upgrade token plus
// Connection: upgrade triggers a hand-off attempt; success sends 101
// and relinquishes the connection, and decline falls through to normal
// dispatch. The HTTP/2 prior-knowledge preface never reaches here:
// HeaderComplete routes it to handleDirectPreface, which answers 426
// when no h2c factory takes it.
func (c *Channel) tryUpgrade() (bool, error) {
	if c.upgrader == nil {
		return false, nil
	}
	if !c.req.Header.Has("Upgrade") {
		return false, nil
	}
	if !hasToken(c.req.Header.GetString("Connection"), "upgrade") {
		return false, nil
	}
	accepted, protocol := c.upgrader.TryUpgrade(c.req)
	if !accepted {
		return false, nil
	}
	return true, c.commitUpgrade(protocol)
}

func hasToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// onCommit is called by Response the first time it's written to; it
// sends the status line and header block through the Sink, filling in
// the ambient Server/Date headers and the Connection header reflecting
// this Channel's persistence decision.
func (c *Channel) onCommit(resp *Response) error {
	if c.sendServerVersion && !resp.Header.Has("Server") {
		resp.Header.Set("Server", []byte("relay"))
	}
	if c.sendDateHeader && c.serverDateHeader != nil && !resp.Header.Has("Date") {
		resp.Header.Set("Date", c.serverDateHeader())
	}
	var contentLength int64
	switch {
	case resp.Header.Get("Content-Length") != nil:
		contentLength = parseContentLength(resp.Header.Get("Content-Length"))
	case resp.knownLength >= 0:
		contentLength = resp.knownLength
	default:
		contentLength = -1
		if resp.Header.GetString("Transfer-Encoding") != "chunked" {
			resp.Header.Set("Transfer-Encoding", []byte("chunked"))
		}
	}
	if !c.persistent {
		resp.Header.Set("Connection", []byte("close"))
	} else if c.req.Version.Minor == 0 {
		resp.Header.Set("Connection", []byte("keep-alive"))
	}
	return c.sink.Commit(wire.ResponseMeta{
		Status:        resp.Status,
		Version:       c.req.Version,
		Headers:       &resp.Header,
		Persistent:    c.persistent,
		ContentLength: contentLength,
	})
}

func parseContentLength(b []byte) int64 {
	var n int64
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return -1
		}
		n = n*10 + int64(ch-'0')
	}
	return n
}

// flush sends any buffered body bytes through the Sink. final marks
// the end of the response body.
func (c *Channel) flush(resp *Response, final bool) error {
	if !resp.Committed() {
		if final {
			resp.knownLength = int64(len(resp.buf))
		}
		if err := resp.commit(); err != nil {
			return err
		}
	}
	buf := resp.takeBuffered()
	if len(buf) == 0 && !final {
		return nil
	}
	return c.sink.WriteBody(buf, final)
}

// finish flushes any remaining buffered body and reports whether the
// connection stays open for another request.
func (c *Channel) finish() (bool, error) {
	c.state = StateCompleting
	err := c.flush(c.resp, true)
	c.state = StateCompleted
	return c.persistent, err
}
