// Package httpchannel implements the per-request Channel: the state
// machine that sits between a parsed request and the Handler tree,
// deciding persistence, servicing Expect: 100-continue, and brokering
// protocol Upgrades. It is the Go analogue of the teacher's
// http11.Connection response/request pairing, split out of the byte
// pump (httpconn) so it can be unit tested without a socket.
package httpchannel

import (
	"context"
	"io"
	"net"

	"github.com/relayhttp/relay/pkg/relay/wire"
)

// Dispatch names why a Request is being handled, mirroring the
// REQUEST/ERROR split spec.md's error-dispatch-count invariant needs.
type Dispatch uint8

const (
	DispatchRequest Dispatch = iota
	DispatchError
	DispatchAsyncError
)

// Request is the read-side view of one HTTP message, built by Channel
// from wire.Parser callbacks. Header/trailer bytes referenced here are
// only valid for the lifetime of the request; handlers that need to
// retain a value must copy it.
type Request struct {
	Method  uint8
	URI     []byte
	Path    []byte
	Query   []byte
	Version wire.ProtoVersion
	Header  wire.Fields
	Trailer wire.Fields

	RemoteAddr net.Addr
	LocalAddr  net.Addr
	Scheme     string

	// Attributes holds per-request key/value state set by customizers
	// or handlers (e.g. the forwarded-for chain, the TLS peer cert) —
	// the same "request attribute bag" role the teacher's http11
	// request wrapper serves for servlet-style code.
	Attributes map[string]interface{}

	ExpectsContinue    bool
	ExpectsProcessing  bool
	UnknownExpectation bool

	Dispatch        Dispatch
	ErrorDispatches int

	ctx  context.Context
	body *bodyReader
}

func newRequest(ctx context.Context) *Request {
	return &Request{
		Attributes: make(map[string]interface{}),
		ctx:        ctx,
	}
}

// Context satisfies handler.Request.
func (r *Request) Context() context.Context { return r.ctx }

// WithContext returns r with its context replaced, the same
// copy-on-write shape net/http's Request.WithContext uses so existing
// request wrappers (customizers) don't alias this Request's fields and
// can append a context value without extra indirection.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

// Body returns the streaming reader for this request's content. Nil
// until the Channel's HeaderComplete has run for this request.
func (r *Request) Body() io.Reader {
	if r.body == nil {
		return nil
	}
	return r.body
}

// Attribute reads a request attribute; ok is false if unset.
func (r *Request) Attribute(key string) (interface{}, bool) {
	v, ok := r.Attributes[key]
	return v, ok
}

// SetAttribute stores a request attribute.
func (r *Request) SetAttribute(key string, value interface{}) {
	r.Attributes[key] = value
}

func (r *Request) reset() {
	r.Method = wire.MethodUnknown
	r.URI = nil
	r.Path = nil
	r.Query = nil
	r.Header = wire.Fields{}
	r.Trailer = wire.Fields{}
	r.ExpectsContinue = false
	r.ExpectsProcessing = false
	r.UnknownExpectation = false
	r.Dispatch = DispatchRequest
	r.ErrorDispatches = 0
	for k := range r.Attributes {
		delete(r.Attributes, k)
	}
	r.body = nil
}
