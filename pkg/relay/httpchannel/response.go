package httpchannel

import (
	"errors"
	"sync/atomic"

	"github.com/relayhttp/relay/pkg/relay/wire"
)

// ErrCommitted is returned by Response methods that mutate
// status/headers once the response has already been committed (the
// status line has been handed to the Generator and can no longer
// change), mirroring the teacher's "response already committed"
// IllegalStateException equivalent.
var ErrCommitted = errors.New("httpchannel: response already committed")

// Response is the write-side view of one HTTP message. Write and
// WriteHeader queue bytes/state with the owning Channel, which drives
// the wire.Generator; nothing is flushed to the wire until the Channel
// decides to (on handler return, on an explicit Flush, or once enough
// bytes have buffered to exceed the configured aggregation size).
type Response struct {
	Status  int
	Header  wire.Fields
	channel *Channel

	committed atomic.Bool
	buf       []byte

	// knownLength is set by flush right before the first commit when
	// that commit coincides with the end of the body, so onCommit can
	// send a Content-Length instead of chunked framing. Write commits
	// on its first call, so this applies only when the handler never
	// calls Write or Flush (an empty body, sent as Content-Length: 0);
	// a body written through Write is sent chunked unless the handler
	// set Content-Length itself. -1 means unknown.
	knownLength int64
}

func newResponse(ch *Channel) *Response {
	return &Response{Status: 200, channel: ch, knownLength: -1}
}

// Committed satisfies handler.Response: once true, the status line and
// headers can no longer be changed.
func (r *Response) Committed() bool { return r.committed.Load() }

// WriteHeader sets the status code. A second call is a no-op once
// committed, matching net/http's WriteHeader semantics rather than
// erroring, since handlers calling it twice is a common, harmless bug
// pattern the teacher's response.go tolerates the same way.
func (r *Response) WriteHeader(status int) {
	if r.committed.Load() {
		return
	}
	r.Status = status
}

// SetHeader sets a response header, replacing any existing value. No
// effect once committed.
func (r *Response) SetHeader(name string, value []byte) error {
	if r.committed.Load() {
		return ErrCommitted
	}
	r.Header.Set(name, value)
	return nil
}

// AddHeader appends a response header without replacing existing
// values of the same name (e.g. multiple Set-Cookie fields).
func (r *Response) AddHeader(name, value []byte) error {
	if r.committed.Load() {
		return ErrCommitted
	}
	r.Header.Add(name, value)
	return nil
}

// Write buffers body bytes. The first call commits the response
// (status and headers become immutable) and asks the Channel to begin
// the write-path state machine.
func (r *Response) Write(p []byte) (int, error) {
	if err := r.commit(); err != nil {
		return 0, err
	}
	r.buf = append(r.buf, p...)
	if len(r.buf) >= r.channel.outputAggregationSize {
		if err := r.channel.flush(r, false); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush forces any buffered body bytes to the wire without ending the
// response.
func (r *Response) Flush() error {
	if err := r.commit(); err != nil {
		return err
	}
	return r.channel.flush(r, false)
}

func (r *Response) commit() error {
	if r.committed.CompareAndSwap(false, true) {
		return r.channel.onCommit(r)
	}
	return nil
}

// takeBuffered drains and returns the currently buffered body bytes.
func (r *Response) takeBuffered() []byte {
	b := r.buf
	r.buf = nil
	return b
}
