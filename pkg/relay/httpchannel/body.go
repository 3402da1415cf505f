package httpchannel

import (
	"io"
	"sync"
)

// bodyReader streams request content to the Handler tree. When
// delayDispatchUntilContent is false, a handler can start running
// before the whole body has arrived: it blocks in Read until the
// Connection's fill loop (running on whatever goroutine is driving the
// socket) delivers the next chunk via feed, or until feedEOF/feedError
// closes the stream. This is a plain producer/consumer guarded by a
// condition variable, the same shape as an io.Pipe but without the
// extra goroutine io.Pipe needs, since the producer here is already a
// callback invoked inline from the parser.
type bodyReader struct {
	mu   sync.Mutex
	cond *sync.Cond

	chunks [][]byte
	off    int // read offset into chunks[0]

	closed bool
	err    error

	// onFirstRead, if set, runs once before the first byte is returned
	// from Read — the hook Channel.Continue100 uses to send the 100
	// Continue interim response lazily, only once a handler actually
	// commits to reading the body.
	onFirstRead func() error
	firstReadDone bool
}

func newBodyReader() *bodyReader {
	b := &bodyReader{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// feed is called from the parser's Content callback with bytes the
// caller no longer owns past this call — bodyReader copies them.
func (b *bodyReader) feed(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := append([]byte(nil), p...)
	b.mu.Lock()
	b.chunks = append(b.chunks, cp)
	b.cond.Signal()
	b.mu.Unlock()
}

// feedEOF marks the body as fully delivered.
func (b *bodyReader) feedEOF() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// feedError aborts the stream (e.g. the peer reset the connection
// mid-body); subsequent Reads return err.
func (b *bodyReader) feedError(err error) {
	b.mu.Lock()
	b.closed = true
	b.err = err
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *bodyReader) Read(p []byte) (int, error) {
	b.mu.Lock()
	if !b.firstReadDone {
		b.firstReadDone = true
		hook := b.onFirstRead
		if hook != nil {
			b.mu.Unlock()
			if err := hook(); err != nil {
				return 0, err
			}
			b.mu.Lock()
		}
	}
	defer b.mu.Unlock()
	for len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	n := copy(p, b.chunks[0][b.off:])
	b.off += n
	if b.off >= len(b.chunks[0]) {
		b.chunks = b.chunks[1:]
		b.off = 0
	}
	return n, nil
}
