package wire

import "errors"

// Op is an instruction the response write-path state machine hands
// back to its driver (httpconn.Connection's send loop) on each call to
// Next, per spec.md §4.2's write path.
type Op uint8

const (
	NeedInfo Op = iota
	NeedHeader
	NeedChunk
	NeedChunkTrailer
	Flush
	ShutdownOut
	Done
	OpContinue
)

func (o Op) String() string {
	switch o {
	case NeedInfo:
		return "NEED_INFO"
	case NeedHeader:
		return "NEED_HEADER"
	case NeedChunk:
		return "NEED_CHUNK"
	case NeedChunkTrailer:
		return "NEED_CHUNK_TRAILER"
	case Flush:
		return "FLUSH"
	case ShutdownOut:
		return "SHUTDOWN_OUT"
	case Done:
		return "DONE"
	case OpContinue:
		return "CONTINUE"
	default:
		return "UNKNOWN"
	}
}

// GatherMask names which of the three buffers a Flush op's gather
// write should include, the "3-bit mask" spec.md §4.2 describes.
type GatherMask uint8

const (
	MaskHeader GatherMask = 1 << iota
	MaskChunk
	MaskContent
)

// ErrGeneratorMisuse is the invariant-violation error behind NEED_INFO:
// Next was called before SetResponse supplied a response to emit.
var ErrGeneratorMisuse = errors.New("wire: Next called before SetResponse")

// ResponseMeta is the status line and header set a Generator renders.
// ContentLength of -1 selects chunked transfer encoding.
type ResponseMeta struct {
	Status        int
	Version       ProtoVersion
	Headers       *Fields
	Persistent    bool
	ContentLength int64
}

type genState uint8

const (
	gsAwaitingInfo genState = iota
	gsHeader
	gsBody
	gsBodyFinal
	gsChunkSize
	gsChunkTrailer
	gsFinished
)

// ErrResponseHeaderTooLarge is returned by SetResponse when the
// rendered status-line-plus-headers block exceeds the Generator's
// configured maxHeaderSize (httpconfig.Config.ResponseHeaderSize) — a
// handler that builds an oversized header set fails the response
// rather than silently writing past the documented bound.
var ErrResponseHeaderTooLarge = errors.New("wire: response header block exceeds configured size")

// Generator is the response write-path state machine described in
// spec.md §4.2: the caller drives it by calling Next in a loop,
// servicing each NEED_* op by acquiring the named buffer and each
// FLUSH op by gather-writing the buffers GatherBuffers names, until
// Next returns DONE.
//
// One Generator is reused per connection; Reset between responses.
type Generator struct {
	meta   *ResponseMeta
	isHead bool
	state  genState

	maxHeaderSize int

	headerBuf []byte
	chunkLine [18]byte // up to 16 hex digits + CRLF
	chunkLen  int

	content     []byte
	contentLast bool

	remaining int64 // bytes left to flush for a Content-Length body
}

// NewGenerator creates a Generator with no response set and no cap on
// the rendered header block's size.
func NewGenerator() *Generator {
	return NewGeneratorSize(0)
}

// NewGeneratorSize creates a Generator whose rendered header block is
// capped at maxHeaderSize bytes (httpconfig.Config's
// ResponseHeaderSize); maxHeaderSize <= 0 leaves it unbounded.
func NewGeneratorSize(maxHeaderSize int) *Generator {
	return &Generator{state: gsAwaitingInfo, maxHeaderSize: maxHeaderSize}
}

// Reset prepares the generator to render the next response.
func (g *Generator) Reset() {
	g.meta = nil
	g.isHead = false
	g.state = gsAwaitingInfo
	g.headerBuf = nil
	g.content = nil
	g.contentLast = false
	g.remaining = 0
}

// SetResponse supplies the response to render and pre-renders its
// header block. isHead suppresses the body per RFC 7231 §4.3.2. It
// returns ErrResponseHeaderTooLarge if the rendered block exceeds
// maxHeaderSize (the Generator still records meta/isHead so a caller
// that chooses to proceed anyway, or that retries with a trimmed
// response, has consistent state to build on).
func (g *Generator) SetResponse(meta ResponseMeta, isHead bool) error {
	m := meta
	g.meta = &m
	g.isHead = isHead
	g.headerBuf = renderHeaderBlock(m)
	g.remaining = meta.ContentLength
	if g.maxHeaderSize > 0 && len(g.headerBuf) > g.maxHeaderSize {
		return ErrResponseHeaderTooLarge
	}
	return nil
}

// WriteContent hands the generator the next body buffer to flush.
// last marks the final buffer of the response body (a zero-length
// buffer with last=true signals "no further body").
func (g *Generator) WriteContent(buf []byte, last bool) {
	g.content = buf
	g.contentLast = last
}

// Persistent reports whether the connection stays open for another
// request once this response completes.
func (g *Generator) Persistent() bool {
	return g.meta != nil && g.meta.Persistent
}

// IsChunked reports whether this response uses chunked framing.
func (g *Generator) IsChunked() bool {
	return g.meta != nil && g.meta.ContentLength < 0
}

// HeaderBuffer returns the rendered status-line-plus-headers block.
func (g *Generator) HeaderBuffer() []byte { return g.headerBuf }

// ChunkBuffer returns the rendered chunk-size line (NeedChunk) or the
// trailer CRLF (NeedChunkTrailer), whichever op was last returned.
func (g *Generator) ChunkBuffer() []byte { return g.chunkLine[:g.chunkLen] }

// ContentBuffer returns the body bytes queued by the most recent
// WriteContent call.
func (g *Generator) ContentBuffer() []byte { return g.content }

// ClearContent drops the driver's reference to the just-flushed content
// buffer once its bytes have been written to the wire, so a later call
// to Next without an intervening WriteContent can't re-flush the same
// bytes. Callers must call this after consuming a Flush/NeedChunk/
// NeedChunkTrailer op whose mask included MaskContent.
func (g *Generator) ClearContent() {
	g.content = nil
}

// ContentLast reports whether the most recent WriteContent call marked
// its buffer as the final segment of the body, independent of whether
// that buffer has since been flushed and cleared via ClearContent.
// Callers use this to tell "no more content expected, keep driving
// Next until DONE/SHUTDOWN_OUT" apart from "genuinely waiting on the
// next WriteContent call".
func (g *Generator) ContentLast() bool { return g.contentLast }

// AwaitingContent reports whether the next call to Next needs a fresh
// WriteContent first: the driver's pump loop stops here and returns
// control to the caller rather than spinning, since calling Next again
// without new content would either hang (gsBody with no content and
// not yet last) or misbehave (gsChunkSize rendering a zero-length
// chunk prematurely).
func (g *Generator) AwaitingContent() bool {
	return g.state == gsBody || g.state == gsChunkSize
}

// Next advances the write-path state machine by one step.
func (g *Generator) Next() (Op, GatherMask, error) {
	switch g.state {
	case gsAwaitingInfo:
		if g.meta == nil {
			return NeedInfo, 0, ErrGeneratorMisuse
		}
		g.state = gsHeader
		return NeedHeader, 0, nil

	case gsHeader:
		if g.IsChunked() && !g.isHead {
			g.state = gsChunkSize
		} else {
			g.state = gsBody
		}
		mask := MaskHeader
		if !g.isHead && !g.IsChunked() && len(g.content) > 0 {
			mask |= MaskContent
			g.remaining -= int64(len(g.content))
			// Consumed as part of the header flush; clear it so gsBody
			// doesn't see stale content and double-count it.
			g.content = nil
		}
		return Flush, mask, nil

	case gsBody:
		if g.isHead {
			g.state = gsFinished
			return g.finish()
		}
		if len(g.content) > 0 {
			g.remaining -= int64(len(g.content))
			if g.remaining <= 0 || g.contentLast {
				// Flush this final segment first; a bare contentLast
				// check before flushing would silently drop the last
				// buffer whenever a handler writes its whole body and
				// completes in one call (the common case).
				g.state = gsBodyFinal
			}
			return Flush, MaskContent, nil
		}
		if g.contentLast || g.remaining <= 0 {
			g.state = gsFinished
			return g.finish()
		}
		return OpContinue, 0, nil

	case gsBodyFinal:
		g.state = gsFinished
		return g.finish()

	case gsChunkSize:
		g.renderChunkSize(len(g.content))
		g.state = gsChunkTrailer
		mask := MaskChunk
		if len(g.content) > 0 {
			mask |= MaskContent
		}
		return NeedChunk, mask, nil

	case gsChunkTrailer:
		g.renderCRLF()
		if g.contentLast {
			g.state = gsFinished
		} else {
			g.state = gsChunkSize
		}
		return NeedChunkTrailer, MaskChunk, nil

	case gsFinished:
		return Done, 0, nil
	}
	return NeedInfo, 0, ErrGeneratorMisuse
}

// finish reports DONE or SHUTDOWN_OUT depending on persistence; it
// queues no bytes of its own.
func (g *Generator) finish() (Op, GatherMask, error) {
	if !g.Persistent() {
		return ShutdownOut, 0, nil
	}
	return Done, 0, nil
}

func (g *Generator) renderChunkSize(n int) {
	line := appendChunkSizeHex(g.chunkLine[:0], n)
	g.chunkLen = len(line)
}

func (g *Generator) renderCRLF() {
	g.chunkLine[0], g.chunkLine[1] = '\r', '\n'
	g.chunkLen = 2
}

func appendChunkSizeHex(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0', '\r', '\n')
	}
	const hexDigits = "0123456789abcdef"
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = hexDigits[n&0xf]
		n >>= 4
	}
	dst = append(dst, tmp[i:]...)
	return append(dst, '\r', '\n')
}

// renderHeaderBlock writes "HTTP/1.1 NNN Reason\r\n" followed by every
// header field and the blank line ending the header section.
func renderHeaderBlock(meta ResponseMeta) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, StatusLineFor(meta.Status, meta.Version)...)
	if meta.Headers != nil {
		meta.Headers.VisitAll(func(name, value []byte) bool {
			buf = append(buf, name...)
			buf = append(buf, colonSpace...)
			buf = append(buf, value...)
			buf = append(buf, crlf...)
			return true
		})
	}
	buf = append(buf, crlf...)
	return buf
}
