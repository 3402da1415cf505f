package wire

import "bytes"

// Callbacks is the set of hooks the Parser drives while it consumes a
// request off the wire. httpchannel.Channel implements this interface;
// the parser itself never decides persistence, dispatch delay, or
// response status — it only reports what it saw.
type Callbacks interface {
	// StartRequest fires once the request line is fully parsed.
	StartRequest(method uint8, uri []byte, version ProtoVersion)

	// ParsedHeader fires once per header field, in arrival order.
	ParsedHeader(name, value []byte)

	// HeaderComplete fires after the blank line ending the header
	// section. Returning an error aborts parsing as BadMessage.
	HeaderComplete() error

	// Content fires zero or more times with body bytes as they become
	// available (already de-chunked if Transfer-Encoding: chunked).
	Content(buf []byte)

	// ContentComplete fires once the declared body length has been
	// delivered (immediately, for a zero-length body).
	ContentComplete()

	// MessageComplete fires once the whole message, including any
	// trailer, has been consumed.
	MessageComplete()

	// ParsedTrailer fires once per trailer field on a chunked body.
	ParsedTrailer(name, value []byte)

	// EarlyEOF fires when the peer closes before a complete message
	// arrived; no response can be produced in reply.
	EarlyEOF()

	// BadMessage fires when the bytes on the wire violate the
	// protocol, with a *ParseError. An error returned by HeaderComplete
	// is passed to BadMessage unchanged, whatever its type.
	BadMessage(err error)

	// Continue100 fires once, right after HeaderComplete, when the
	// request carries "Expect: 100-continue". This Parser always
	// passes available=false; it does not check whether body bytes are
	// already sitting in the read buffer.
	Continue100(available bool)
}

// parseState names where the incremental parser is within one
// message; Feed re-enters at this point on every call so a Connector
// can feed it chunks as they arrive off the endpoint instead of
// requiring the whole message to be buffered up front.
type parseState uint8

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateTrailers
	stateDone
)

// Parser incrementally parses an HTTP/1.x request, invoking Callbacks
// as it recognizes each piece. One Parser is reused across every
// request on a connection (Reset between messages), following the
// teacher's pooled-parser shape but adapted to a push rather than
// pull model: the caller supplies bytes via Feed instead of the
// parser pulling from an io.Reader itself, since httpconn.Connection
// owns the single read loop and deadline.
type Parser struct {
	cb Callbacks

	maxRequestLineSize int
	maxHeadersSize     int

	state parseState
	buf   []byte // accumulated request-line + header bytes for this message

	method  uint8
	uri     []byte
	version ProtoVersion

	hasContentLength bool
	hasTransferEnc   bool
	contentLength    int64
	chunked          bool
	hasHost          bool
	hasExpect100     bool

	remaining int64 // bytes left to read for Content-Length body
	chunkLeft uint64

	headerCount int
}

// NewParser creates a Parser bound to cb, using the package's default
// request-line and header-section size limits.
func NewParser(cb Callbacks) *Parser {
	return NewParserSize(cb, 0)
}

// NewParserSize creates a Parser bound to cb whose request-line and
// header-section are each capped at maxHeaderBytes (httpconfig.Config's
// RequestHeaderSize), replacing the package defaults (MaxRequestLineSize,
// MaxHeadersSize). maxHeaderBytes <= 0 keeps the defaults, so a caller
// that doesn't care can still just use NewParser.
func NewParserSize(cb Callbacks, maxHeaderBytes int) *Parser {
	lineLimit, headersLimit := MaxRequestLineSize, MaxHeadersSize
	if maxHeaderBytes > 0 {
		lineLimit, headersLimit = maxHeaderBytes, maxHeaderBytes
	}
	return &Parser{
		cb:                 cb,
		maxRequestLineSize: lineLimit,
		maxHeadersSize:     headersLimit,
		buf:                make([]byte, 0, lineLimit+headersLimit),
	}
}

// Reset prepares the parser for the next request on the same
// connection (HTTP pipelining / keep-alive reuse).
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.buf = p.buf[:0]
	p.method = MethodUnknown
	p.uri = nil
	p.version = ProtoVersion{}
	p.hasContentLength = false
	p.hasTransferEnc = false
	p.contentLength = 0
	p.chunked = false
	p.hasHost = false
	p.hasExpect100 = false
	p.remaining = 0
	p.chunkLeft = 0
	p.headerCount = 0
}

// HandleEOF reports that the endpoint's input has been shut down.
// If a message was in progress, this fires EarlyEOF; if the parser
// was idle between messages (the common keep-alive case), it is a
// no-op — the connection is simply done.
func (p *Parser) HandleEOF() {
	if p.state == stateDone {
		return
	}
	if p.state == stateRequestLine && len(p.buf) == 0 {
		return
	}
	p.cb.EarlyEOF()
}

// Feed hands the parser the next slice of bytes read off the
// endpoint. It returns the number of bytes consumed; bytes beyond
// that (if any) belong to the next pipelined message and must be
// re-fed after Reset. Feed invokes zero or more Callbacks methods
// before returning.
func (p *Parser) Feed(data []byte) (consumed int, err error) {
	for len(data) > 0 {
		switch p.state {
		case stateRequestLine, stateHeaders:
			n, advance, done, ferr := p.feedHeaderBytes(data)
			consumed += advance
			data = data[advance:]
			if ferr != nil {
				p.cb.BadMessage(ferr)
				return consumed, ferr
			}
			_ = n
			if !done {
				return consumed, nil
			}
		case stateBody:
			n := p.feedContentLengthBody(data)
			consumed += n
			data = data[n:]
			if p.remaining == 0 {
				p.cb.ContentComplete()
				p.cb.MessageComplete()
				p.state = stateDone
				return consumed, nil
			}
			if n == 0 {
				return consumed, nil
			}
		case stateChunkSize, stateChunkData, stateChunkCRLF, stateTrailers:
			n, ferr := p.feedChunked(data)
			consumed += n
			data = data[n:]
			if ferr != nil {
				p.cb.BadMessage(ferr)
				return consumed, ferr
			}
			if p.state == stateDone {
				return consumed, nil
			}
			if n == 0 {
				return consumed, nil
			}
		case stateDone:
			return consumed, nil
		}
	}
	return consumed, nil
}

// feedHeaderBytes accumulates bytes into p.buf until the blank line
// ending the header section is seen, then parses the request line and
// all headers at once (the request line + headers are small and
// bounded, so there is no benefit to a byte-at-a-time state machine
// here the way there is for the body).
func (p *Parser) feedHeaderBytes(data []byte) (n, advance int, done bool, err error) {
	need := len(data)
	remainingCapacity := (p.maxRequestLineSize + p.maxHeadersSize) - len(p.buf)
	if need > remainingCapacity {
		need = remainingCapacity
	}
	searchFrom := len(p.buf) - 3
	if searchFrom < 0 {
		searchFrom = 0
	}
	p.buf = append(p.buf, data[:need]...)
	advance = need

	idx := bytes.Index(p.buf[searchFrom:], []byte("\r\n\r\n"))
	if idx == -1 {
		if len(p.buf) >= p.maxRequestLineSize+p.maxHeadersSize {
			return 0, advance, false, errHeadersTooLarge
		}
		return 0, advance, false, nil
	}
	headerEnd := searchFrom + idx + 4
	extra := len(p.buf) - headerEnd
	if extra > 0 {
		advance -= extra
		p.buf = p.buf[:headerEnd]
	}

	pos, rerr := p.parseRequestLine(p.buf)
	if rerr != nil {
		return 0, advance, false, rerr
	}

	if p.version == HTTP20 {
		// Only the exact prior-knowledge preface — PRI method, "*"
		// target, and no header fields at all — is accepted; anything
		// else claiming HTTP/2.0 is refused with 426 rather than parsed
		// as a nonsensical HTTP/1.x request.
		if p.method != MethodPRI || headerEnd-pos != 2 {
			return 0, advance, false, errHTTP2UpgradeRequired
		}
		p.cb.StartRequest(p.method, p.uri, p.version)
		if herr := p.cb.HeaderComplete(); herr != nil {
			return 0, advance, false, herr
		}
		p.cb.ContentComplete()
		p.cb.MessageComplete()
		p.state = stateDone
		return 0, advance, true, nil
	}

	p.cb.StartRequest(p.method, p.uri, p.version)

	if herr := p.parseHeaderFields(p.buf[pos:]); herr != nil {
		return 0, advance, false, herr
	}
	if err := p.cb.HeaderComplete(); err != nil {
		return 0, advance, false, err
	}
	if p.hasExpect100 {
		p.cb.Continue100(false)
	}

	switch {
	case p.chunked:
		p.state = stateChunkSize
	case p.contentLength > 0:
		p.remaining = p.contentLength
		p.state = stateBody
	default:
		p.cb.ContentComplete()
		p.cb.MessageComplete()
		p.state = stateDone
	}
	return 0, advance, true, nil
}

func (p *Parser) parseRequestLine(buf []byte) (int, error) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd == -1 {
		return 0, errInvalidRequestLine
	}
	line := buf[:lineEnd]
	if len(line) > p.maxRequestLineSize {
		return 0, errRequestLineTooLarge
	}

	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return 0, errInvalidRequestLine
	}
	methodBytes := line[:sp]
	p.method = parseMethodID(methodBytes)
	if p.method == MethodUnknown {
		return 0, errInvalidMethod
	}
	line = line[sp+1:]

	sp = bytes.IndexByte(line, ' ')
	if sp == -1 {
		return 0, errInvalidRequestLine
	}
	uri := line[:sp]
	if len(uri) > MaxURILength {
		return 0, errURITooLong
	}
	if len(uri) == 0 {
		return 0, errInvalidPath
	}
	// "*" is valid for OPTIONS and for PRI's HTTP/2 direct-preface
	// target; CONNECT's authority-form is accepted as-is (no leading
	// '/').
	if uri[0] != '/' && !(uri[0] == '*' && (p.method == MethodOPTIONS || p.method == MethodPRI)) && p.method != MethodCONNECT {
		return 0, errInvalidPath
	}
	p.uri = uri

	protoBytes := line[sp+1:]
	switch {
	case bytes.Equal(protoBytes, http11Bytes):
		p.version = HTTP11
	case bytes.Equal(protoBytes, http10Bytes):
		p.version = HTTP10
	case bytes.Equal(protoBytes, http20Bytes):
		p.version = HTTP20
	default:
		return 0, errInvalidProtocol
	}

	return lineEnd + 2, nil
}

func (p *Parser) parseHeaderFields(buf []byte) error {
	pos := 0
	for pos < len(buf) {
		if buf[pos] == '\r' {
			break
		}
		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		if lineEnd == -1 {
			return errInvalidHeader
		}
		lineEnd += pos
		line := buf[pos:lineEnd]

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return errInvalidHeader
		}
		name := line[:colon]
		if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
			return errInvalidHeader
		}
		value := trimOWS(line[colon+1:])

		p.headerCount++
		if p.headerCount > MaxHeaders {
			return errTooManyHeaders
		}
		if len(name) > MaxHeaderNameLen || len(value) > MaxHeaderValueLen {
			return errHeaderTooLarge
		}

		if err := p.classifyHeader(name, value); err != nil {
			return err
		}
		p.cb.ParsedHeader(name, value)

		pos = lineEnd + 2
	}

	if p.hasContentLength && p.hasTransferEnc {
		return errSmuggling
	}
	if p.version == HTTP11 && !p.hasHost {
		return errMissingHost
	}
	return nil
}

func (p *Parser) classifyHeader(name, value []byte) error {
	switch {
	case bytesEqualFold(name, headerHost):
		if p.hasHost {
			return errDuplicateHost
		}
		p.hasHost = true

	case bytesEqualFold(name, headerContentLength):
		n, perr := parseDecimal(value)
		if perr != nil {
			return errInvalidContentLen
		}
		if p.hasContentLength && n != p.contentLength {
			return errDuplicateCL
		}
		p.hasContentLength = true
		p.contentLength = n

	case bytesEqualFold(name, headerTransferEncoding):
		p.hasTransferEnc = true
		if bytesEqualFold(trimOWS(value), headerChunked) {
			p.chunked = true
		}

	case bytesEqualFold(name, headerExpect):
		if p.version != HTTP11 {
			break
		}
		switch {
		case bytesEqualFold(value, expect100Continue):
			p.hasExpect100 = true
		case bytesEqualFold(value, expect102Processing):
			// 102-processing is acknowledged but never emitted by
			// this codec; treated like an accepted expectation so it
			// does not trip the unknown-expectation path.
		default:
			return badMessage(417, "unknown expectation")
		}

	case bytesEqualFold(name, headerConnection):
		// Persistence decision is the Channel's job (spec.md §4.3's
		// table depends on method+version too); the parser only
		// reports the field via ParsedHeader.
	}
	return nil
}

func (p *Parser) feedContentLengthBody(data []byte) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	if n > 0 {
		p.cb.Content(data[:n])
		p.remaining -= int64(n)
	}
	return n
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

func parseDecimal(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errInvalidContentLen
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errInvalidContentLen
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0, errInvalidContentLen
		}
	}
	return n, nil
}
