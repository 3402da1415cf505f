package wire

import (
	"bytes"
	"testing"
)

type recordingCallbacks struct {
	method       uint8
	uri          []byte
	version      ProtoVersion
	headers      [][2]string
	headerDone   bool
	content      [][]byte
	contentDone  bool
	msgDone      bool
	trailers     [][2]string
	earlyEOF     bool
	badMessage   error
	continue100  bool
	continueCall bool
}

func (r *recordingCallbacks) StartRequest(method uint8, uri []byte, version ProtoVersion) {
	r.method = method
	r.uri = append([]byte(nil), uri...)
	r.version = version
}
func (r *recordingCallbacks) ParsedHeader(name, value []byte) {
	r.headers = append(r.headers, [2]string{string(name), string(value)})
}
func (r *recordingCallbacks) HeaderComplete() error { r.headerDone = true; return nil }
func (r *recordingCallbacks) Content(buf []byte) {
	r.content = append(r.content, append([]byte(nil), buf...))
}
func (r *recordingCallbacks) ContentComplete() { r.contentDone = true }
func (r *recordingCallbacks) MessageComplete() { r.msgDone = true }
func (r *recordingCallbacks) ParsedTrailer(name, value []byte) {
	r.trailers = append(r.trailers, [2]string{string(name), string(value)})
}
func (r *recordingCallbacks) EarlyEOF()          { r.earlyEOF = true }
func (r *recordingCallbacks) BadMessage(e error)  { r.badMessage = e }
func (r *recordingCallbacks) Continue100(a bool) { r.continueCall = true; r.continue100 = a }

func TestParseSimpleGET(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n"
	n, err := p.Feed([]byte(req))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(req) {
		t.Fatalf("consumed %d, want %d", n, len(req))
	}
	if cb.method != MethodGET {
		t.Fatalf("method = %d, want GET", cb.method)
	}
	if string(cb.uri) != "/index.html" {
		t.Fatalf("uri = %q", cb.uri)
	}
	if !cb.headerDone || !cb.contentDone || !cb.msgDone {
		t.Fatalf("expected full completion, got %+v", cb)
	}
}

func TestParseContentLengthBody(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "POST /submit HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	_, err := p.Feed([]byte(req))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(cb.content) == 0 || !bytes.Equal(cb.content[0], []byte("hello")) {
		t.Fatalf("content = %v, want hello", cb.content)
	}
	if !cb.contentDone || !cb.msgDone {
		t.Fatalf("expected body completion")
	}
}

func TestParseChunkedBody(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "POST /up HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	_, err := p.Feed([]byte(req))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	var got []byte
	for _, c := range cb.content {
		got = append(got, c...)
	}
	if string(got) != "Wikipedia" {
		t.Fatalf("content = %q, want Wikipedia", got)
	}
	if !cb.msgDone {
		t.Fatalf("expected message complete")
	}
}

func TestParseRejectsSmuggling(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\nTransfer-Encoding: chunked\r\n\r\nabcd"
	_, err := p.Feed([]byte(req))
	if err == nil {
		t.Fatalf("expected smuggling rejection")
	}
	pe, ok := cb.badMessage.(*ParseError)
	if !ok || pe.Status != 400 {
		t.Fatalf("badMessage = %v, want 400 ParseError", cb.badMessage)
	}
}

func TestParseMissingHostHTTP11(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "GET / HTTP/1.1\r\n\r\n"
	_, err := p.Feed([]byte(req))
	if err == nil {
		t.Fatalf("expected missing-Host rejection")
	}
}

func TestParseExpect100Continue(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "POST /u HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\nExpect: 100-continue\r\n\r\nabc"
	_, err := p.Feed([]byte(req))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !cb.continueCall {
		t.Fatalf("expected Continue100 callback")
	}
}

func TestParseUnknownExpectationIs417(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	req := "GET / HTTP/1.1\r\nHost: x\r\nExpect: the-cheese\r\n\r\n"
	_, err := p.Feed([]byte(req))
	if err == nil {
		t.Fatalf("expected rejection")
	}
	pe, ok := err.(*ParseError)
	if !ok || pe.Status != 417 {
		t.Fatalf("err = %v, want 417 ParseError", err)
	}
}

func TestParserResetAllowsPipelining(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	first := "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	second := "GET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	combined := first + second

	n, err := p.Feed([]byte(combined))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != len(first) {
		t.Fatalf("consumed %d, want %d (only first message)", n, len(first))
	}
	if string(cb.uri) != "/a" {
		t.Fatalf("uri = %q, want /a", cb.uri)
	}

	p.Reset()
	n2, err := p.Feed([]byte(combined[n:]))
	if err != nil {
		t.Fatalf("feed second: %v", err)
	}
	if string(cb.uri) != "/b" {
		t.Fatalf("uri = %q, want /b", cb.uri)
	}
	_ = n2
}

func TestHandleEOFMidRequestFiresEarlyEOF(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	p.Feed([]byte("GET /a HTTP/1.1\r\nHost: x\r\n"))
	p.HandleEOF()
	if !cb.earlyEOF {
		t.Fatalf("expected EarlyEOF after partial headers")
	}
}

func TestHandleEOFBetweenMessagesIsNoop(t *testing.T) {
	cb := &recordingCallbacks{}
	p := NewParser(cb)
	p.HandleEOF()
	if cb.earlyEOF {
		t.Fatalf("unexpected EarlyEOF on idle parser")
	}
}

func TestGeneratorIdentityBody(t *testing.T) {
	g := NewGenerator()
	headers := &Fields{}
	g.SetResponse(ResponseMeta{
		Status:        200,
		Version:       HTTP11,
		Headers:       headers,
		Persistent:    true,
		ContentLength: 5,
	}, false)

	op, _, err := g.Next()
	if err != nil || op != NeedHeader {
		t.Fatalf("op = %v err = %v, want NeedHeader", op, err)
	}
	if !bytes.Contains(g.HeaderBuffer(), []byte("200 OK")) {
		t.Fatalf("header buffer = %q", g.HeaderBuffer())
	}

	g.WriteContent([]byte("hello"), true)
	op, mask, err := g.Next()
	if err != nil || op != Flush {
		t.Fatalf("op = %v err = %v, want Flush", op, err)
	}
	if mask&MaskHeader == 0 || mask&MaskContent == 0 {
		t.Fatalf("mask = %b, want header+content", mask)
	}

	op, _, err = g.Next()
	if err != nil || op != Done {
		t.Fatalf("op = %v err = %v, want Done", op, err)
	}
}

func TestGeneratorNonPersistentShutsDownOutput(t *testing.T) {
	g := NewGenerator()
	g.SetResponse(ResponseMeta{
		Status:        200,
		Version:       HTTP10,
		Persistent:    false,
		ContentLength: 0,
	}, false)
	g.Next() // NeedHeader
	g.WriteContent(nil, true)
	g.Next() // Flush (header only)
	op, _, err := g.Next()
	if err != nil || op != ShutdownOut {
		t.Fatalf("op = %v err = %v, want ShutdownOut", op, err)
	}
}

func TestGeneratorChunkedBody(t *testing.T) {
	g := NewGenerator()
	g.SetResponse(ResponseMeta{
		Status:        200,
		Version:       HTTP11,
		Persistent:    true,
		ContentLength: -1,
	}, false)

	op, _, _ := g.Next() // NeedHeader
	if op != NeedHeader {
		t.Fatalf("op = %v, want NeedHeader", op)
	}
	g.WriteContent([]byte("abc"), false)
	op, mask, _ := g.Next() // Flush (header + chunk-size entry point)
	if op != Flush {
		t.Fatalf("op = %v, want Flush", op)
	}
	_ = mask

	op, _, _ = g.Next() // NeedChunk
	if op != NeedChunk {
		t.Fatalf("op = %v, want NeedChunk", op)
	}
	if !bytes.HasPrefix(g.ChunkBuffer(), []byte("3\r\n")) {
		t.Fatalf("chunk line = %q, want 3-byte size", g.ChunkBuffer())
	}

	op, _, _ = g.Next() // NeedChunkTrailer
	if op != NeedChunkTrailer {
		t.Fatalf("op = %v, want NeedChunkTrailer", op)
	}

	g.WriteContent(nil, true)
	op, _, _ = g.Next() // NeedChunk (final, size 0)
	if op != NeedChunk {
		t.Fatalf("op = %v, want NeedChunk (final)", op)
	}
	if !bytes.HasPrefix(g.ChunkBuffer(), []byte("0\r\n")) {
		t.Fatalf("final chunk line = %q, want 0-size", g.ChunkBuffer())
	}
}

func TestGeneratorMisuseBeforeSetResponse(t *testing.T) {
	g := NewGenerator()
	op, _, err := g.Next()
	if err != ErrGeneratorMisuse || op != NeedInfo {
		t.Fatalf("op = %v err = %v, want NeedInfo/ErrGeneratorMisuse", op, err)
	}
}
