// Package wire implements the HTTP/1.x wire codec: an incremental
// request parser driven by callbacks, and a response generator
// expressed as a small state machine, per RFC 7230/7231.
package wire

// Method IDs for O(1) dispatch, avoiding string comparisons on the hot
// path. Numeric rather than an exported string type so switches over
// MethodID compile to a jump table.
const (
	MethodUnknown uint8 = iota
	MethodGET
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodPATCH
	MethodHEAD
	MethodOPTIONS
	MethodCONNECT
	MethodTRACE
	// MethodPRI is never a real request method; it exists only to
	// recognize the HTTP/2 prior-knowledge preface ("PRI * HTTP/2.0"),
	// RFC 7540 §3.4, so the parser can route it to connector.H2CFactory
	// (via an UpgradingFactory's direct-preface hand-off) instead of
	// rejecting it as an unrecognized HTTP/1.x method.
	MethodPRI
)

var (
	methodGETString     = "GET"
	methodPOSTString    = "POST"
	methodPUTString     = "PUT"
	methodDELETEString  = "DELETE"
	methodPATCHString   = "PATCH"
	methodHEADString    = "HEAD"
	methodOPTIONSString = "OPTIONS"
	methodCONNECTString = "CONNECT"
	methodTRACEString   = "TRACE"
	methodPRIString     = "PRI"
)

// ProtoVersion identifies HTTP/1.0 vs HTTP/1.1; HTTP/2.0 is recognized
// only long enough to detect the direct preface (see MethodPRI) and
// hand off to connector.H2CFactory or respond 426 — the codec itself
// never negotiates or frames HTTP/2.
type ProtoVersion struct {
	Major int
	Minor int
}

var (
	HTTP10 = ProtoVersion{1, 0}
	HTTP11 = ProtoVersion{1, 1}
	HTTP20 = ProtoVersion{2, 0}
)

func (v ProtoVersion) String() string {
	if v.Major == 2 {
		return "HTTP/2.0"
	}
	if v.Minor == 0 {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

var (
	http10Bytes = []byte("HTTP/1.0")
	http11Bytes = []byte("HTTP/1.1")
	http20Bytes = []byte("HTTP/2.0")
	crlf        = []byte("\r\n")
	colonSpace  = []byte(": ")
)

// Header name/size limits, per RFC 7230's recommended bounds and the
// teacher's own http11 constants.
const (
	MaxHeaders         = 100
	MaxHeaderNameLen   = 256
	MaxHeaderValueLen  = 8192
	MaxRequestLineSize = 8192
	MaxURILength       = 8192
	MaxHeadersSize     = 1 << 20
)

// headerContentLength and friends name the headers the parser gives
// special handling, per spec §4.2 step 2.
var (
	headerContentLength    = []byte("Content-Length")
	headerTransferEncoding = []byte("Transfer-Encoding")
	headerConnection       = []byte("Connection")
	headerHost             = []byte("Host")
	headerExpect           = []byte("Expect")
	headerUpgrade          = []byte("Upgrade")
	headerChunked          = []byte("chunked")
	headerClose            = []byte("close")
	headerKeepAlive        = []byte("keep-alive")
	expect100Continue      = []byte("100-continue")
	expect102Processing    = []byte("102-processing")
)

func parseMethodID(b []byte) uint8 {
	switch len(b) {
	case 3:
		if b[0] == 'G' && b[1] == 'E' && b[2] == 'T' {
			return MethodGET
		}
		if b[0] == 'P' && b[1] == 'U' && b[2] == 'T' {
			return MethodPUT
		}
		if b[0] == 'P' && b[1] == 'R' && b[2] == 'I' {
			return MethodPRI
		}
	case 4:
		if b[0] == 'P' && b[1] == 'O' && b[2] == 'S' && b[3] == 'T' {
			return MethodPOST
		}
		if b[0] == 'H' && b[1] == 'E' && b[2] == 'A' && b[3] == 'D' {
			return MethodHEAD
		}
	case 5:
		if b[0] == 'P' && b[1] == 'A' && b[2] == 'T' && b[3] == 'C' && b[4] == 'H' {
			return MethodPATCH
		}
		if b[0] == 'T' && b[1] == 'R' && b[2] == 'A' && b[3] == 'C' && b[4] == 'E' {
			return MethodTRACE
		}
	case 6:
		if b[0] == 'D' && b[1] == 'E' && b[2] == 'L' && b[3] == 'E' && b[4] == 'T' && b[5] == 'E' {
			return MethodDELETE
		}
	case 7:
		if b[0] == 'O' && b[1] == 'P' && b[2] == 'T' && b[3] == 'I' && b[4] == 'O' && b[5] == 'N' && b[6] == 'S' {
			return MethodOPTIONS
		}
		if b[0] == 'C' && b[1] == 'O' && b[2] == 'N' && b[3] == 'N' && b[4] == 'E' && b[5] == 'C' && b[6] == 'T' {
			return MethodCONNECT
		}
	}
	return MethodUnknown
}

// MethodString returns the canonical string for a method ID, or "" for
// MethodUnknown.
func MethodString(id uint8) string {
	switch id {
	case MethodGET:
		return methodGETString
	case MethodPOST:
		return methodPOSTString
	case MethodPUT:
		return methodPUTString
	case MethodDELETE:
		return methodDELETEString
	case MethodPATCH:
		return methodPATCHString
	case MethodHEAD:
		return methodHEADString
	case MethodOPTIONS:
		return methodOPTIONSString
	case MethodCONNECT:
		return methodCONNECTString
	case MethodTRACE:
		return methodTRACEString
	case MethodPRI:
		return methodPRIString
	default:
		return ""
	}
}
