package wire

import "strconv"

// statusLine holds a pre-rendered "HTTP/1.1 NNN Reason\r\n" for the
// status codes this codec emits most often, avoiding a strconv +
// concat on the hot path the way the teacher's constants.go does for
// http11.
var statusLines = map[int][]byte{
	100: []byte("HTTP/1.1 100 Continue\r\n"),
	101: []byte("HTTP/1.1 101 Switching Protocols\r\n"),
	102: []byte("HTTP/1.1 102 Processing\r\n"),
	200: []byte("HTTP/1.1 200 OK\r\n"),
	201: []byte("HTTP/1.1 201 Created\r\n"),
	202: []byte("HTTP/1.1 202 Accepted\r\n"),
	204: []byte("HTTP/1.1 204 No Content\r\n"),
	206: []byte("HTTP/1.1 206 Partial Content\r\n"),
	301: []byte("HTTP/1.1 301 Moved Permanently\r\n"),
	302: []byte("HTTP/1.1 302 Found\r\n"),
	304: []byte("HTTP/1.1 304 Not Modified\r\n"),
	307: []byte("HTTP/1.1 307 Temporary Redirect\r\n"),
	308: []byte("HTTP/1.1 308 Permanent Redirect\r\n"),
	400: []byte("HTTP/1.1 400 Bad Request\r\n"),
	401: []byte("HTTP/1.1 401 Unauthorized\r\n"),
	403: []byte("HTTP/1.1 403 Forbidden\r\n"),
	404: []byte("HTTP/1.1 404 Not Found\r\n"),
	405: []byte("HTTP/1.1 405 Method Not Allowed\r\n"),
	408: []byte("HTTP/1.1 408 Request Timeout\r\n"),
	411: []byte("HTTP/1.1 411 Length Required\r\n"),
	413: []byte("HTTP/1.1 413 Payload Too Large\r\n"),
	414: []byte("HTTP/1.1 414 URI Too Long\r\n"),
	417: []byte("HTTP/1.1 417 Expectation Failed\r\n"),
	431: []byte("HTTP/1.1 431 Request Header Fields Too Large\r\n"),
	500: []byte("HTTP/1.1 500 Internal Server Error\r\n"),
	501: []byte("HTTP/1.1 501 Not Implemented\r\n"),
	502: []byte("HTTP/1.1 502 Bad Gateway\r\n"),
	503: []byte("HTTP/1.1 503 Service Unavailable\r\n"),
	504: []byte("HTTP/1.1 504 Gateway Timeout\r\n"),
}

var reasonPhrases = map[int]string{
	100: "Continue", 101: "Switching Protocols", 102: "Processing",
	200: "OK", 201: "Created", 202: "Accepted", 203: "Non-Authoritative Information",
	204: "No Content", 205: "Reset Content", 206: "Partial Content",
	300: "Multiple Choices", 301: "Moved Permanently", 302: "Found",
	303: "See Other", 304: "Not Modified", 307: "Temporary Redirect", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 402: "Payment Required", 403: "Forbidden",
	404: "Not Found", 405: "Method Not Allowed", 406: "Not Acceptable",
	407: "Proxy Authentication Required", 408: "Request Timeout", 409: "Conflict",
	410: "Gone", 411: "Length Required", 412: "Precondition Failed", 413: "Payload Too Large",
	414: "URI Too Long", 415: "Unsupported Media Type", 417: "Expectation Failed",
	426: "Upgrade Required", 429: "Too Many Requests", 431: "Request Header Fields Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout", 505: "HTTP Version Not Supported",
}

// StatusLine renders "HTTP/1.1 NNN Reason\r\n" for code, using the
// pre-rendered table where possible. Callers that must render an
// HTTP/1.0 status line use StatusLineFor instead.
func StatusLine(code int) []byte {
	if line, ok := statusLines[code]; ok {
		return line
	}
	reason, ok := reasonPhrases[code]
	if !ok {
		reason = "Unknown"
	}
	return []byte("HTTP/1.1 " + strconv.Itoa(code) + " " + reason + "\r\n")
}

// StatusLineFor renders the status line for version, swapping the
// protocol token for HTTP/1.0 responses rather than always emitting
// the HTTP/1.1 prefix the pre-rendered table is keyed on.
func StatusLineFor(code int, version ProtoVersion) []byte {
	line := StatusLine(code)
	if version.Minor != 0 {
		return line
	}
	out := make([]byte, 0, len(line))
	out = append(out, http10Bytes...)
	out = append(out, line[len(http11Bytes):]...)
	return out
}
