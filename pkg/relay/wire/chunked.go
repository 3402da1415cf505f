package wire

import "bytes"

// feedChunked advances the chunked-body sub-state-machine
// (stateChunkSize → stateChunkData → stateChunkCRLF, repeating, then
// stateTrailers → stateDone), per RFC 7230 §4.1. Unlike the
// teacher's ChunkedReader (which wraps a bufio.Reader a consumer
// pulls from), this pushes bytes in as they arrive off the endpoint,
// since the Parser never owns a reader of its own.
func (p *Parser) feedChunked(data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		switch p.state {
		case stateChunkSize:
			n, size, ok, err := scanChunkSizeLine(data)
			total += n
			data = data[n:]
			if err != nil {
				return total, err
			}
			if !ok {
				return total, nil
			}
			p.chunkLeft = size
			if size == 0 {
				p.state = stateTrailers
			} else {
				p.state = stateChunkData
			}

		case stateChunkData:
			n := len(data)
			if uint64(n) > p.chunkLeft {
				n = int(p.chunkLeft)
			}
			if n > 0 {
				p.cb.Content(data[:n])
				p.chunkLeft -= uint64(n)
				total += n
				data = data[n:]
			}
			if p.chunkLeft == 0 {
				p.state = stateChunkCRLF
			}
			if n == 0 {
				return total, nil
			}

		case stateChunkCRLF:
			if len(data) < 2 {
				return total, nil
			}
			if data[0] != '\r' || data[1] != '\n' {
				return total, errChunkedEncoding
			}
			total += 2
			data = data[2:]
			p.state = stateChunkSize

		case stateTrailers:
			n, done, err := p.scanTrailers(data)
			total += n
			data = data[n:]
			if err != nil {
				return total, err
			}
			if !done {
				return total, nil
			}
			p.cb.ContentComplete()
			p.cb.MessageComplete()
			p.state = stateDone
			return total, nil

		default:
			return total, nil
		}
	}
	return total, nil
}

// scanChunkSizeLine parses one "hex-size [;ext] CRLF" line. Chunk
// extensions are recognized only to be discarded — RFC 7230 §4.1.1
// permits ignoring them, and ignoring rather than interpreting them
// closes off a smuggling vector the same way the teacher's
// ChunkedReader does.
func scanChunkSizeLine(data []byte) (n int, size uint64, ok bool, err error) {
	idx := bytes.Index(data, crlf)
	if idx == -1 {
		if len(data) > 64 {
			return 0, 0, false, errChunkedEncoding
		}
		return 0, 0, false, nil
	}
	line := data[:idx]
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, 0, false, errChunkedEncoding
	}
	var chunkSize uint64
	for _, b := range line {
		chunkSize <<= 4
		switch {
		case b >= '0' && b <= '9':
			chunkSize |= uint64(b - '0')
		case b >= 'a' && b <= 'f':
			chunkSize |= uint64(b-'a') + 10
		case b >= 'A' && b <= 'F':
			chunkSize |= uint64(b-'A') + 10
		default:
			return 0, 0, false, errChunkedEncoding
		}
	}
	return idx + 2, chunkSize, true, nil
}

// scanTrailers parses zero or more trailer field lines, terminated by
// a blank line, invoking ParsedTrailer for each.
func (p *Parser) scanTrailers(data []byte) (n int, done bool, err error) {
	for {
		idx := bytes.Index(data[n:], crlf)
		if idx == -1 {
			return n, false, nil
		}
		line := data[n : n+idx]
		if len(line) == 0 {
			return n + idx + 2, true, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return n, false, errChunkedEncoding
		}
		name := line[:colon]
		value := trimOWS(line[colon+1:])
		p.cb.ParsedTrailer(name, value)
		n += idx + 2
	}
}
