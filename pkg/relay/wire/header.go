package wire

// Field is a single parsed header field, handed to the parsedHeader
// callback. Name and Value reference the connection's read buffer and
// are only valid until the next Parser call — callers that need to
// keep them past that point must copy.
type Field struct {
	Name  []byte
	Value []byte
}

// Fields is an ordered, append-only collection of header fields for
// one message. Lookups are linear, matching the teacher's header.go
// rationale: for the handful of fields a typical request carries,
// linear scan beats a map on both allocation count and cache behavior.
type Fields struct {
	items []Field
}

func (f *Fields) add(name, value []byte) {
	f.items = append(f.items, Field{Name: name, Value: value})
}

// Add appends a field for outbound rendering (response headers,
// synthesized trailers). Like the parser's internal add, this copies
// nothing — callers pass bytes they own for the life of the response.
func (f *Fields) Add(name, value []byte) {
	f.items = append(f.items, Field{Name: name, Value: value})
}

// Set removes any existing fields matching name and appends one with
// value, used by response construction where a header must appear at
// most once (Content-Length, Connection, Date).
func (f *Fields) Set(name string, value []byte) {
	kept := f.items[:0]
	for _, it := range f.items {
		if !equalFold(it.Name, name) {
			kept = append(kept, it)
		}
	}
	f.items = append(kept, Field{Name: []byte(name), Value: value})
}

// Get returns the first value matching name (case-insensitive), or
// nil if absent.
func (f *Fields) Get(name string) []byte {
	for _, it := range f.items {
		if equalFold(it.Name, name) {
			return it.Value
		}
	}
	return nil
}

// GetString is Get plus a string conversion for callers that don't
// need to avoid the allocation.
func (f *Fields) GetString(name string) string {
	v := f.Get(name)
	if v == nil {
		return ""
	}
	return string(v)
}

// Has reports whether any field matches name.
func (f *Fields) Has(name string) bool {
	for _, it := range f.items {
		if equalFold(it.Name, name) {
			return true
		}
	}
	return false
}

// Count returns how many fields matched name; used to detect
// duplicate Host headers per RFC 7230 §5.4.
func (f *Fields) Count(name string) int {
	n := 0
	for _, it := range f.items {
		if equalFold(it.Name, name) {
			n++
		}
	}
	return n
}

// VisitAll calls visit for every field in arrival order, stopping
// early if visit returns false.
func (f *Fields) VisitAll(visit func(name, value []byte) bool) {
	for _, it := range f.items {
		if !visit(it.Name, it.Value) {
			return
		}
	}
}

// Len returns the number of fields.
func (f *Fields) Len() int { return len(f.items) }

// reset clears fields for reuse without releasing the backing array.
func (f *Fields) reset() {
	f.items = f.items[:0]
}

func equalFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if toLower(b[i]) != toLower(s[i]) {
			return false
		}
	}
	return true
}

func bytesEqualFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + 32
	}
	return b
}
