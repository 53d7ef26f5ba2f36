package headers

import (
	"strings"
)

// Field is a single header name/value pair as received.
type Field struct {
	Name  string
	Value string
}

// Headers is a case-insensitive header map that remembers insertion order,
// so fields can be re-emitted the way they arrived.
type Headers struct {
	fields []Field
	index  map[string]int
}

func NewHeaders() *Headers {
	return &Headers{
		index: make(map[string]int),
	}
}

// Get returns the value for a header
func (h *Headers) Get(key string) (string, bool) {
	i, ok := h.index[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return h.fields[i].Value, true
}

// Value returns the value for a header, or "" when absent
func (h *Headers) Value(key string) string {
	v, _ := h.Get(key)
	return v
}

// Has reports whether the header is present
func (h *Headers) Has(key string) bool {
	_, ok := h.index[strings.ToLower(key)]
	return ok
}

// Fields returns the headers in insertion order. The slice must not be modified.
func (h *Headers) Fields() []Field {
	return h.fields
}

// Len returns the number of distinct headers
func (h *Headers) Len() int {
	return len(h.fields)
}

// Set replaces the value for a header, keeping its original position
func (h *Headers) Set(key, value string) {
	lk := strings.ToLower(key)
	if i, ok := h.index[lk]; ok {
		h.fields[i].Value = value
		return
	}
	h.index[lk] = len(h.fields)
	h.fields = append(h.fields, Field{Name: key, Value: value})
}

// Add appends a value to a header. Repeated headers are merged into one
// field with a comma separator, in arrival order.
func (h *Headers) Add(key, value string) {
	lk := strings.ToLower(key)
	if i, ok := h.index[lk]; ok {
		h.fields[i].Value += "," + value
		return
	}
	h.index[lk] = len(h.fields)
	h.fields = append(h.fields, Field{Name: key, Value: value})
}

// Del removes a header
func (h *Headers) Del(key string) {
	lk := strings.ToLower(key)
	i, ok := h.index[lk]
	if !ok {
		return
	}
	h.fields = append(h.fields[:i], h.fields[i+1:]...)
	delete(h.index, lk)
	for j := i; j < len(h.fields); j++ {
		h.index[strings.ToLower(h.fields[j].Name)] = j
	}
}

// Reset clears all headers, keeping the allocated storage
func (h *Headers) Reset() {
	h.fields = h.fields[:0]
	clear(h.index)
}

// HasToken reports whether the comma separated header value contains token,
// compared case-insensitively (e.g. "Connection: keep-alive, Upgrade").
func (h *Headers) HasToken(key, token string) bool {
	v, ok := h.Get(key)
	if !ok {
		return false
	}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, ';'); i != -1 {
			part = strings.TrimSpace(part[:i])
		}
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}

// IsTokenChar reports whether b may appear in a method or header name.
func IsTokenChar(b byte) bool {
	return (b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z') ||
		(b >= '0' && b <= '9') ||
		b == '!' || b == '#' || b == '$' || b == '%' || b == '&' ||
		b == '\'' || b == '*' || b == '+' || b == '-' || b == '.' ||
		b == '^' || b == '_' || b == '`' || b == '|' || b == '~'
}

// IsCtl reports whether b is an ASCII control character.
func IsCtl(b byte) bool {
	return b < 32 || b == 127
}
