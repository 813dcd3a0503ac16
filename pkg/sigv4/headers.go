package sigv4

import (
	"sort"
	"strings"
)

// Headers is an ordered list of "name:value" lines. Names are kept lower-case.
type Headers struct {
	list []string
}

// MakeHeader returns the canonical "name:value" line.
func MakeHeader(name, value string) string {
	return strings.ToLower(name) + ":" + value
}

// CanonicalHeader lower-cases the part of header before the first colon. A
// header without a colon is lower-cased whole.
func CanonicalHeader(header string) string {
	i := strings.IndexByte(header, ':')
	if i < 0 {
		return strings.ToLower(header)
	}
	return strings.ToLower(header[:i]) + header[i:]
}

func headerName(header string) string {
	if i := strings.IndexByte(header, ':'); i >= 0 {
		return header[:i]
	}
	return header
}

func headerValue(header string) string {
	if i := strings.IndexByte(header, ':'); i >= 0 {
		return header[i+1:]
	}
	return ""
}

// Add appends header, canonicalising its name.
func (h *Headers) Add(header string) {
	h.list = append(h.list, CanonicalHeader(header))
}

// Set replaces every header called name with a single name:value line, or
// appends one if none exists.
func (h *Headers) Set(name, value string) {
	line := MakeHeader(name, value)
	lname := headerName(line)
	out := h.list[:0]
	replaced := false
	for _, hdr := range h.list {
		if headerName(hdr) != lname {
			out = append(out, hdr)
			continue
		}
		if !replaced {
			out = append(out, line)
			replaced = true
		}
	}
	if !replaced {
		out = append(out, line)
	}
	h.list = out
}

// Del removes every header called name.
func (h *Headers) Del(name string) {
	lname := strings.ToLower(name)
	out := h.list[:0]
	for _, hdr := range h.list {
		if headerName(hdr) != lname {
			out = append(out, hdr)
		}
	}
	h.list = out
}

// Get returns the value of the first header called name.
func (h *Headers) Get(name string) (string, bool) {
	lname := strings.ToLower(name)
	for _, hdr := range h.list {
		if headerName(hdr) == lname {
			return headerValue(hdr), true
		}
	}
	return "", false
}

// Sort orders headers by name. Headers with equal names keep their order.
func (h *Headers) Sort() {
	sort.SliceStable(h.list, func(i, j int) bool {
		return headerName(h.list[i]) < headerName(h.list[j])
	})
}

// Names returns the header names joined by ';' in list order.
func (h *Headers) Names() string {
	var b strings.Builder
	for i, hdr := range h.list {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(headerName(hdr))
	}
	return b.String()
}

// Len returns the number of headers.
func (h *Headers) Len() int {
	return len(h.list)
}

// List returns the header lines. The slice must not be modified.
func (h *Headers) List() []string {
	return h.list
}

// Each calls fn with every header name and value in list order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, hdr := range h.list {
		fn(headerName(hdr), headerValue(hdr))
	}
}
