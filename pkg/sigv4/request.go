package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidRange indicates a byte range with begin < 0 or end < begin.
var ErrInvalidRange = errors.New("sigv4: invalid byte range")

// Header names injected by PrepareToSign and Sign.
const (
	HeaderHost          = "host"
	HeaderDate          = "x-amz-date"
	HeaderContentSHA256 = "x-amz-content-sha256"
	HeaderAuthorization = "authorization"
	HeaderRange         = "range"
)

// Request is the part of an HTTP request that takes part in signing.
//
// Body is borrowed: it must stay unchanged until the request has been sent.
// Path is expected to be URI-encoded already (see EscapePath).
type Request struct {
	Method  string
	Host    string
	Query   string
	Headers Headers
	Body    []byte

	path     string
	bodyHash string
}

// NewRequest returns a request for method on host at path.
func NewRequest(method, host, path string) *Request {
	r := &Request{Method: method, Host: host}
	r.SetPath(path)
	return r
}

// SetPath sets the request path, adding a leading '/' if missing. An empty
// path becomes "/".
func (r *Request) SetPath(path string) {
	switch {
	case path == "":
		r.path = "/"
	case path[0] == '/':
		r.path = path
	default:
		r.path = "/" + path
	}
}

// Path returns the request path. It always starts with '/'.
func (r *Request) Path() string {
	if r.path == "" {
		return "/"
	}
	return r.path
}

// AddHeader appends a "name:value" header.
func (r *Request) AddHeader(header string) {
	r.Headers.Add(header)
}

// SetRange requests bytes begin..end inclusive.
func (r *Request) SetRange(begin, end int64) error {
	if begin < 0 || end < begin {
		return fmt.Errorf("%w: %d-%d", ErrInvalidRange, begin, end)
	}
	r.Headers.Set(HeaderRange, fmt.Sprintf("bytes=%d-%d", begin, end))
	return nil
}

// BodyHash returns the lower-case hex SHA-256 of the body.
func (r *Request) BodyHash() string {
	if r.bodyHash == "" {
		r.bodyHash = sha256Hex(r.Body)
	}
	return r.bodyHash
}

// PrepareToSign hashes the body, injects the host, x-amz-date and
// x-amz-content-sha256 headers and sorts the header list. A previous
// authorization header is dropped so a request can be signed again.
func (r *Request) PrepareToSign(c Clock) {
	r.bodyHash = sha256Hex(r.Body)

	r.Headers.Del(HeaderAuthorization)
	r.Headers.Set(HeaderHost, r.Host)
	r.Headers.Set(HeaderDate, c.DateTime())
	r.Headers.Set(HeaderContentSHA256, r.bodyHash)
	r.Headers.Sort()
}

// SignedHeaders returns the semicolon-joined header names.
func (r *Request) SignedHeaders() string {
	return r.Headers.Names()
}

// CanonicalRequest renders the canonical request text:
//
//	METHOD
//	/path
//	query
//	name:value (one line per header)
//	<empty line>
//	signed;header;names
//	body-hash
func (r *Request) CanonicalRequest() string {
	var b strings.Builder
	b.Grow(256)
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.Path())
	b.WriteByte('\n')
	b.WriteString(r.Query)
	b.WriteByte('\n')
	for _, h := range r.Headers.List() {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(r.Headers.Names())
	b.WriteByte('\n')
	b.WriteString(r.BodyHash())
	return b.String()
}

// CanonicalRequestHash returns the hex SHA-256 of CanonicalRequest.
func (r *Request) CanonicalRequestHash() string {
	return sha256Hex([]byte(r.CanonicalRequest()))
}

// URL returns scheme://host/path?query.
func (r *Request) URL(scheme string) string {
	u := scheme + "://" + r.Host + r.Path()
	if r.Query != "" {
		u += "?" + r.Query
	}
	return u
}

// EscapePath URI-encodes every byte of p outside the S3 unreserved set
// (A-Z a-z 0-9 - _ . ~). Slashes are kept.
func EscapePath(p string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// CanonicalQuery renders query sorted by key, then value, with every byte
// outside the unreserved set percent-encoded. The result is both the wire
// form and the form that is signed.
func CanonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(escapeQuery(k))
			b.WriteByte('=')
			b.WriteString(escapeQuery(v))
		}
	}
	return b.String()
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(EscapePath(s), "/", "%2F")
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
