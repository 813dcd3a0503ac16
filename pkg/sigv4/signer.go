// Package sigv4 signs S3 requests with AWS Signature Version 4.
//
// A Request carries the method, host, path, query, headers and body that
// take part in signing. Signer derives the per-day signing key and produces
// the authorization header value. Only the "s3" service and header-based
// authentication are supported.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	service    = "s3"
	terminator = "aws4_request"
)

// Signer signs requests for one set of credentials and one region.
//
// It is safe for concurrent use. The derived signing key is cached per UTC
// date and recomputed when the date changes.
type Signer struct {
	accessKey string
	secretKey string
	region    string

	mu      sync.Mutex
	keyDate string
	key     []byte
}

// NewSigner returns a Signer for the given credentials and region.
func NewSigner(accessKey, secretKey, region string) *Signer {
	return &Signer{accessKey: accessKey, secretKey: secretKey, region: region}
}

// AccessKey returns the access key id.
func (s *Signer) AccessKey() string { return s.accessKey }

// Region returns the signing region.
func (s *Signer) Region() string { return s.region }

// SigningKey returns the key derived from the secret, the UTC date of c and
// the region. The returned slice is a copy.
func (s *Signer) SigningKey(c Clock) []byte {
	date := c.Date()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil || s.keyDate != date {
		s.key = deriveKey(s.secretKey, date, s.region)
		s.keyDate = date
	}
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out
}

// Scope returns the credential scope date/region/s3/aws4_request.
func (s *Signer) Scope(c Clock) string {
	return c.Date() + "/" + s.region + "/" + service + "/" + terminator
}

// StringToSign returns the string-to-sign for a request already prepared
// with PrepareToSign.
func (s *Signer) StringToSign(req *Request, c Clock) string {
	return Algorithm + "\n" + c.DateTime() + "\n" + s.Scope(c) + "\n" + req.CanonicalRequestHash()
}

// Sign prepares req, computes its signature and appends the authorization
// header to it. It returns the authorization header value.
func (s *Signer) Sign(req *Request, c Clock) string {
	key := s.SigningKey(c)
	req.PrepareToSign(c)

	sig := hmacSHA256(key, []byte(s.StringToSign(req, c)))

	var b strings.Builder
	b.Grow(256)
	b.WriteString(Algorithm)
	b.WriteString(" Credential=")
	b.WriteString(s.accessKey)
	b.WriteByte('/')
	b.WriteString(s.Scope(c))
	b.WriteString(",SignedHeaders=")
	b.WriteString(req.SignedHeaders())
	b.WriteString(",Signature=")
	b.WriteString(hex.EncodeToString(sig))
	auth := b.String()

	req.Headers.Add(MakeHeader(HeaderAuthorization, auth))
	return auth
}

func deriveKey(secret, date, region string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte(service))
	return hmacSHA256(k, []byte(terminator))
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)
}
