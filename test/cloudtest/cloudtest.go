// Package cloudtest runs an in-process S3-compatible endpoint for tests.
//
// The server speaks the path-style subset icenimbus reads with: GetObject
// (with Range), HeadObject and ListObjectsV2. Errors use the S3 XML error
// body. With RequireSignature the server recomputes the SigV4 signature of
// every request and rejects mismatches with SignatureDoesNotMatch.
//
// Usage:
//
//	srv := cloudtest.NewServer(t)
//	srv.PutObject("warehouse", "db/t/metadata/v1.metadata.json", data)
//	// point a provider at srv.URL with path-style addressing
package cloudtest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3leaps/icenimbus/pkg/sigv4"
)

const (
	// DefaultRegion is the region tests sign for.
	DefaultRegion = "us-east-1"

	// TestAccessKeyID is the access key tests sign with.
	TestAccessKeyID = "AKIDEXAMPLE"

	// TestSecretAccessKey is the secret key tests sign with.
	TestSecretAccessKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
)

type object struct {
	data     []byte
	modified time.Time
}

// Server is an in-memory S3 endpoint.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	buckets  map[string]map[string]object
	requests []string
	signer   *sigv4.Signer
}

// NewServer starts a server and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{buckets: make(map[string]map[string]object)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// RequireSignature makes the server verify SigV4 signatures made with the
// test credentials.
func (s *Server) RequireSignature() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = sigv4.NewSigner(TestAccessKeyID, TestSecretAccessKey, DefaultRegion)
}

// CreateBucket creates an empty bucket.
func (s *Server) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]object)
	}
}

// PutObject stores data under bucket/key, creating the bucket if needed.
func (s *Server) PutObject(bucket, key string, data []byte) {
	s.CreateBucket(bucket)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket][key] = object{
		data:     append([]byte(nil), data...),
		modified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Requests returns "METHOD /path?query" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Host returns host:port of the endpoint.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	line := r.Method + " " + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		line += "?" + r.URL.RawQuery
	}
	s.mu.Lock()
	s.requests = append(s.requests, line)
	signer := s.signer
	s.mu.Unlock()

	if signer != nil {
		if code, msg := verify(signer, r); code != "" {
			writeError(w, r, http.StatusForbidden, code, msg)
			return
		}
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	var obj object
	var found bool
	if ok {
		obj, found = objects[key]
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		s.list(w, r, bucket)
	case key == "":
		writeError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "The specified method is not allowed")
	case r.Method != http.MethodGet && r.Method != http.MethodHead:
		writeError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "The specified method is not allowed")
	case !found:
		writeError(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
	default:
		serveObject(w, r, obj)
	}
}

func serveObject(w http.ResponseWriter, r *http.Request, obj object) {
	h := w.Header()
	h.Set("ETag", etag(obj.data))
	h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	h.Set("Content-Type", "application/octet-stream")

	data := obj.data
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" {
		start, end, ok := parseRange(rng)
		if !ok || start >= int64(len(data)) {
			writeError(w, r, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", "The requested range is not satisfiable")
			return
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		data = data[start : end+1]
		status = http.StatusPartialContent
	}

	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

// ETag returns the unquoted single-part ETag the server reports for data.
func ETag(data []byte) string {
	return strings.Trim(etag(data), `"`)
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func parseRange(v string) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(v, "bytes=")
	if !ok {
		return 0, 0, false
	}
	a, b, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	start, err1 := strconv.ParseInt(a, 10, 64)
	end, err2 := strconv.ParseInt(b, 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
}

type listBucketResult struct {
	XMLName               xml.Name       `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listContents `xml:"Contents"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	token := q.Get("continuation-token")
	maxKeys := 1000
	if v := q.Get("max-keys"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < maxKeys {
			maxKeys = n
		}
	}

	s.mu.Lock()
	var keys []string
	for k := range s.buckets[bucket] {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := listBucketResult{Name: bucket, Prefix: prefix, MaxKeys: maxKeys, ContinuationToken: token}
	if len(keys) > maxKeys {
		keys = keys[:maxKeys]
		res.IsTruncated = true
		res.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := s.buckets[bucket][k]
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			LastModified: obj.modified.Format("2006-01-02T15:04:05.000Z"),
			ETag:         etag(obj.data),
			Size:         len(obj.data),
		})
	}
	s.mu.Unlock()
	res.KeyCount = len(res.Contents)

	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

type errorBody struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(errorBody{Code: code, Message: msg, RequestID: "cloudtest"})
}

// verify recomputes the signature of r. It returns an empty code when the
// signature matches.
func verify(signer *sigv4.Signer, r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "AccessDenied", "missing Authorization header"
	}
	rest, ok := strings.CutPrefix(auth, sigv4.Algorithm+" ")
	if !ok {
		return "InvalidArgument", "unsupported authorization algorithm"
	}

	var signed string
	for _, part := range strings.Split(rest, ",") {
		if v, ok := strings.CutPrefix(part, "SignedHeaders="); ok {
			signed = v
		}
	}
	if !strings.Contains(rest, "Credential="+signer.AccessKey()+"/") {
		return "InvalidAccessKeyId", "The AWS access key Id you provided does not exist in our records."
	}

	when, err := time.Parse("20060102T150405Z", r.Header.Get("X-Amz-Date"))
	if err != nil {
		return "AccessDenied", "missing or malformed x-amz-date"
	}

	body, _ := io.ReadAll(r.Body)
	req := sigv4.NewRequest(r.Method, r.Host, r.URL.EscapedPath())
	req.Query = r.URL.RawQuery
	req.Body = body
	for _, name := range strings.Split(signed, ";") {
		switch name {
		case sigv4.HeaderHost, sigv4.HeaderDate, sigv4.HeaderContentSHA256:
		default:
			req.Headers.Set(name, r.Header.Get(name))
		}
	}

	if want := signer.Sign(req, sigv4.NewClock(when)); want != auth {
		return "SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided."
	}
	if got := r.Header.Get("X-Amz-Content-Sha256"); got != req.BodyHash() {
		return "XAmzContentSHA256Mismatch", "The provided 'x-amz-content-sha256' header does not match what was computed."
	}
	return "", ""
}
