// Package locator parses and builds storage object locators of the form
// <scheme>://<bucket>/<key>.
//
// A Locator keeps the full URI as a single string and remembers where the
// bucket starts and ends. Scheme, bucket and key are substrings of it.
package locator

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidLocator indicates the URI is not a valid s3-like object locator.
var ErrInvalidLocator = errors.New("invalid object locator")

// DefaultScheme is the scheme used by Build.
const DefaultScheme = "s3"

// Locator identifies an object in a bucket. The zero value is the empty
// locator.
type Locator struct {
	uri         string
	bucketStart int
	bucketEnd   int
}

// Parse parses uri into a Locator.
//
// Accepted form: <scheme>://<bucket>/<key>. The key may be empty and may
// contain further slashes, including a leading one. On failure Parse returns
// the empty locator and an error wrapping ErrInvalidLocator.
func Parse(uri string) (Locator, error) {
	colon := strings.IndexByte(uri, ':')
	if colon < 0 {
		return Locator{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidLocator, uri)
	}
	if !IsS3Scheme(uri[:colon]) {
		return Locator{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocator, uri[:colon])
	}
	if !strings.HasPrefix(uri[colon+1:], "//") {
		return Locator{}, fmt.Errorf("%w: expected \"//\" after scheme in %q", ErrInvalidLocator, uri)
	}

	bucketStart := colon + 3
	slash := strings.IndexByte(uri[bucketStart:], '/')
	if slash < 0 {
		return Locator{}, fmt.Errorf("%w: missing '/' after bucket in %q", ErrInvalidLocator, uri)
	}
	if slash == 0 {
		return Locator{}, fmt.Errorf("%w: empty bucket in %q", ErrInvalidLocator, uri)
	}

	return Locator{uri: uri, bucketStart: bucketStart, bucketEnd: bucketStart + slash}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(uri string) Locator {
	l, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return l
}

// Build returns the canonical s3://bucket/key locator. An empty bucket
// yields the empty locator.
func Build(bucket, key string) Locator {
	if bucket == "" {
		return Locator{}
	}
	prefix := DefaultScheme + "://"
	return Locator{
		uri:         prefix + bucket + "/" + key,
		bucketStart: len(prefix),
		bucketEnd:   len(prefix) + len(bucket),
	}
}

// IsS3Scheme reports whether scheme names an S3-compatible store: "s3" or
// "s3" followed by a single letter (s3a, s3n). Case-insensitive.
func IsS3Scheme(scheme string) bool {
	s := strings.ToLower(scheme)
	switch len(s) {
	case 2:
		return s == "s3"
	case 3:
		return s[:2] == "s3" && s[2] >= 'a' && s[2] <= 'z'
	default:
		return false
	}
}

// Empty reports whether l is the empty locator.
func (l Locator) Empty() bool {
	return l.uri == ""
}

// String returns the full URI.
func (l Locator) String() string {
	return l.uri
}

// Scheme returns the URI scheme (e.g. "s3", "s3a").
func (l Locator) Scheme() string {
	if l.Empty() {
		return ""
	}
	return l.uri[:l.bucketStart-3]
}

// Bucket returns the bucket name.
func (l Locator) Bucket() string {
	return l.uri[l.bucketStart:l.bucketEnd]
}

// Key returns the object key, possibly empty.
func (l Locator) Key() string {
	if l.Empty() {
		return ""
	}
	return l.uri[l.bucketEnd+1:]
}

// IsPrefix reports whether the key is empty or ends with '/'.
func (l Locator) IsPrefix() bool {
	k := l.Key()
	return k == "" || strings.HasSuffix(k, "/")
}

// Resolve interprets ref relative to l.
//
// An absolute s3-like URI is parsed as is. Anything else is treated as a key
// relative to the directory of l's key (or to l's key itself when l is a
// prefix) in the same bucket.
func (l Locator) Resolve(ref string) (Locator, error) {
	if strings.Contains(ref, "://") {
		return Parse(ref)
	}
	if l.Empty() {
		return Locator{}, fmt.Errorf("%w: cannot resolve %q against empty locator", ErrInvalidLocator, ref)
	}
	if strings.HasPrefix(ref, "/") {
		return Build(l.Bucket(), strings.TrimPrefix(ref, "/")), nil
	}

	dir := l.Key()
	if !l.IsPrefix() {
		dir = path.Dir(dir)
		if dir == "." {
			dir = ""
		} else {
			dir += "/"
		}
	}
	return Build(l.Bucket(), dir+ref), nil
}

// Join appends elem to l's key, inserting a '/' when needed.
func (l Locator) Join(elem string) Locator {
	key := l.Key()
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return Build(l.Bucket(), key+strings.TrimPrefix(elem, "/"))
}
