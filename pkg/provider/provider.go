// Package provider defines the object store surface icenimbus reads table
// files through.
//
// The core Provider is deliberately small: fetch an object, describe an
// object. Range reads and listing are optional capabilities discovered by
// type assertion. Providers are bound to a single bucket and must be safe
// for concurrent use.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"
)

// Provider reads objects from one bucket.
type Provider interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject streams the object body. The caller closes the body.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag with surrounding quotes removed.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 is AWS S3 or S3-compatible storage through aws-sdk-go-v2.
	ProviderS3 ProviderType = "s3"

	// ProviderS3HTTP is S3-compatible storage through the built-in signer
	// and async transport.
	ProviderS3HTTP ProviderType = "s3http"

	// ProviderFile is a local directory laid out as <root>/<bucket>/<key>.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType validates a backend name.
func ParseProviderType(s string) (ProviderType, error) {
	switch t := ProviderType(s); t {
	case ProviderS3, ProviderS3HTTP, ProviderFile:
		return t, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want s3, s3http or file)", s)
	}
}

// ReadAll fetches the whole object into memory.
func ReadAll(ctx context.Context, p Provider, key string) ([]byte, error) {
	body, n, err := p.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	var buf bytes.Buffer
	if n > 0 {
		buf.Grow(int(n))
	}
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
