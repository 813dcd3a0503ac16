package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces, detected by type assertion.

// ObjectRanger can read a byte range of an object.
//
// endInclusive follows HTTP Range semantics. A range that starts past the
// end of the object yields an empty body.
type ObjectRanger interface {
	GetRange(ctx context.Context, key string, start, endInclusive int64) (body io.ReadCloser, contentLength int64, err error)
}

// Lister can enumerate objects by prefix. Used to discover metadata files
// when a table has no version hint.
type Lister interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ListAll pages through every object under prefix.
func ListAll(ctx context.Context, l Lister, prefix string) ([]ObjectSummary, error) {
	var (
		out   []ObjectSummary
		token string
	)
	for {
		res, err := l.List(ctx, ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Objects...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}
