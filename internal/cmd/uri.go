package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/icenimbus/pkg/locator"
)

// ErrInvalidURI indicates a table argument could not be parsed.
var ErrInvalidURI = errors.New("invalid table URI")

const metadataSuffix = ".metadata.json"

// ParseTableURI parses a table argument.
//
// Accepted forms:
//   - s3://bucket/path/to/table (table root, a trailing '/' is added)
//   - s3://bucket/path/to/table/
//   - s3://bucket/path/to/table/metadata/v3.metadata.json
//
// s3a:// and s3n:// are accepted as aliases.
func ParseTableURI(uri string) (locator.Locator, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return locator.Locator{}, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	if !strings.HasSuffix(uri, "/") && !strings.HasSuffix(uri, metadataSuffix) {
		uri += "/"
	}

	loc, err := locator.Parse(uri)
	if err != nil {
		return locator.Locator{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	return loc, nil
}
