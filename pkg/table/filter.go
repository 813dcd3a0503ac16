package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/locator"
)

var (
	// ErrInvalidPattern is returned when a glob cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrInvalidSize is returned for malformed size strings.
	ErrInvalidSize = errors.New("invalid size")

	// ErrInvalidContent is returned for an unknown content kind name.
	ErrInvalidContent = errors.New("invalid content kind")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Filter selects data files of a scan. The zero value selects everything.
//
// Globs use doublestar syntax and match the object key of the file path
// (the part after s3://bucket/). A file is kept when it matches at least one
// include (or there are none) and no exclude.
type Filter struct {
	Include []string
	Exclude []string

	// Content restricts the file kinds. Empty means all kinds.
	Content []iceberg.DataFileContent

	// MinSize and MaxSize bound file_size_in_bytes inclusively. Zero means
	// unbounded.
	MinSize int64
	MaxSize int64
}

// Validate checks every pattern and the size bounds.
func (f Filter) Validate() error {
	for _, group := range [][]string{f.Include, f.Exclude} {
		for _, p := range group {
			if !doublestar.ValidatePattern(p) {
				return &PatternError{Pattern: p, Err: ErrInvalidPattern}
			}
		}
	}
	if f.MinSize < 0 || f.MaxSize < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidSize)
	}
	if f.MaxSize > 0 && f.MinSize > f.MaxSize {
		return fmt.Errorf("%w: min %d exceeds max %d", ErrInvalidSize, f.MinSize, f.MaxSize)
	}
	return nil
}

// Match reports whether e passes the filter. Patterns are assumed valid.
func (f Filter) Match(e *iceberg.ManifestEntry) bool {
	if len(f.Content) > 0 && !containsContent(f.Content, e.Content) {
		return false
	}
	if f.MinSize > 0 && e.FileSize < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && e.FileSize > f.MaxSize {
		return false
	}

	key := fileKey(e.FilePath)
	if len(f.Include) > 0 && !matchAny(f.Include, key) {
		return false
	}
	return !matchAny(f.Exclude, key)
}

// FilterSpec is the textual form of a Filter as given on a command line or
// in a query string.
type FilterSpec struct {
	Include []string
	Exclude []string

	// Content holds kind names (data, position_deletes, equality_deletes).
	// Entries may be comma separated.
	Content []string

	MinSize string
	MaxSize string
}

// Build parses s and validates the result.
func (s FilterSpec) Build() (Filter, error) {
	f := Filter{Include: s.Include, Exclude: s.Exclude}
	for _, group := range s.Content {
		for _, name := range strings.Split(group, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			c, err := iceberg.ParseDataFileContent(name)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: %q", ErrInvalidContent, name)
			}
			if !containsContent(f.Content, c) {
				f.Content = append(f.Content, c)
			}
		}
	}

	var err error
	if s.MinSize != "" {
		if f.MinSize, err = ParseSize(s.MinSize); err != nil {
			return Filter{}, err
		}
	}
	if s.MaxSize != "" {
		if f.MaxSize, err = ParseSize(s.MaxSize); err != nil {
			return Filter{}, err
		}
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func containsContent(set []iceberg.DataFileContent, c iceberg.DataFileContent) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

// fileKey strips scheme and bucket from an s3-like path. Other paths are
// matched as they are.
func fileKey(p string) string {
	if loc, err := locator.Parse(p); err == nil {
		return loc.Key()
	}
	return p
}

// Size units. KB/MB/GB are decimal, KiB/MiB/GiB binary.
const (
	KB int64 = 1000
	MB       = 1000 * KB
	GB       = 1000 * MB
	TB       = 1000 * GB

	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
	TiB       = 1024 * GiB
)

// ParseSize parses "1024", "128MB", "1.5GiB" and similar. Units are case
// insensitive.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	numEnd := 0
	for numEnd < len(s) && (s[numEnd] >= '0' && s[numEnd] <= '9' || s[numEnd] == '.') {
		numEnd++
	}
	if numEnd == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	var mult int64
	switch strings.ToUpper(strings.TrimSpace(s[numEnd:])) {
	case "", "B":
		mult = 1
	case "K", "KB":
		mult = KB
	case "M", "MB":
		mult = MB
	case "G", "GB":
		mult = GB
	case "T", "TB":
		mult = TB
	case "KI", "KIB":
		mult = KiB
	case "MI", "MIB":
		mult = MiB
	case "GI", "GIB":
		mult = GiB
	case "TI", "TIB":
		mult = TiB
	default:
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSize, s)
	}

	num, err := strconv.ParseFloat(s[:numEnd], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	v := num * float64(mult)
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows int64", ErrInvalidSize, s)
	}
	return int64(v), nil
}

// FormatSize renders n with binary units.
func FormatSize(n int64) string {
	switch {
	case n >= TiB:
		return fmt.Sprintf("%.1fTiB", float64(n)/float64(TiB))
	case n >= GiB:
		return fmt.Sprintf("%.1fGiB", float64(n)/float64(GiB))
	case n >= MiB:
		return fmt.Sprintf("%.1fMiB", float64(n)/float64(MiB))
	case n >= KiB:
		return fmt.Sprintf("%.1fKiB", float64(n)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
