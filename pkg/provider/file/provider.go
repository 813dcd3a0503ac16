// Package file serves a local directory as an object store. A warehouse
// copied to disk as <root>/<bucket>/<key> can be read with the same table
// loader used against S3.
package file

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/icenimbus/pkg/provider"
)

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.ObjectRanger = (*Provider)(nil)
	_ provider.Lister       = (*Provider)(nil)
)

// Config selects the bucket directory.
type Config struct {
	// Root is the directory holding one subdirectory per bucket.
	Root string

	// Bucket is the subdirectory this provider reads.
	Bucket string
}

// Validate checks that both fields are set and Bucket is a single path
// element.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("root dir is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	if strings.ContainsAny(c.Bucket, `/\`) || c.Bucket == "." || c.Bucket == ".." {
		return fmt.Errorf("invalid bucket name %q", c.Bucket)
	}
	return nil
}

// Provider reads objects from <Root>/<Bucket>.
type Provider struct {
	bucket  string
	baseDir string
}

// New creates a Provider. The bucket directory need not exist yet; reads
// from a missing directory report ErrBucketNotFound.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		bucket:  cfg.Bucket,
		baseDir: filepath.Join(filepath.Clean(cfg.Root), cfg.Bucket),
	}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.wrapError("Head", key, fs.ErrNotExist)
	}

	etag, err := fileETag(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          strings.TrimPrefix(key, "/"),
			Size:         st.Size(),
			ETag:         etag,
			LastModified: st.ModTime().UTC(),
		},
	}, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	f, st, err := p.open(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, st.Size(), nil
}

func (p *Provider) GetRange(ctx context.Context, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	_ = ctx
	if start < 0 {
		return nil, 0, p.wrapError("GetRange", key, fmt.Errorf("start must be >= 0"))
	}
	if endInclusive < start {
		return nil, 0, p.wrapError("GetRange", key, fmt.Errorf("end must be >= start"))
	}

	f, st, err := p.open(key)
	if err != nil {
		return nil, 0, p.wrapError("GetRange", key, err)
	}
	if start >= st.Size() {
		_ = f.Close()
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	length := endInclusive - start + 1
	if start+length > st.Size() {
		length = st.Size() - start
	}
	return &sectionReadCloser{r: io.NewSectionReader(f, start, length), c: f}, length, nil
}

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	_ = ctx
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys, err := p.collectKeys(opts.Prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		start = sort.SearchStrings(keys, opts.ContinuationToken)
		for start < len(keys) && keys[start] <= opts.ContinuationToken {
			start++
		}
	}
	end := start + maxKeys
	if end > len(keys) {
		end = len(keys)
	}

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		st, err := os.Stat(filepath.Join(p.baseDir, filepath.FromSlash(k)))
		if err != nil {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime().UTC()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

type sectionReadCloser struct {
	r io.Reader
	c io.Closer
}

func (s *sectionReadCloser) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *sectionReadCloser) Close() error               { return s.c.Close() }

func (p *Provider) open(key string) (*os.File, os.FileInfo, error) {
	full, err := p.fullPath(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, nil, fs.ErrNotExist
	}
	return f, st, nil
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path %q", key)
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

// collectKeys walks the bucket directory and returns the slash-separated
// keys that start with prefix.
func (p *Provider) collectKeys(prefix string) ([]string, error) {
	if _, err := os.Stat(p.baseDir); err != nil {
		return nil, err
	}
	prefix = strings.TrimPrefix(prefix, "/")

	// Walk from the deepest directory fully contained in the prefix.
	root := p.baseDir
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir, err := p.fullPath(prefix[:i])
		if err != nil {
			return nil, err
		}
		root = dir
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return []string{}, nil
	}

	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	return keys, err
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.bucket, Key: key, Err: err}
	switch {
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
		if _, statErr := os.Stat(p.baseDir); os.IsNotExist(statErr) {
			wrapped.Err = provider.ErrBucketNotFound
		}
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

// fileETag mirrors the S3 single-part ETag: the hex MD5 of the content.
func fileETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
