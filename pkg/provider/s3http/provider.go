package s3http

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	awsxml "github.com/aws/aws-sdk-go-v2/aws/protocol/xml"
	"go.uber.org/zap"

	"github.com/3leaps/icenimbus/pkg/provider"
	"github.com/3leaps/icenimbus/pkg/sigv4"
	"github.com/3leaps/icenimbus/pkg/transport"
)

const (
	headerSecurityToken = "x-amz-security-token"
	metaPrefix          = "X-Amz-Meta-"
)

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.ObjectRanger = (*Provider)(nil)
	_ provider.Lister       = (*Provider)(nil)
)

// Provider reads one bucket over signed HTTP.
type Provider struct {
	bucket       string
	scheme       string
	host         string
	pathStyle    bool
	maxKeys      int
	sessionToken string

	signer     *sigv4.Signer
	client     *transport.Client
	ownsClient bool
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures optional Provider collaborators.
type Option func(*Provider)

// WithClient shares an existing transport. The provider does not close a
// shared transport.
func WithClient(c *transport.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
			p.ownsClient = false
		}
	}
}

// WithClock replaces the wall clock used for signing.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a provider. Without WithClient it starts a private transport
// that Close shuts down.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheme, host := cfg.endpoint()
	p := &Provider{
		bucket:       cfg.Bucket,
		scheme:       scheme,
		host:         host,
		pathStyle:    cfg.ForcePathStyle,
		maxKeys:      cfg.MaxKeys,
		sessionToken: cfg.SessionToken,
		signer:       sigv4.NewSigner(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.region()),
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	if p.maxKeys <= 0 || p.maxKeys > DefaultMaxKeys {
		p.maxKeys = DefaultMaxKeys
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = transport.New(transport.DefaultConfig(), transport.WithLogger(p.logger))
		p.ownsClient = true
	}
	return p, nil
}

// Close shuts down a private transport.
func (p *Provider) Close() error {
	if p.ownsClient {
		return p.client.Close()
	}
	return nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	resp, err := p.do(ctx, "Head", key, p.newRequest(http.MethodHead, key, nil))
	if err != nil {
		return nil, err
	}

	h := resp.Header
	meta := &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:  key,
			ETag: strings.Trim(h.Get("ETag"), `"`),
		},
		ContentType: h.Get("Content-Type"),
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		meta.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		meta.LastModified = t.UTC()
	}
	for name, values := range h {
		if rest, ok := strings.CutPrefix(name, metaPrefix); ok && len(values) > 0 {
			if meta.Metadata == nil {
				meta.Metadata = make(map[string]string)
			}
			meta.Metadata[strings.ToLower(rest)] = values[0]
		}
	}
	return meta, nil
}

// GetObject fetches an object. The body is already in memory.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	resp, err := p.do(ctx, "GetObject", key, p.newRequest(http.MethodGet, key, nil))
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(resp.Body)), int64(len(resp.Body)), nil
}

// GetRange fetches bytes [start, endInclusive] of an object.
func (p *Provider) GetRange(ctx context.Context, key string, start, endInclusive int64) (io.ReadCloser, int64, error) {
	req := p.newRequest(http.MethodGet, key, nil)
	if err := req.SetRange(start, endInclusive); err != nil {
		return nil, 0, p.wrapError("GetRange", key, err)
	}

	resp, err := p.do(ctx, "GetRange", key, req)
	if err != nil {
		var se *provider.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return io.NopCloser(bytes.NewReader(nil)), 0, nil
		}
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(resp.Body)), int64(len(resp.Body)), nil
}

type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	Contents              []struct {
		Key          string `xml:"Key"`
		LastModified string `xml:"LastModified"`
		ETag         string `xml:"ETag"`
		Size         int64  `xml:"Size"`
	} `xml:"Contents"`
}

// List returns a page of objects with the given prefix (ListObjectsV2).
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > p.maxKeys {
		maxKeys = p.maxKeys
	}
	query := url.Values{}
	query.Set("list-type", "2")
	query.Set("max-keys", strconv.Itoa(maxKeys))
	if opts.Prefix != "" {
		query.Set("prefix", opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		query.Set("continuation-token", opts.ContinuationToken)
	}

	resp, err := p.do(ctx, "List", "", p.newRequest(http.MethodGet, "", query))
	if err != nil {
		return nil, err
	}

	var out listBucketResult
	if err := xml.Unmarshal(resp.Body, &out); err != nil {
		return nil, p.wrapError("List", "", fmt.Errorf("decode ListObjectsV2 response: %w", err))
	}

	res := &provider.ListResult{
		Objects:           make([]provider.ObjectSummary, 0, len(out.Contents)),
		IsTruncated:       out.IsTruncated,
		ContinuationToken: out.NextContinuationToken,
	}
	for _, c := range out.Contents {
		obj := provider.ObjectSummary{Key: c.Key, Size: c.Size, ETag: strings.Trim(c.ETag, `"`)}
		if t, err := time.Parse(time.RFC3339Nano, c.LastModified); err == nil {
			obj.LastModified = t.UTC()
		}
		res.Objects = append(res.Objects, obj)
	}
	return res, nil
}

// newRequest addresses key (empty for bucket-level calls) path-style or
// virtual-hosted.
func (p *Provider) newRequest(method, key string, query url.Values) *sigv4.Request {
	host := p.host
	path := "/" + sigv4.EscapePath(key)
	if p.pathStyle {
		path = "/" + p.bucket
		if key != "" {
			path += "/" + sigv4.EscapePath(key)
		}
	} else {
		host = p.bucket + "." + p.host
	}

	req := sigv4.NewRequest(method, host, path)
	req.Query = sigv4.CanonicalQuery(query)
	return req
}

// do signs req and executes it. Non-2xx responses become a StatusError
// wrapped in a ProviderError.
func (p *Provider) do(ctx context.Context, op, key string, req *sigv4.Request) (*transport.Response, error) {
	if p.sessionToken != "" {
		req.Headers.Set(headerSecurityToken, p.sessionToken)
	}
	p.signer.Sign(req, sigv4.NewClock(p.now()))

	header := make(http.Header, req.Headers.Len())
	req.Headers.Each(func(name, value string) {
		header.Add(name, value)
	})

	resp, err := p.client.Do(ctx, &transport.Request{
		Method: req.Method,
		URL:    req.URL(p.scheme),
		Header: header,
		Body:   req.Body,
	})
	if err != nil {
		return nil, p.wrapError(op, key, err)
	}
	if !resp.OK() {
		se := statusError(resp)
		p.logger.Debug("object store error",
			zap.String("op", op),
			zap.String("bucket", p.bucket),
			zap.String("key", key),
			zap.Int("status", se.StatusCode),
			zap.String("code", se.Code),
		)
		return nil, p.wrapError(op, key, se)
	}
	return resp, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3HTTP,
		Bucket:   p.bucket,
		Key:      key,
		Err:      err,
	}
}

// statusError decodes the S3 XML error body when there is one.
func statusError(resp *transport.Response) *provider.StatusError {
	se := &provider.StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return se
	}
	comps, err := awsxml.GetErrorResponseComponents(bytes.NewReader(resp.Body), true)
	if err == nil {
		se.Code = comps.Code
		se.Message = comps.Message
	}
	return se
}
