// Package transport executes object store HTTP exchanges asynchronously.
//
// Callers submit requests onto a bounded queue. A single dispatcher goroutine
// owns the *http.Client, applies the optional rate limit and launches at most
// Workers exchanges at a time. Each submission gets its own buffered result
// channel, so a response (status, headers and body together) is delivered
// to exactly the caller that asked for it.
//
// The client never retries. Retry policy belongs to callers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/icenimbus/pkg/metrics"
)

var (
	// ErrClosed is returned when submitting to a closed client.
	ErrClosed = errors.New("transport closed")

	// ErrBodyTooLarge indicates a response body exceeded Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Config configures a Client.
type Config struct {
	// Workers is the maximum number of exchanges on the wire at once.
	// Default: 8
	Workers int

	// QueueSize is the number of submitted requests that may wait for a
	// worker before Submit blocks.
	// Default: 64
	QueueSize int

	// RateLimit is the maximum exchanges per second. Zero means unlimited.
	RateLimit float64

	// Timeout bounds a single exchange including reading the body.
	// Zero means only the caller's context applies.
	Timeout time.Duration

	// MaxBodyBytes caps the response body size. Zero means unlimited.
	MaxBodyBytes int64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   8,
		QueueSize: 64,
	}
}

// Request is a fully prepared exchange. Header may carry a "Host" entry,
// which overrides the host taken from URL.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the complete result of an exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Result is delivered on the channel returned by Submit.
type Result struct {
	Response *Response
	Err      error
}

// Option configures optional Client collaborators.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for per-exchange debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the collector that records exchanges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

type call struct {
	ctx    context.Context
	req    *Request
	result chan Result
}

// Client is an asynchronous HTTP client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan *call
	wg     sync.WaitGroup
}

// New creates a Client and starts its dispatcher.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: zap.NewNop(),
		queue:  make(chan *call, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	c.wg.Add(1)
	go c.dispatch()
	return c
}

// Submit queues req and returns a channel that receives exactly one Result.
//
// Submit blocks while the queue is full. It fails with ErrClosed after
// Close, or with the context error if ctx ends before the request is queued.
func (c *Client) Submit(ctx context.Context, req *Request) (<-chan Result, error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	cl := &call{ctx: ctx, req: req, result: make(chan Result, 1)}
	select {
	case c.queue <- cl:
		c.metrics.SetQueueDepth(len(c.queue))
		return cl.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits req and waits for its response.
//
// Non-2xx responses are returned as a Response, not an error. Errors are
// reserved for transport failures and cancellation.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	ch, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting requests and waits for queued and in-flight
// exchanges to finish. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) dispatch() {
	defer c.wg.Done()

	sem := make(chan struct{}, c.cfg.Workers)
	for cl := range c.queue {
		c.metrics.SetQueueDepth(len(c.queue))

		if c.limiter != nil {
			if err := c.limiter.Wait(cl.ctx); err != nil {
				cl.result <- Result{Err: err}
				continue
			}
		}

		sem <- struct{}{}
		c.wg.Add(1)
		go func(cl *call) {
			defer c.wg.Done()
			defer func() { <-sem }()
			resp, err := c.exchange(cl.ctx, cl.req)
			cl.result <- Result{Response: resp, Err: err}
		}(cl)
	}
}

func (c *Client) exchange(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for name, values := range req.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			if len(values) > 0 {
				hreq.Host = values[0]
			}
			continue
		}
		for _, v := range values {
			hreq.Header.Add(name, v)
		}
	}

	start := time.Now()
	c.metrics.ExchangeStarted()
	resp, err := c.http.Do(hreq)
	if err != nil {
		c.metrics.ExchangeDone(req.Method, 0, time.Since(start))
		c.logger.Debug("exchange failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := c.readBody(resp.Body)
	c.metrics.ExchangeDone(req.Method, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("exchange",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.cfg.MaxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, c.cfg.MaxBodyBytes)
	}
	return data, nil
}
