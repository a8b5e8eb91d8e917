package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultIdleTimeout  = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20
	defaultReadSize     = 32 << 10
)

// HTTPClient defines the interface for an HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is an encoded provider call. Timeout bounds connect and first byte
// (the whole exchange for Do), IdleTimeout bounds the gap between stream reads.
// Zero values fall back to the client defaults.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// Response is a fully read, successful (2xx) upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs exactly one attempt per call. It never retries.
type Client struct {
	http        HTTPClient
	timeout     time.Duration
	idleTimeout time.Duration
	maxBody     int64
	readSize    int
}

type Option func(*Client)

func WithHTTPClient(c HTTPClient) Option { return func(cl *Client) { cl.http = c } }

func WithTimeout(d time.Duration) Option { return func(cl *Client) { cl.timeout = d } }

func WithIdleTimeout(d time.Duration) Option { return func(cl *Client) { cl.idleTimeout = d } }

func WithMaxBodyBytes(n int64) Option { return func(cl *Client) { cl.maxBody = n } }

func New(opts ...Option) *Client {
	c := &Client{
		timeout:     DefaultTimeout,
		idleTimeout: DefaultIdleTimeout,
		maxBody:     DefaultMaxBodyBytes,
		readSize:    defaultReadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: NewPool(PoolConfig{})}
	}
	return c
}

type PoolConfig struct {
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// NewPool returns the connection pool shared by every call. A response body
// that is closed before EOF makes net/http discard its connection, so a
// half-read stream never goes back to the pool.
func NewPool(cfg PoolConfig) *http.Transport {
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 32
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = 10 * time.Second
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

func (c *Client) newHTTPRequest(ctx context.Context, r *Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, wrapErr("send", redact(r.URL), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range r.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Do sends the request and reads the whole body within the call deadline.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	target := redact(r.URL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapErr("send", target, causeOf(ctx, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, wrapErr("read", target, causeOf(ctx, err))
	}
	if int64(len(body)) > c.maxBody {
		return nil, wrapErr("read", target, ErrBodyTooLarge)
	}

	// Check for non-200 status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body, Header: resp.Header, URL: target}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Open sends the request and returns the live body as a sequence of raw
// frames. The call deadline covers connect and response headers; after that
// each read is bounded by the idle timeout. The caller must Close the frames.
func (c *Client) Open(ctx context.Context, r *Request) (*Frames, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	idle := r.IdleTimeout
	if idle <= 0 {
		idle = c.idleTimeout
	}

	ctx, cancel := context.WithCancelCause(ctx)
	firstByte := time.AfterFunc(timeout, func() { cancel(context.DeadlineExceeded) })

	req, err := c.newHTTPRequest(ctx, r)
	if err != nil {
		firstByte.Stop()
		cancel(nil)
		return nil, err
	}
	target := redact(r.URL)

	resp, err := c.http.Do(req)
	if !firstByte.Stop() && err == nil {
		// deadline fired while headers were arriving
		_ = resp.Body.Close()
		cancel(nil)
		return nil, wrapErr("send", target, context.DeadlineExceeded)
	}
	if err != nil {
		err = causeOf(ctx, err)
		cancel(nil)
		return nil, wrapErr("send", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
		_ = resp.Body.Close()
		cancel(nil)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: body, Header: resp.Header, URL: target}
	}

	return newFrames(ctx, cancel, resp, target, idle, c.readSize), nil
}

// causeOf prefers the context's cause over the error net/http surfaced,
// which is usually a bare context.Canceled.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// redact drops query and userinfo so URLs are safe to log.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
