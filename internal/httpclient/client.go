// Package httpclient provides a reusable HTTP client with context
// management, timeouts and connection pooling. It is the transport for the
// ONVIF control client and the vendor CGI backend.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout is applied when a request context has no deadline.
	// Protocol calls against a single camera default to 10 seconds.
	DefaultTimeout = 10 * time.Second

	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second

	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "camgate"
)

// Client wraps http.Client with per-request timeout enforcement. A zero
// deadline on the request context gets the configured default. Thread-safe
// for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// UserAgent is added to all requests
	UserAgent string

	// MaxIdleConnsPerHost controls per-host connection pool (default: 4)
	MaxIdleConnsPerHost int
}

// New creates a new HTTP client. Accepts nil cfg for defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			// No client-level timeout, it is handled per request via context.
		},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
}

// NewWithTransport creates a client on a caller-supplied RoundTripper.
// Used by tests to install a mock transport.
func NewWithTransport(rt http.RoundTripper, defaultTimeout time.Duration) *Client {
	if defaultTimeout == 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Client{
		client:         &http.Client{Transport: rt},
		defaultTimeout: defaultTimeout,
		userAgent:      defaultUserAgent,
	}
}

// Do executes an HTTP request with timeout enforcement. The response body
// must be closed by the caller when err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return c.client.Do(req)
}

// Get performs a GET request with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post performs a POST request with context. Body may be nil, an io.Reader,
// a []byte or a string.
func (c *Client) Post(ctx context.Context, url, contentType string, body any) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	switch v := body.(type) {
	case nil:
	case io.Reader:
		bodyReader = v
	case []byte:
		bodyReader = bytes.NewReader(v)
	case string:
		bodyReader = strings.NewReader(v)
	default:
		return nil, fmt.Errorf("unsupported body type %T", body)
	}

	req, err := http.NewRequest(http.MethodPost, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(ctx, req)
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
