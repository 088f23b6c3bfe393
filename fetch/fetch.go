// Package fetch is the HTTP layer used by the site adapters: a polite,
// rate-limited client and a cookie-keeping session on top of it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

const (
	DefaultUserAgent = "newsarchive/1.0 (newspaper archive crawler)"
	DefaultTimeout   = 30 * time.Second
	// DefaultMaxBody caps how much of a response is read.
	DefaultMaxBody = 10 << 20
)

// ErrDisallowed is returned for URLs that robots.txt forbids.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Options configure a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimit is the maximum number of requests per second. Zero means
	// unlimited.
	RateLimit     float64
	RespectRobots bool
	MaxBody       int64
	Jar           http.CookieJar
	Transport     http.RoundTripper
}

// Response is a fully read HTTP response.
type Response struct {
	// URL is the final URL after redirects.
	URL    string
	Status int
	Body   []byte
}

// Client performs rate-limited HTTP requests.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	limiter   *rate.Limiter
	robots    *robotsCache
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}

	c := &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Jar:       opts.Jar,
			Transport: opts.Transport,
		},
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBody,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	if opts.RespectRobots {
		c.robots = &robotsCache{hosts: make(map[string]*robotstxt.RobotsData)}
	}
	return c
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// PostForm submits form to rawURL.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	ctx := req.Context()
	if c.robots != nil {
		ok, err := c.robots.allowed(ctx, c, req.URL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, req.URL)
		}
	}

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, &StatusError{URL: req.URL.String(), Code: resp.Status}
	}
	return resp, nil
}

// send waits for the limiter and performs req without status checks.
func (c *Client) send(req *http.Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return &Response{URL: resp.Request.URL.String(), Status: resp.StatusCode, Body: body}, nil
}

// robotsCache keeps one parsed robots.txt per scheme and host.
type robotsCache struct {
	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

func (r *robotsCache) allowed(ctx context.Context, c *Client, u *url.URL) (bool, error) {
	base := u.Scheme + "://" + u.Host

	r.mu.Lock()
	data, ok := r.hosts[base]
	r.mu.Unlock()

	if !ok {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
		if err != nil {
			return false, fmt.Errorf("failed to create robots request: %w", err)
		}
		resp, err := c.send(req)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// Unreachable robots.txt allows everything.
			resp = &Response{Status: http.StatusNotFound}
		}
		data, err = robotstxt.FromStatusAndBytes(resp.Status, resp.Body)
		if err != nil {
			data, _ = robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		}
		r.mu.Lock()
		r.hosts[base] = data
		r.mu.Unlock()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, c.userAgent), nil
}
