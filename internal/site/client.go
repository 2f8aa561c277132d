package site

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// Response captures one observed exchange with the deployment, including how
// long the round trip took and where redirects finally landed.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	FinalURL   string
	Truncated  bool
}

func (r *Response) Header(name string) string {
	if r == nil {
		return ""
	}
	return r.Headers.Get(name)
}

func (r *Response) IsHTML() bool {
	if r == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header("Content-Type")), "text/html")
}

// Client issues timed requests against a deployed site. All URL-dependent
// suites go through it so latency measurement and body capping are uniform.
type Client struct {
	baseURL   string
	userAgent string
	maxBody   int64
	client    *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "deploycheck/1.0"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		maxBody:   maxBody,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches a site-relative path such as "/" or "/robots.txt".
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.resolve(path), nil)
}

// GetURL fetches an absolute URL. Used by the link audit, which follows
// anchors extracted from served pages.
func (c *Client) GetURL(ctx context.Context, rawURL string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil)
}

func (c *Client) Head(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodHead, c.resolve(path), nil)
}

func (c *Client) GetWithHeaders(ctx context.Context, path string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.resolve(path), headers)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if readErr != nil {
		return nil, fmt.Errorf("read response body %s: %w", url, readErr)
	}
	truncated := false
	if int64(len(body)) > c.maxBody {
		body = body[:c.maxBody]
		truncated = true
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Duration:   duration,
		FinalURL:   finalURL,
		Truncated:  truncated,
	}, nil
}
