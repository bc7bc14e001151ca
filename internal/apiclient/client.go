// Package apiclient is the single gateway to the commerce backend's /api/v1 REST surface.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/storefront/internal/cache"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// ErrTransport wraps failures where no HTTP response was received.
var ErrTransport = errors.New("apiclient: transport failure")

const (
	maxErrorBody = 1 << 16
	csrfCookie   = "csrftoken"
)

// HTTPClient matches the subset of http.Client used by Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Credentials is the per-visitor state a request carries to the backend.
// The backend keys anonymous carts on its own session cookie, so cookies are
// replayed on every call and Set-Cookie responses are handed back.
type Credentials interface {
	AccessToken() (string, bool)
	Cookies() []*http.Cookie
	StoreCookies([]*http.Cookie)
}

// Request describes one backend call.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/cart/items/12/".
	Path      string
	Query     url.Values
	Body      any
	Multipart *Multipart
	// Public requests never carry an Authorization header.
	Public  bool
	Session Credentials
	Header  http.Header
	// CacheKey enables the shared read-through cache. Only honoured for public GETs,
	// which are then sent without visitor cookies.
	CacheKey string
}

// Client talks to the backend. It never retries.
type Client struct {
	base   *url.URL
	http   HTTPClient
	logger *zap.Logger
	cache  cache.Store
	group  singleflight.Group
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. The default wraps http.DefaultTransport with otelhttp.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout sets an overall per-call timeout on the default client. Zero keeps the transport default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if hc, ok := c.http.(*http.Client); ok && timeout > 0 {
			hc.Timeout = timeout
		}
	}
}

// WithLogger sets the fallback logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCache enables the read-through cache for public GETs that set CacheKey.
func WithCache(store cache.Store) Option {
	return func(c *Client) {
		c.cache = store
	}
}

// New builds a Client for baseURL, e.g. http://localhost:8000/api/v1.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("apiclient: base URL %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	c := &Client{
		base: parsed,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "backend " + r.Method
				}),
			),
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do performs req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses yield *Error; network failures wrap ErrTransport.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if c.cacheable(req) {
		return c.doCached(ctx, req, out)
	}
	body, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Invalidate drops cached responses whose key starts with prefix.
func (c *Client) Invalidate(ctx context.Context, prefix string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.DeletePrefix(ctx, prefix); err != nil {
		c.log(ctx).Warn("apiclient: cache invalidation failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func (c *Client) cacheable(req Request) bool {
	return c.cache != nil && req.CacheKey != "" && req.Public && req.Method == http.MethodGet
}

func (c *Client) doCached(ctx context.Context, req Request, out any) error {
	if data, err := c.cache.Get(ctx, req.CacheKey); err == nil {
		return decode(data, out)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.log(ctx).Debug("apiclient: cache read failed", zap.String("key", req.CacheKey), zap.Error(err))
	}

	// The shared fetch outlives any one caller: a visitor who disconnects must
	// not fail everyone else waiting on the same key.
	req.Session = nil
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(req.CacheKey, func() (any, error) {
		body, err := c.roundTrip(shared, req)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(shared, req.CacheKey, body); err != nil {
			c.log(shared).Debug("apiclient: cache write failed", zap.String("key", req.CacheKey), zap.Error(err))
		}
		return body, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return decode(res.Val.([]byte), out)
	}
}

func (c *Client) roundTrip(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := c.log(ctx).With(
		zap.String("api_method", req.Method),
		zap.String("api_path", req.Path),
		zap.Bool("public", req.Public),
	)

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.Warn("apiclient: request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	if req.Session != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			req.Session.StoreCookies(cookies)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := errorFromResponse(resp)
		logger.Warn("apiclient: backend error", zap.Int("api_status", resp.StatusCode), zap.Duration("latency", time.Since(started)))
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, req.Path, err)
	}
	logger.Debug("apiclient: request completed", zap.Int("api_status", resp.StatusCode), zap.Duration("latency", time.Since(started)))
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.Multipart != nil:
		buf, ct, err := req.Multipart.encode()
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case req.Body != nil:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(req.Body); err != nil {
			return nil, fmt.Errorf("apiclient: encode payload: %w", err)
		}
		body, contentType = &buf, "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.resolve(req.Path, req.Query), body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	// A stale bearer on a public endpoint makes the backend answer 401, so it is never sent.
	httpReq.Header.Del("Authorization")
	if req.Session != nil {
		if !req.Public {
			if token, ok := req.Session.AccessToken(); ok && token != "" {
				httpReq.Header.Set("Authorization", "Bearer "+token)
			}
		}
		for _, cookie := range req.Session.Cookies() {
			httpReq.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
			if cookie.Name == csrfCookie && !safeMethod(req.Method) {
				httpReq.Header.Set("X-CSRFToken", cookie.Value)
			}
		}
	}
	return httpReq, nil
}

func (c *Client) resolve(endpoint string, query url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(endpoint, "/")}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return c.base.ResolveReference(ref).String()
}

func (c *Client) log(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	return c.logger
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
