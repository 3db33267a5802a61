package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/logger"
)

const (
	// DefaultBackoff is the delay before the first retry.
	DefaultBackoff = 500 * time.Millisecond

	// MaxBackoff caps the delay between retries, including Retry-After.
	MaxBackoff = 30 * time.Second

	userAgent = "trellis/1.0"
)

// Config configures a Client.
type Config struct {
	// Source is the source tag used in errors and logs.
	Source string

	BaseURL string
	Auth    Auth

	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Zero
	// uses domain.DefaultMaxRetries and a negative value disables retries.
	MaxRetries int

	RateLimit float64
	RateBurst int

	// Backoff is the initial retry delay. Zero uses DefaultBackoff.
	Backoff time.Duration

	// Transport overrides the base HTTP transport (tests).
	Transport http.RoundTripper
}

// ConfigFor builds a client configuration from a source's settings,
// filling unset limits with the defaults.
func ConfigFor(src domain.SourceConfig, defaultBaseURL string, auth Auth) Config {
	cfg := Config{
		Source:     src.Tag,
		BaseURL:    src.BaseURL,
		Auth:       auth,
		Timeout:    src.Timeout,
		MaxRetries: src.MaxRetries,
		RateLimit:  src.RateLimit,
		RateBurst:  src.RateBurst,
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return cfg
}

// Client is a rate-limited, retry-capable HTTP client for one source.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client, applying defaults to unset fields.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = domain.DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = domain.DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = domain.DefaultRateBurst
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Auth.transport(base),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Source returns the source tag the client was configured for.
func (c *Client) Source() string {
	return c.cfg.Source
}

// Request is one API call relative to the client's base URL.
type Request struct {
	Path  string
	Query url.Values
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// Retryable returns true for rate limiting and server errors.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Get performs a GET. op names the call in errors ("list commits").
func (c *Client) Get(ctx context.Context, op string, req *Request) (*Response, error) {
	var lastErr error
	attempts := c.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit wait: %w", op, err)
		}

		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) {
			return nil, classify(op, err)
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		delay := c.backoff(attempt, err)
		logger.Debug("retrying request", "source", c.cfg.Source, "op", op,
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &domain.SourceUnavailableError{
		Source:   c.cfg.Source,
		Op:       op,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (c *Client) doOnce(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) url(req *Request) string {
	full := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if req.Path != "" {
		full += "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		full += "?" + req.Query.Encode()
	}
	return full
}

// backoff doubles the delay each attempt and honours Retry-After.
func (c *Client) backoff(attempt int, err error) time.Duration {
	delay := Backoff(c.cfg.Backoff, attempt, MaxBackoff)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
		delay = httpErr.RetryAfter
	}
	return min(delay, MaxBackoff)
}

// Backoff returns base doubled once per attempt, capped at ceiling.
func Backoff(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// Count returns the number of items behind path: the X-Total header if
// present, else a numeric "total" in the body, else the length of the
// results array (top-level, or under resultsKey).
func (c *Client) Count(ctx context.Context, path string, query url.Values, resultsKey string) (int, error) {
	resp, err := c.Get(ctx, "count "+path, &Request{Path: path, Query: query})
	if err != nil {
		return 0, err
	}

	if total := resp.Header.Get("X-Total"); total != "" {
		if n, err := strconv.Atoi(total); err == nil {
			return n, nil
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &obj); err == nil {
		if raw, ok := obj["total"]; ok {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				return n, nil
			}
		}
	}

	items, err := Items(resp.Body, resultsKey)
	if err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", c.cfg.Source, path, err)
	}
	return len(items), nil
}

func isRetryable(err error) bool {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return Transient(err)
}

// Transient reports whether a transport error is worth retrying: timeouts,
// refused or reset connections and connections closed mid-response.
// Invalid URLs and TLS failures are permanent.
func Transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// classify maps non-retryable failures onto domain errors.
func classify(op string, err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrAuthInvalid, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
