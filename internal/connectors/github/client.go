package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/trellis/internal/connectors/rest"
	"github.com/custodia-labs/trellis/internal/core/domain"
	"github.com/custodia-labs/trellis/internal/core/ports/driven"
	"github.com/custodia-labs/trellis/internal/logger"
)

const (
	// PerPage is the page size requested from listings.
	PerPage = 100

	// RetryDelay is the initial delay between retries.
	RetryDelay = time.Second

	// MaxRetryDelay caps the delay between retries.
	MaxRetryDelay = 30 * time.Second
)

// Client wraps the go-github client with rate limiting and retries.
type Client struct {
	source        string
	baseURL       string
	timeout       time.Duration
	maxRetries    int
	retryDelay    time.Duration
	tokenProvider driven.TokenProvider
	quota         *quota

	mu sync.Mutex
	gh *gh.Client
}

// NewClient creates a GitHub API client for a configured source.
func NewClient(cfg domain.SourceConfig, tokenProvider driven.TokenProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &Client{
		source:        cfg.Tag,
		baseURL:       cfg.BaseURL,
		timeout:       timeout,
		maxRetries:    max(maxRetries, 0),
		retryDelay:    RetryDelay,
		tokenProvider: tokenProvider,
		quota:         newQuota(cfg.RateLimit, cfg.RateBurst),
	}
}

// ensureClient initializes the go-github client if not already done.
// This is called lazily so we can get the token when needed.
func (c *Client) ensureClient(ctx context.Context) (*gh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gh != nil {
		return c.gh, nil
	}

	httpClient := &http.Client{Timeout: c.timeout}
	if c.tokenProvider != nil && c.tokenProvider.IsAuthenticated() {
		token, err := c.tokenProvider.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = c.timeout
	}

	client := gh.NewClient(httpClient)
	if c.baseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("github: base_url: %w", err)
		}
		client = enterprise
	}
	c.gh = client
	return client, nil
}

// GetRepository fetches a single repository.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	var repository *gh.Repository
	err = c.withRetry(ctx, "get repo", func() (*gh.Response, error) {
		r, resp, err := client.Repositories.Get(ctx, owner, repo)
		repository = r
		return resp, err
	})
	return repository, err
}

// Page is one page of a raw listing.
type Page struct {
	Items    []json.RawMessage
	NextPage int
	LastPage int
}

// ListPage fetches one page of path (relative to the API root) and keeps
// every item's JSON as returned.
func (c *Client) ListPage(ctx context.Context, op, path string, query url.Values, page, perPage int) (*Page, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("per_page", strconv.Itoa(perPage))
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	req, err := client.NewRequest(http.MethodGet, path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("github: %s: %w", op, err)
	}

	out := &Page{}
	err = c.withRetry(ctx, op, func() (*gh.Response, error) {
		var items []json.RawMessage
		resp, err := client.Do(ctx, req, &items)
		out.Items = items
		if resp != nil {
			out.NextPage, out.LastPage = resp.NextPage, resp.LastPage
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withRetry paces every attempt and retries transient failures with
// exponential backoff. A quota that resets further away than MaxRetryDelay
// is not waited for: the call fails with a SourceUnavailableError.
func (c *Client) withRetry(ctx context.Context, op string, call func() (*gh.Response, error)) error {
	attempts := c.maxRetries + 1
	made := 0
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.quota.wait(ctx, MaxRetryDelay); err != nil {
			var rlErr *RateLimitError
			if errors.As(err, &rlErr) {
				lastErr = err
				break
			}
			return fmt.Errorf("rate limit wait: %w", err)
		}

		made++
		resp, err := call()
		if resp != nil {
			c.quota.observe(resp.Response)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = wrapError(err)
		if !isRetryable(err) {
			return classify(op, err)
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		delay, ok := c.backoff(attempt, err)
		if !ok {
			break
		}
		logger.Debug("retrying github request", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &domain.SourceUnavailableError{
		Source:   c.source,
		Op:       op,
		Attempts: made,
		Err:      lastErr,
	}
}

// backoff returns the delay before the retry following attempt. A rate
// limit extends it to the quota reset; false means the reset is too far off.
func (c *Client) backoff(attempt int, err error) (time.Duration, bool) {
	delay := rest.Backoff(c.retryDelay, attempt, MaxRetryDelay)
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		until := time.Until(rlErr.ResetAt)
		if until > MaxRetryDelay {
			return 0, false
		}
		delay = max(delay, until)
	}
	return delay, true
}
