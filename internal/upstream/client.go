// Package upstream is the shared HTTP plumbing of every market-data provider.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ratelimit"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=upstream_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues rate-limited, retried JSON requests to one provider.
type Client struct {
	// name is the provider id used in errors, logs and limiter lookups.
	name string
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values

	tokens   auth.TokenSupplier
	limiter  *ratelimit.Limiter
	policies []retry.Policy
	logger   *slog.Logger
}

// Option is a configuration option for Client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout replaces the HTTP client with one using the given timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithQuery adds a query parameter to every request, e.g. an API key.
func WithQuery(key, value string) Option {
	return func(c *Client) {
		c.query.Set(key, value)
	}
}

// WithTokenSupplier authenticates every request with a bearer token.
func WithTokenSupplier(s auth.TokenSupplier) Option {
	return func(c *Client) {
		c.tokens = s
	}
}

// WithLimiter gates every attempt on the limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithPolicies replaces the retry policies.
func WithPolicies(policies ...retry.Policy) Option {
	return func(c *Client) {
		c.policies = policies
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the named provider. By default requests retry
// with the overload policy and a 60 calls/minute throttle policy.
func New(name string, options ...Option) *Client {
	c := &Client{
		name:       name,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		header:     http.Header{},
		query:      url.Values{},
		policies:   []retry.Policy{retry.Overload(), retry.Throttle(60)},
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Name returns the provider id.
func (c *Client) Name() string { return c.name }

// GetJSON performs GET baseURL+path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	var gate retry.Gate
	if c.limiter != nil {
		gate = c.limiter.Acquire
	}

	start := time.Now()
	_, err := retry.Do(ctx, gate, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.getOnce(ctx, path, query, out)
	}, c.policies...)

	if err != nil {
		c.logger.Debug("upstream request failed",
			"provider", c.name,
			"path", path,
			"attempts", retry.Attempts(err),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return fmt.Errorf("%s GET %s: %w", c.name, path, err)
	}

	c.logger.Debug("upstream request",
		"provider", c.name,
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return &domain.PermanentProviderError{Provider: c.name, Err: fmt.Errorf("build url: %w", err)}
	}
	q := u.Query()
	for k, vs := range c.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &domain.PermanentProviderError{Provider: c.name, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &domain.PermanentProviderError{Provider: c.name, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if err := c.classify(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.PermanentProviderError{Provider: c.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy.
func (c *Client) classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	detail := errors.New(msg)

	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		return &domain.TransientProviderError{
			Provider:   c.name,
			Reason:     domain.ReasonUnavailable,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        detail,
		}
	case http.StatusTooManyRequests:
		return &domain.TransientProviderError{
			Provider:   c.name,
			Reason:     domain.ReasonThrottled,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        detail,
		}
	case http.StatusNotFound:
		return &domain.PermanentProviderError{Provider: c.name, StatusCode: resp.StatusCode, Err: domain.ErrNotFound}
	default:
		return &domain.PermanentProviderError{Provider: c.name, StatusCode: resp.StatusCode, Err: detail}
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
