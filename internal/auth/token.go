// Package auth supplies bearer tokens for authenticated upstream calls.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TokenSupplier returns the bearer token for the next upstream call.
// Implementations return domain.ErrNoToken when no token is available.
type TokenSupplier interface {
	Token(ctx context.Context) (string, error)
}

// New picks a supplier from configuration. A static token wins over the
// client-credentials endpoint; with neither, every call yields ErrNoToken.
func New(cfg domain.AuthConfig, opts ...ClientCredentialsOption) TokenSupplier {
	switch {
	case cfg.Token != "":
		return Static(cfg.Token)
	case cfg.TokenURL != "":
		return NewClientCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, opts...)
	default:
		return Static("")
	}
}

// Static is a fixed token.
type Static string

// Token implements TokenSupplier.
func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", domain.ErrNoToken
	}
	return string(s), nil
}

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientCredentials exchanges a client id and secret for an access token
// and caches it until shortly before it expires.
type ClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	httpClient   HTTPClient
	skew         time.Duration
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// ClientCredentialsOption configures a ClientCredentials supplier.
type ClientCredentialsOption func(*ClientCredentials)

// WithHTTPClient sets the HTTP client used for the token endpoint.
func WithHTTPClient(c HTTPClient) ClientCredentialsOption {
	return func(cc *ClientCredentials) { cc.httpClient = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ClientCredentialsOption {
	return func(cc *ClientCredentials) { cc.now = now }
}

// NewClientCredentials creates a supplier for a token endpoint.
func NewClientCredentials(tokenURL, clientID, clientSecret, scope string, opts ...ClientCredentialsOption) *ClientCredentials {
	cc := &ClientCredentials{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		skew:         30 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token implements TokenSupplier.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	if c.scope != "" {
		form.Set("scope", c.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", domain.ErrNoToken, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token endpoint returned an empty access_token", domain.ErrNoToken)
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	if ttl > c.skew {
		ttl -= c.skew
	}
	c.token = tr.AccessToken
	c.expires = c.now().Add(ttl)
	return c.token, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (c *ClientCredentials) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
