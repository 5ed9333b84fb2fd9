// Package alphavantage fetches quotes from Alpha Vantage.
package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

// Name is the provider id.
const Name = "alphavantage"

// Client is the Alpha Vantage quote adapter.
type Client struct {
	api            *upstream.Client
	callsPerMinute int
}

// New wraps an upstream client. callsPerMinute sizes the retry delay
// reported when the free tier answers with a rate-limit note.
func New(api *upstream.Client, callsPerMinute int) *Client {
	if callsPerMinute <= 0 {
		callsPerMinute = 5
	}
	return &Client{api: api, callsPerMinute: callsPerMinute}
}

type globalQuoteResponse struct {
	Quote       map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
	Information string            `json:"Information"`
	Error       string            `json:"Error Message"`
}

// Quote returns the latest daily quote for ticker.
func (c *Client) Quote(ctx context.Context, ticker string) (*domain.Quote, error) {
	var r globalQuoteResponse
	query := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {ticker}}
	if err := c.api.GetJSON(ctx, "/query", query, &r); err != nil {
		return nil, err
	}

	// Alpha Vantage reports throttling and bad requests with HTTP 200.
	if msg := firstNonEmpty(r.Note, r.Information); msg != "" {
		return nil, &domain.TransientProviderError{
			Provider:   Name,
			Reason:     domain.ReasonThrottled,
			StatusCode: 200,
			RetryAfter: time.Minute / time.Duration(c.callsPerMinute),
			Err:        errors.New(msg),
		}
	}
	if r.Error != "" {
		return nil, &domain.PermanentProviderError{Provider: Name, StatusCode: 200, Err: errors.New(r.Error)}
	}
	if len(r.Quote) == 0 || r.Quote["05. price"] == "" {
		return nil, &domain.PermanentProviderError{
			Provider: Name,
			Err:      fmt.Errorf("quote %s: %w", ticker, domain.ErrNotFound),
		}
	}

	q := &domain.Quote{
		Ticker:        ticker,
		Price:         field(r.Quote, "05. price"),
		Change:        field(r.Quote, "09. change"),
		ChangePercent: field(r.Quote, "10. change percent"),
		Open:          field(r.Quote, "02. open"),
		High:          field(r.Quote, "03. high"),
		Low:           field(r.Quote, "04. low"),
		PreviousClose: field(r.Quote, "08. previous close"),
		Source:        Name,
		QuotedAt:      upstream.ParseTime(r.Quote["07. latest trading day"]),
	}
	if q.QuotedAt.IsZero() {
		q.QuotedAt = time.Now().UTC()
	}
	if v := r.Quote["06. volume"]; v != "" {
		q.Extra = domain.Extension{"volume": v}
	}
	return q, nil
}

func field(m map[string]string, key string) decimal.Decimal {
	s := strings.TrimSuffix(strings.TrimSpace(m[key]), "%")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
