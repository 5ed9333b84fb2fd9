// Package finnhub fetches quotes from Finnhub.
package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

// Name is the provider id.
const Name = "finnhub"

// Client is the Finnhub quote adapter. The API key travels as the token
// query parameter, configured on the upstream client.
type Client struct {
	api *upstream.Client
}

// New wraps an upstream client.
func New(api *upstream.Client) *Client {
	return &Client{api: api}
}

type quoteResponse struct {
	Current       decimal.Decimal `json:"c"`
	Change        decimal.Decimal `json:"d"`
	ChangePercent decimal.Decimal `json:"dp"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Open          decimal.Decimal `json:"o"`
	PreviousClose decimal.Decimal `json:"pc"`
	Timestamp     int64           `json:"t"`
}

// Quote returns the latest quote for ticker. Finnhub answers unknown
// symbols with an all-zero body, which is reported as not found.
func (c *Client) Quote(ctx context.Context, ticker string) (*domain.Quote, error) {
	var r quoteResponse
	if err := c.api.GetJSON(ctx, "/quote", url.Values{"symbol": {ticker}}, &r); err != nil {
		return nil, err
	}
	if r.Current.IsZero() && r.Timestamp == 0 {
		return nil, &domain.PermanentProviderError{
			Provider: Name,
			Err:      fmt.Errorf("quote %s: %w", ticker, domain.ErrNotFound),
		}
	}

	quotedAt := time.Now().UTC()
	if r.Timestamp > 0 {
		quotedAt = time.Unix(r.Timestamp, 0).UTC()
	}
	return &domain.Quote{
		Ticker:        ticker,
		Price:         r.Current,
		Change:        r.Change,
		ChangePercent: r.ChangePercent,
		Open:          r.Open,
		High:          r.High,
		Low:           r.Low,
		PreviousClose: r.PreviousClose,
		Source:        Name,
		QuotedAt:      quotedAt,
	}, nil
}
