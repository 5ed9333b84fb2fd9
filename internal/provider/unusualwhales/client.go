// Package unusualwhales adapts the Unusual Whales API to domain records.
package unusualwhales

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

// Name is the provider id.
const Name = "unusualwhales"

// Client fetches ticker activity. Every call goes through the shared
// upstream client, which carries the bearer token, rate limiter and
// retry policies.
type Client struct {
	api *upstream.Client
}

// New wraps an upstream client.
func New(api *upstream.Client) *Client {
	return &Client{api: api}
}

type envelope struct {
	Data []json.RawMessage `json:"data"`
}

func (c *Client) list(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	var env envelope
	if err := c.api.GetJSON(ctx, path, query, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func limitQuery(q url.Values, limit int) url.Values {
	if q == nil {
		q = url.Values{}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

type ownershipRow struct {
	Name        string          `json:"name"`
	Units       upstream.Int64  `json:"units"`
	UnitsChange upstream.Int64  `json:"units_change"`
	Value       decimal.Decimal `json:"value"`
	ReportDate  string          `json:"report_date"`
}

// Ownership returns institutional positions in ticker, in provider order
// (largest holders first).
func (c *Client) Ownership(ctx context.Context, ticker string, limit int) ([]*domain.OwnershipPosition, error) {
	rows, err := c.list(ctx, "/api/institution/"+url.PathEscape(ticker)+"/ownership", limitQuery(nil, limit))
	if err != nil {
		return nil, err
	}

	out := make([]*domain.OwnershipPosition, 0, len(rows))
	for _, raw := range rows {
		var r ownershipRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		if r.Name == "" {
			continue
		}
		out = append(out, &domain.OwnershipPosition{
			Ticker:      ticker,
			Institution: r.Name,
			Units:       int64(r.Units),
			UnitsChange: int64(r.UnitsChange),
			Value:       r.Value,
			ReportDate:  upstream.ParseTime(r.ReportDate),
			Extra:       upstream.Extras(raw, "name", "units", "units_change", "value", "report_date"),
		})
	}
	return out, nil
}

type activityRow struct {
	Ticker      string          `json:"ticker"`
	Units       upstream.Int64  `json:"units"`
	UnitsChange upstream.Int64  `json:"units_change"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	ReportDate  string          `json:"report_date"`
}

// InstitutionActivity returns the holding changes of one institution,
// filtered to ticker.
func (c *Client) InstitutionActivity(ctx context.Context, institution, ticker string) ([]*domain.InstitutionalTrade, error) {
	rows, err := c.list(ctx, "/api/institution/"+url.PathEscape(institution)+"/activity", url.Values{"ticker": {ticker}})
	if err != nil {
		return nil, err
	}

	var out []*domain.InstitutionalTrade
	for _, raw := range rows {
		var r activityRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		if !strings.EqualFold(r.Ticker, ticker) || r.UnitsChange == 0 {
			continue
		}
		side := domain.SideBuy
		if r.UnitsChange < 0 {
			side = domain.SideSell
		}
		out = append(out, &domain.InstitutionalTrade{
			Ticker:      ticker,
			Institution: institution,
			Side:        side,
			Units:       int64(r.Units),
			UnitsChange: int64(r.UnitsChange),
			AvgPrice:    r.AvgPrice,
			ReportDate:  upstream.ParseTime(r.ReportDate),
			Extra:       upstream.Extras(raw, "ticker", "units", "units_change", "avg_price", "report_date"),
		})
	}
	return out, nil
}

type insiderRow struct {
	ID              string          `json:"id"`
	OwnerName       string          `json:"owner_name"`
	OfficerTitle    string          `json:"officer_title"`
	TransactionCode string          `json:"transaction_code"`
	Amount          upstream.Int64  `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	TransactionDate string          `json:"transaction_date"`
	FilingDate      string          `json:"filing_date"`
}

// InsiderTrades returns recent insider filings for ticker.
func (c *Client) InsiderTrades(ctx context.Context, ticker string, limit int) ([]*domain.InsiderTrade, error) {
	rows, err := c.list(ctx, "/api/insider/transactions", limitQuery(url.Values{"ticker_symbol": {ticker}}, limit))
	if err != nil {
		return nil, err
	}

	out := make([]*domain.InsiderTrade, 0, len(rows))
	for _, raw := range rows {
		var r insiderRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		shares := int64(r.Amount)
		out = append(out, &domain.InsiderTrade{
			ID:              r.ID,
			Ticker:          ticker,
			Insider:         r.OwnerName,
			Title:           r.OfficerTitle,
			TransactionCode: r.TransactionCode,
			Side:            insiderSide(r.TransactionCode, shares),
			Shares:          abs(shares),
			Price:           r.Price,
			TradedAt:        upstream.ParseTime(r.TransactionDate),
			FiledAt:         upstream.ParseTime(r.FilingDate),
			Extra:           upstream.Extras(raw, "id", "owner_name", "officer_title", "transaction_code", "amount", "price", "transaction_date", "filing_date"),
		})
	}
	return out, nil
}

// insiderSide maps SEC Form 4 codes: P is an open-market purchase, S a sale.
// Other codes fall back to the sign of the share amount.
func insiderSide(code string, shares int64) domain.Side {
	switch strings.ToUpper(code) {
	case "P":
		return domain.SideBuy
	case "S":
		return domain.SideSell
	}
	if shares < 0 {
		return domain.SideSell
	}
	return domain.SideBuy
}

type congressRow struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Reporter        string `json:"reporter"`
	MemberType      string `json:"member_type"`
	TxnType         string `json:"txn_type"`
	Amounts         string `json:"amounts"`
	TransactionDate string `json:"transaction_date"`
	FiledAtDate     string `json:"filed_at_date"`
}

// CongressTrades returns disclosed congressional trades in ticker.
func (c *Client) CongressTrades(ctx context.Context, ticker string, limit int) ([]*domain.CongressTrade, error) {
	rows, err := c.list(ctx, "/api/congress/recent-trades", limitQuery(url.Values{"ticker": {ticker}}, limit))
	if err != nil {
		return nil, err
	}

	out := make([]*domain.CongressTrade, 0, len(rows))
	for _, raw := range rows {
		var r congressRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		member := r.Name
		if member == "" {
			member = r.Reporter
		}
		side := domain.SideBuy
		if strings.Contains(strings.ToLower(r.TxnType), "sell") || strings.Contains(strings.ToLower(r.TxnType), "sale") {
			side = domain.SideSell
		}
		out = append(out, &domain.CongressTrade{
			ID:          r.ID,
			Ticker:      ticker,
			Member:      member,
			Chamber:     r.MemberType,
			Side:        side,
			AmountRange: r.Amounts,
			TradedAt:    upstream.ParseTime(r.TransactionDate),
			FiledAt:     upstream.ParseTime(r.FiledAtDate),
			Extra:       upstream.Extras(raw, "id", "name", "reporter", "member_type", "txn_type", "amounts", "transaction_date", "filed_at_date"),
		})
	}
	return out, nil
}

type flowRow struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Strike       decimal.Decimal `json:"strike"`
	Expiry       string          `json:"expiry"`
	TotalPremium decimal.Decimal `json:"total_premium"`
	TotalSize    upstream.Int64  `json:"total_size"`
	CreatedAt    string          `json:"created_at"`
}

// OptionsFlow returns recent flow alerts for ticker.
func (c *Client) OptionsFlow(ctx context.Context, ticker string, limit int) ([]*domain.OptionsFlow, error) {
	rows, err := c.list(ctx, "/api/option-trades/flow-alerts", limitQuery(url.Values{"ticker_symbol": {ticker}}, limit))
	if err != nil {
		return nil, err
	}

	out := make([]*domain.OptionsFlow, 0, len(rows))
	for _, raw := range rows {
		var r flowRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		optType := domain.OptionCall
		if strings.EqualFold(r.Type, "put") {
			optType = domain.OptionPut
		}
		out = append(out, &domain.OptionsFlow{
			ID:         r.ID,
			Ticker:     ticker,
			OptionType: optType,
			Strike:     r.Strike,
			Expiry:     upstream.ParseTime(r.Expiry),
			Premium:    r.TotalPremium,
			Size:       int64(r.TotalSize),
			ExecutedAt: upstream.ParseTime(r.CreatedAt),
			Extra:      upstream.Extras(raw, "id", "type", "strike", "expiry", "total_premium", "total_size", "created_at"),
		})
	}
	return out, nil
}

type darkPoolRow struct {
	TrackingID upstream.Int64  `json:"tracking_id"`
	Price      decimal.Decimal `json:"price"`
	Size       upstream.Int64  `json:"size"`
	ExecutedAt string          `json:"executed_at"`
}

// DarkPool returns recent off-exchange prints for ticker.
func (c *Client) DarkPool(ctx context.Context, ticker string, limit int) ([]*domain.DarkPoolPrint, error) {
	rows, err := c.list(ctx, "/api/darkpool/"+url.PathEscape(ticker), limitQuery(nil, limit))
	if err != nil {
		return nil, err
	}

	out := make([]*domain.DarkPoolPrint, 0, len(rows))
	for _, raw := range rows {
		var r darkPoolRow
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, decodeErr(err)
		}
		id := ""
		if r.TrackingID != 0 {
			id = strconv.FormatInt(int64(r.TrackingID), 10)
		}
		out = append(out, &domain.DarkPoolPrint{
			ID:         id,
			Ticker:     ticker,
			Price:      r.Price,
			Size:       int64(r.Size),
			ExecutedAt: upstream.ParseTime(r.ExecutedAt),
			Extra:      upstream.Extras(raw, "tracking_id", "price", "size", "executed_at", "ticker"),
		})
	}
	return out, nil
}

func decodeErr(err error) error {
	return &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode row: %w", err)}
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
