// Package etherscan fetches Ethereum balances and transactions from Etherscan.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

// Name is the provider id.
const Name = "etherscan"

// etherExp shifts a wei amount to ether.
const etherExp = -18

// Client is the Etherscan account adapter.
type Client struct {
	api            *upstream.Client
	callsPerMinute int
}

// New wraps an upstream client. callsPerMinute sizes the retry delay
// reported when Etherscan answers with its rate-limit message.
func New(api *upstream.Client, callsPerMinute int) *Client {
	if callsPerMinute <= 0 {
		callsPerMinute = 300
	}
	return &Client{api: api, callsPerMinute: callsPerMinute}
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// call performs an account-module request. Etherscan always answers 200
// and signals failure with status "0".
func (c *Client) call(ctx context.Context, action string, q url.Values) (json.RawMessage, error) {
	q.Set("module", "account")
	q.Set("action", action)

	var r response
	if err := c.api.GetJSON(ctx, "/api", q, &r); err != nil {
		return nil, err
	}
	if r.Status == "1" {
		return r.Result, nil
	}

	var detail string
	_ = json.Unmarshal(r.Result, &detail)
	lower := strings.ToLower(r.Message + " " + detail)
	switch {
	case strings.Contains(lower, "no transactions found"):
		return nil, nil
	case strings.Contains(lower, "rate limit"):
		return nil, &domain.TransientProviderError{
			Provider:   Name,
			Reason:     domain.ReasonThrottled,
			StatusCode: 200,
			RetryAfter: time.Minute / time.Duration(c.callsPerMinute),
			Err:        errors.New(detail),
		}
	default:
		return nil, &domain.PermanentProviderError{
			Provider:   Name,
			StatusCode: 200,
			Err:        fmt.Errorf("%s: %s", r.Message, detail),
		}
	}
}

// Balance returns the ether balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*domain.WalletBalance, error) {
	raw, err := c.call(ctx, "balance", url.Values{"address": {address}, "tag": {"latest"}})
	if err != nil {
		return nil, err
	}

	var wei string
	if err := json.Unmarshal(raw, &wei); err != nil {
		return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode balance: %w", err)}
	}
	balance, err := decimal.NewFromString(wei)
	if err != nil {
		return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode balance: %w", err)}
	}

	return &domain.WalletBalance{
		Address:    address,
		Balance:    balance.Shift(etherExp),
		Unit:       "ETH",
		Provider:   Name,
		ObservedAt: time.Now().UTC(),
	}, nil
}

type txRow struct {
	BlockNumber     upstream.Int64 `json:"blockNumber"`
	TimeStamp       string         `json:"timeStamp"`
	Hash            string         `json:"hash"`
	From            string         `json:"from"`
	To              string         `json:"to"`
	Value           string         `json:"value"`
	IsError         string         `json:"isError"`
	TxReceiptStatus string         `json:"txreceipt_status"`
}

// Transactions returns the most recent normal transactions of address,
// newest first.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]*domain.WalletTransaction, error) {
	q := url.Values{
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"sort":       {"desc"},
		"page":       {"1"},
	}
	if limit > 0 {
		q.Set("offset", strconv.Itoa(limit))
	}

	raw, err := c.call(ctx, "txlist", q)
	if err != nil || raw == nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode txlist: %w", err)}
	}

	out := make([]*domain.WalletTransaction, 0, len(rows))
	for _, item := range rows {
		var r txRow
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode tx: %w", err)}
		}
		value, err := decimal.NewFromString(r.Value)
		if err != nil {
			value = decimal.Zero
		}
		out = append(out, &domain.WalletTransaction{
			Address:     address,
			Hash:        r.Hash,
			From:        r.From,
			To:          r.To,
			Value:       value.Shift(etherExp),
			Direction:   domain.DirectionFor(address, r.From, r.To),
			BlockNumber: int64(r.BlockNumber),
			Success:     r.IsError != "1",
			Timestamp:   upstream.ParseTime(r.TimeStamp),
			Provider:    Name,
			Extra: upstream.Extras(item, "blockNumber", "timeStamp", "hash", "from", "to",
				"value", "isError", "txreceipt_status"),
		})
	}
	return out, nil
}
