// Package ethplorer fetches Ethereum transactions from Ethplorer.
package ethplorer

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
const Name = "ethplorer"

// Client is the Ethplorer address adapter. The API key ("freekey" on the
// public tier) travels as the apiKey query parameter.
type Client struct {
	api *upstream.Client
}

// New wraps an upstream client.
func New(api *upstream.Client) *Client {
	return &Client{api: api}
}

type apiError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type txRow struct {
	Timestamp int64           `json:"timestamp"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Hash      string          `json:"hash"`
	Value     decimal.Decimal `json:"value"`
	Success   *bool           `json:"success"`
}

// Transactions returns recent transactions of address, newest first.
// Values are already denominated in ether.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]*domain.WalletTransaction, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var raw json.RawMessage
	if err := c.api.GetJSON(ctx, "/getAddressTransactions/"+url.PathEscape(address), q, &raw); err != nil {
		return nil, err
	}

	// Errors come back as an object, results as an array.
	var ae apiError
	if err := json.Unmarshal(raw, &ae); err == nil && ae.Error != nil {
		msg := ae.Error.Message
		if strings.Contains(strings.ToLower(msg), "limit") {
			return nil, &domain.TransientProviderError{
				Provider: Name,
				Reason:   domain.ReasonThrottled,
				Err:      errors.New(msg),
			}
		}
		return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("code %d: %s", ae.Error.Code, msg)}
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode transactions: %w", err)}
	}

	out := make([]*domain.WalletTransaction, 0, len(rows))
	for _, item := range rows {
		var r txRow
		if err := json.Unmarshal(item, &r); err != nil {
			return nil, &domain.PermanentProviderError{Provider: Name, Err: fmt.Errorf("decode tx: %w", err)}
		}
		out = append(out, &domain.WalletTransaction{
			Address:   address,
			Hash:      r.Hash,
			From:      r.From,
			To:        r.To,
			Value:     r.Value,
			Direction: domain.DirectionFor(address, r.From, r.To),
			Success:   r.Success == nil || *r.Success,
			Timestamp: time.Unix(r.Timestamp, 0).UTC(),
			Provider:  Name,
			Extra:     upstream.Extras(item, "timestamp", "from", "to", "hash", "value", "success"),
		})
	}
	return out, nil
}
