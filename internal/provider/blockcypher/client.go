// Package blockcypher fetches Ethereum balances from BlockCypher.
package blockcypher

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

// Name is the provider id.
const Name = "blockcypher"

// Client is the BlockCypher address adapter.
type Client struct {
	api *upstream.Client
}

// New wraps an upstream client.
func New(api *upstream.Client) *Client {
	return &Client{api: api}
}

type balanceResponse struct {
	Address            string          `json:"address"`
	Balance            decimal.Decimal `json:"balance"`
	UnconfirmedBalance decimal.Decimal `json:"unconfirmed_balance"`
	FinalBalance       decimal.Decimal `json:"final_balance"`
	NTx                int64           `json:"n_tx"`
}

// Balance returns the confirmed ether balance of address. BlockCypher
// expects the address without its 0x prefix.
func (c *Client) Balance(ctx context.Context, address string) (*domain.WalletBalance, error) {
	bare := strings.TrimPrefix(strings.ToLower(address), "0x")

	var raw json.RawMessage
	if err := c.api.GetJSON(ctx, "/v1/eth/main/addrs/"+url.PathEscape(bare)+"/balance", nil, &raw); err != nil {
		return nil, err
	}
	var r balanceResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &domain.PermanentProviderError{Provider: Name, Err: err}
	}

	return &domain.WalletBalance{
		Address:    address,
		Balance:    r.Balance.Shift(-18),
		Unit:       "ETH",
		Provider:   Name,
		ObservedAt: time.Now().UTC(),
		Extra:      upstream.Extras(raw, "address", "balance"),
	}, nil
}
