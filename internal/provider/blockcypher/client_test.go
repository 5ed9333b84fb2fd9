package blockcypher_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/provider/blockcypher"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

func TestBalance(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/eth/main/addrs/de0b295669a9fd93d5f28d9ec85e40f4cb697bae/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"address":"de0b295669a9fd93d5f28d9ec85e40f4cb697bae","balance":2000000000000000000,"unconfirmed_balance":0,"final_balance":2000000000000000000,"n_tx":42}`))
	}))
	t.Cleanup(srv.Close)

	client := blockcypher.New(upstream.New(blockcypher.Name, upstream.WithBaseURL(srv.URL)))

	b, err := client.Balance(t.Context(), "0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(2).Equal(b.Balance), b.Balance.String())
	require.Equal(t, "0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe", b.Address)
	require.Equal(t, blockcypher.Name, b.Provider)
	require.EqualValues(t, 42, b.Extra["n_tx"])
}

func TestBalance_Throttled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"Limits reached."}`))
	}))
	t.Cleanup(srv.Close)

	noRetry := upstream.WithPolicies()
	client := blockcypher.New(upstream.New(blockcypher.Name, upstream.WithBaseURL(srv.URL), noRetry))

	_, err := client.Balance(t.Context(), "0xabc")
	require.True(t, domain.IsThrottled(err))
}
