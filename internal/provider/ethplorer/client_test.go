package ethplorer_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/provider/ethplorer"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

const wallet = "0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"

func newClient(t *testing.T, body string) *ethplorer.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getAddressTransactions/"+wallet, r.URL.Path)
		assert.Equal(t, "freekey", r.URL.Query().Get("apiKey"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return ethplorer.New(upstream.New(ethplorer.Name,
		upstream.WithBaseURL(srv.URL),
		upstream.WithQuery("apiKey", "freekey"),
		upstream.WithPolicies(),
	))
}

func TestTransactions(t *testing.T) {
	t.Parallel()

	client := newClient(t, `[
		{"timestamp":1718000000,"from":"0x2222","to":"`+wallet+`","hash":"0xccc","value":0.75,"input":"0x","success":true},
		{"timestamp":1717000000,"from":"`+wallet+`","to":"`+wallet+`","hash":"0xddd","value":0,"success":false}
	]`)

	txs, err := client.Transactions(t.Context(), wallet, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, domain.DirectionIn, txs[0].Direction)
	require.True(t, decimal.RequireFromString("0.75").Equal(txs[0].Value))
	require.Equal(t, "0x", txs[0].Extra["input"])
	require.Equal(t, domain.DirectionSelf, txs[1].Direction)
	require.False(t, txs[1].Success)
}

func TestTransactions_ErrorObject(t *testing.T) {
	t.Parallel()

	client := newClient(t, `{"error":{"code":104,"message":"Invalid address format"}}`)
	_, err := client.Transactions(t.Context(), wallet, 2)
	var perm *domain.PermanentProviderError
	require.ErrorAs(t, err, &perm)

	client = newClient(t, `{"error":{"code":133,"message":"Request limit exceeded"}}`)
	_, err = client.Transactions(t.Context(), wallet, 2)
	require.True(t, domain.IsThrottled(err))
}
