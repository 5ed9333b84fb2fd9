package finnhub_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/provider/finnhub"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

func newClient(t *testing.T, body string) *finnhub.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return finnhub.New(upstream.New(finnhub.Name,
		upstream.WithBaseURL(srv.URL),
		upstream.WithQuery("token", "secret"),
	))
}

func TestQuote(t *testing.T) {
	t.Parallel()

	client := newClient(t, `{"c":134.38,"d":-1.02,"dp":-0.7533,"h":136.1,"l":133.6,"o":135.5,"pc":135.4,"t":1750449600}`)

	q, err := client.Quote(t.Context(), "NVDA")
	require.NoError(t, err)
	require.Equal(t, "NVDA", q.Ticker)
	require.True(t, decimal.RequireFromString("134.38").Equal(q.Price))
	require.True(t, decimal.RequireFromString("-1.02").Equal(q.Change))
	require.Equal(t, finnhub.Name, q.Source)
	require.Equal(t, time.Unix(1750449600, 0).UTC(), q.QuotedAt)
}

func TestQuote_UnknownSymbol(t *testing.T) {
	t.Parallel()

	client := newClient(t, `{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`)

	_, err := client.Quote(t.Context(), "ZZZZ")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.False(t, domain.IsTransient(err))
}
