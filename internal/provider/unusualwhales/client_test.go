package unusualwhales_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/provider/unusualwhales"
	"github.com/opensource-finance/kestrel/internal/upstream"
)

func newClient(t *testing.T, routes map[string]string) *unusualwhales.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer uw-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	api := upstream.New(unusualwhales.Name,
		upstream.WithBaseURL(srv.URL),
		upstream.WithTokenSupplier(auth.Static("uw-token")),
	)
	return unusualwhales.New(api)
}

func TestOwnership(t *testing.T) {
	t.Parallel()

	// Arrange: two holders, largest first
	client := newClient(t, map[string]string{
		"/api/institution/NVDA/ownership": `{"data":[
			{"name":"VANGUARD GROUP INC","units":"2100000000","units_change":1200,"value":"251000000000.50","report_date":"2025-03-31","filing_date":"2025-05-14"},
			{"name":"BLACKROCK INC","units":1800000000,"units_change":-300,"value":210000000000,"report_date":"2025-03-31"}
		]}`,
	})

	// Act
	positions, err := client.Ownership(t.Context(), "NVDA", 10)

	// Assert
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, "VANGUARD GROUP INC", positions[0].Institution)
	require.Equal(t, int64(2100000000), positions[0].Units)
	require.True(t, decimal.RequireFromString("251000000000.50").Equal(positions[0].Value))
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), positions[0].ReportDate)
	require.Equal(t, "2025-05-14", positions[0].Extra["filing_date"])
	require.Nil(t, positions[1].Extra)
}

func TestInstitutionActivityFiltersTicker(t *testing.T) {
	t.Parallel()

	client := newClient(t, map[string]string{
		"/api/institution/VANGUARD GROUP INC/activity": `{"data":[
			{"ticker":"NVDA","units":100,"units_change":40,"avg_price":"120.10","report_date":"2025-03-31"},
			{"ticker":"AAPL","units":900,"units_change":10,"avg_price":"190","report_date":"2025-03-31"},
			{"ticker":"NVDA","units":60,"units_change":-40,"avg_price":"118","report_date":"2024-12-31"},
			{"ticker":"NVDA","units":60,"units_change":0,"avg_price":"118","report_date":"2024-09-30"}
		]}`,
	})

	trades, err := client.InstitutionActivity(t.Context(), "VANGUARD GROUP INC", "NVDA")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, domain.SideBuy, trades[0].Side)
	require.Equal(t, domain.SideSell, trades[1].Side)
	require.Equal(t, "VANGUARD GROUP INC", trades[1].Institution)
}

func TestInsiderTrades(t *testing.T) {
	t.Parallel()

	client := newClient(t, map[string]string{
		"/api/insider/transactions": `{"data":[
			{"id":"a1","owner_name":"HUANG JEN HSUN","officer_title":"CEO","transaction_code":"S","amount":-50000,"price":"135.2","transaction_date":"2025-06-20","filing_date":"2025-06-23"},
			{"id":"a2","owner_name":"STEVENS MARK","transaction_code":"P","amount":1000,"price":"101","transaction_date":"2025-06-18"}
		]}`,
	})

	trades, err := client.InsiderTrades(t.Context(), "NVDA", 50)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, domain.SideSell, trades[0].Side)
	require.Equal(t, int64(50000), trades[0].Shares)
	require.Equal(t, "a1", trades[0].NaturalKey())
	require.Equal(t, domain.SideBuy, trades[1].Side)
}

func TestCongressTrades(t *testing.T) {
	t.Parallel()

	client := newClient(t, map[string]string{
		"/api/congress/recent-trades": `{"data":[
			{"reporter":"Nancy Pelosi","member_type":"house","txn_type":"Buy","amounts":"$1,000,001 - $5,000,000","transaction_date":"2025-01-14","filed_at_date":"2025-01-17"},
			{"name":"Ro Khanna","member_type":"house","txn_type":"Sell (Partial)","amounts":"$1,001 - $15,000","transaction_date":"2025-01-10"}
		]}`,
	})

	trades, err := client.CongressTrades(t.Context(), "NVDA", 50)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "Nancy Pelosi", trades[0].Member)
	require.Equal(t, domain.SideBuy, trades[0].Side)
	require.Equal(t, domain.SideSell, trades[1].Side)
}

func TestOptionsFlowAndDarkPool(t *testing.T) {
	t.Parallel()

	client := newClient(t, map[string]string{
		"/api/option-trades/flow-alerts": `{"data":[
			{"id":"f1","type":"call","strike":"150","expiry":"2025-09-19","total_premium":"1250000","total_size":500,"created_at":"2025-06-20T14:31:00Z","has_sweep":true},
			{"id":"f2","type":"put","strike":"120","expiry":"2025-09-19","total_premium":"400000","total_size":300,"created_at":"2025-06-20T14:35:00Z"}
		]}`,
		"/api/darkpool/NVDA": `{"data":[
			{"tracking_id":7781,"price":"134.98","size":250000,"executed_at":"2025-06-20T15:00:01Z","ticker":"NVDA","market_center":"L"}
		]}`,
	})

	flow, err := client.OptionsFlow(t.Context(), "NVDA", 50)
	require.NoError(t, err)
	require.Len(t, flow, 2)
	require.Equal(t, domain.OptionCall, flow[0].OptionType)
	require.Equal(t, domain.OptionPut, flow[1].OptionType)
	require.Equal(t, true, flow[0].Extra["has_sweep"])

	prints, err := client.DarkPool(t.Context(), "NVDA", 50)
	require.NoError(t, err)
	require.Len(t, prints, 1)
	require.Equal(t, "7781", prints[0].ID)
	require.Equal(t, int64(250000), prints[0].Size)
	require.Equal(t, "L", prints[0].Extra["market_center"])
}

func TestUnknownTickerIsNotFound(t *testing.T) {
	t.Parallel()

	client := newClient(t, map[string]string{})

	_, err := client.DarkPool(t.Context(), "ZZZZ", 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
