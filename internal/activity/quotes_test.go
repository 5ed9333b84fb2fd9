package activity

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type quoteFunc func(ctx context.Context, ticker string) (*domain.Quote, error)

func (f quoteFunc) Quote(ctx context.Context, ticker string) (*domain.Quote, error) {
	return f(ctx, ticker)
}

func TestQuoteChain(t *testing.T) {
	t.Parallel()

	down := quoteFunc(func(context.Context, string) (*domain.Quote, error) {
		return nil, &domain.TransientProviderError{Provider: "finnhub", StatusCode: 503}
	})
	up := quoteFunc(func(_ context.Context, ticker string) (*domain.Quote, error) {
		return &domain.Quote{Ticker: ticker, Price: decimal.RequireFromString("131.50")}, nil
	})

	t.Run("FallsThroughToNextProvider", func(t *testing.T) {
		t.Parallel()
		quotes := QuoteChain([]NamedQuoteProvider{
			{Name: "finnhub", Provider: down},
			{Name: "alphavantage", Provider: up},
		})

		q, err := quotes(t.Context(), "NVDA")

		require.NoError(t, err)
		assert.Equal(t, "alphavantage", q.Source)
		assert.True(t, q.Price.Equal(decimal.RequireFromString("131.50")))
	})

	t.Run("Exhausted", func(t *testing.T) {
		t.Parallel()
		quotes := QuoteChain([]NamedQuoteProvider{
			{Name: "finnhub", Provider: down},
			{Name: "alphavantage", Provider: down},
		})

		_, err := quotes(t.Context(), "NVDA")

		var exhausted *domain.AllProvidersExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Len(t, exhausted.Failures, 2)
		assert.Equal(t, OpQuote, exhausted.Operation)
	})
}
