package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

type balance struct {
	Ether string
}

func step(name string, v balance, err error, calls *[]string) Step[string, balance] {
	return Step[string, balance]{
		Provider: name,
		Fn: func(ctx context.Context, addr string) (balance, error) {
			*calls = append(*calls, name)
			return v, err
		},
	}
}

func TestChainCall(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstSuccessWins", func(t *testing.T) {
		var calls []string
		c := New("wallet.balance", []Step[string, balance]{
			step("etherscan", balance{"1.5"}, nil, &calls),
			step("blockcypher", balance{"9"}, nil, &calls),
		}, quiet)

		v, provider, err := c.Call(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, "1.5", v.Ether)
		assert.Equal(t, "etherscan", provider)
		assert.Equal(t, []string{"etherscan"}, calls)
	})

	t.Run("FallsBackInOrder", func(t *testing.T) {
		var calls []string
		c := New("wallet.balance", []Step[string, balance]{
			step("etherscan", balance{}, errors.New("boom"), &calls),
			step("blockcypher", balance{"2"}, nil, &calls),
		}, quiet)

		v, provider, err := c.Call(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, "2", v.Ether)
		assert.Equal(t, "blockcypher", provider)
		assert.Equal(t, []string{"etherscan", "blockcypher"}, calls)
	})

	t.Run("ExhaustionListsEveryCause", func(t *testing.T) {
		var calls []string
		errA := &domain.PermanentProviderError{Provider: "etherscan", StatusCode: 400}
		errB := &domain.TransientProviderError{Provider: "ethplorer", Reason: domain.ReasonUnavailable}
		c := New("wallet.transactions", []Step[string, balance]{
			step("etherscan", balance{}, errA, &calls),
			step("ethplorer", balance{}, errB, &calls),
		}, quiet)

		_, _, err := c.Call(ctx, "0xabc")
		var exhausted *domain.AllProvidersExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, "wallet.transactions", exhausted.Operation)
		require.Len(t, exhausted.Failures, 2)
		assert.Equal(t, "etherscan", exhausted.Failures[0].Provider)
		assert.Same(t, errA, exhausted.Failures[0].Err)
		assert.Equal(t, "ethplorer", exhausted.Failures[1].Provider)
		assert.Same(t, errB, exhausted.Failures[1].Err)
	})

	t.Run("CancelledContextStopsChain", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var calls []string
		c := New("quote", []Step[string, balance]{
			{Provider: "finnhub", Fn: func(ctx context.Context, _ string) (balance, error) {
				calls = append(calls, "finnhub")
				cancel()
				return balance{}, ctx.Err()
			}},
			step("alphavantage", balance{"1"}, nil, &calls),
		}, quiet)

		_, _, err := c.Call(ctx, "NVDA")
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"finnhub"}, calls)

		var exhausted *domain.AllProvidersExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Len(t, exhausted.Failures, 1)
	})

	t.Run("EmptyChain", func(t *testing.T) {
		c := New[string, balance]("noop", nil, quiet)
		_, _, err := c.Call(ctx, "x")
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Providers", func(t *testing.T) {
		var calls []string
		c := New("quote", []Step[string, balance]{
			step("finnhub", balance{}, nil, &calls),
			step("alphavantage", balance{}, nil, &calls),
		}, quiet)
		assert.Equal(t, []string{"finnhub", "alphavantage"}, c.Providers())
		assert.Equal(t, "quote", c.Operation())
	})
}
