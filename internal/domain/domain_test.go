package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Run("Canonical", func(t *testing.T) {
		k, err := ParseKind("options_flow")
		require.NoError(t, err)
		assert.Equal(t, KindOptionsFlow, k)
	})

	t.Run("DashesAndCase", func(t *testing.T) {
		k, err := ParseKind(" Dark-Pool ")
		require.NoError(t, err)
		assert.Equal(t, KindDarkPool, k)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := ParseKind("crypto")
		require.ErrorIs(t, err, ErrUnknownKind)
	})
}

func TestPolicies(t *testing.T) {
	p := DefaultPolicies()

	quote, ok := p.For(KindQuote)
	require.True(t, ok)
	assert.Equal(t, time.Hour, quote.TTL)
	assert.Equal(t, ModeReplace, quote.Mode)

	insider, _ := p.For(KindInsiderTrades)
	assert.Equal(t, ModeAppend, insider.Mode)

	t.Run("Overrides", func(t *testing.T) {
		out, err := p.WithTTLOverrides(map[string]time.Duration{"quote": 30 * time.Minute})
		require.NoError(t, err)

		q, _ := out.For(KindQuote)
		assert.Equal(t, 30*time.Minute, q.TTL)

		// original untouched
		q, _ = p.For(KindQuote)
		assert.Equal(t, time.Hour, q.TTL)
	})

	t.Run("RejectsUnknownKind", func(t *testing.T) {
		_, err := p.WithTTLOverrides(map[string]time.Duration{"bonds": time.Hour})
		require.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("RejectsNonPositive", func(t *testing.T) {
		_, err := p.WithTTLOverrides(map[string]time.Duration{"quote": 0})
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestDirectionFor(t *testing.T) {
	addr := "0xAbC"
	assert.Equal(t, DirectionOut, DirectionFor(addr, "0xabc", "0xdef"))
	assert.Equal(t, DirectionIn, DirectionFor(addr, "0xdef", "0xABC"))
	assert.Equal(t, DirectionSelf, DirectionFor(addr, "0xabc", "0xabc"))
}

func TestNewRecord(t *testing.T) {
	for _, k := range AllKinds() {
		r, err := NewRecord(k)
		require.NoError(t, err, k)
		require.NotNil(t, r, k)
	}

	_, err := NewRecord("nope")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestSecondaryKeys(t *testing.T) {
	date := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	pos := &OwnershipPosition{Institution: "Vanguard Group", ReportDate: date}
	assert.Equal(t, "Vanguard Group|2025-03-31", pos.SecondaryKey())

	trade := &InsiderTrade{ID: "abc"}
	assert.Equal(t, "abc", trade.NaturalKey())

	noID := &InsiderTrade{Insider: "Jensen Huang", TradedAt: date, Side: SideSell, Shares: 100}
	assert.Contains(t, noID.NaturalKey(), "Jensen Huang|2025-03-31|sell|100")
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("TransientClassification", func(t *testing.T) {
		err := fmt.Errorf("fetch: %w", &TransientProviderError{Provider: "finnhub", Reason: ReasonThrottled, StatusCode: 429})
		assert.True(t, IsTransient(err))
		assert.True(t, IsThrottled(err))
		assert.False(t, IsUnavailable(err))
	})

	t.Run("ExhaustedUnwrapsCauses", func(t *testing.T) {
		err := &AllProvidersExhaustedError{
			Operation: "quote",
			Failures: []ProviderFailure{
				{Provider: "a", Err: ErrNotFound},
				{Provider: "b", Err: context.DeadlineExceeded},
			},
		}
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "a: not found")
		assert.Contains(t, err.Error(), "b: context deadline exceeded")
	})

	t.Run("PartialAggregation", func(t *testing.T) {
		cause := errors.New("boom")
		err := &PartialAggregationError{Ticker: "NVDA", Failed: map[Kind]error{KindDarkPool: cause, KindOptionsFlow: cause}}
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "partial aggregation for NVDA: 2 kinds failed (dark_pool, options_flow)", err.Error())
	})

	t.Run("CacheUnavailable", func(t *testing.T) {
		err := fmt.Errorf("get: %w", &CacheUnavailableError{Op: "get", Kind: KindQuote, Err: errors.New("disk I/O")})
		assert.True(t, IsCacheUnavailable(err))
	})
}
