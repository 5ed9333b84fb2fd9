package activity

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fallback"
)

// OpQuote names the quote fallback chain.
const OpQuote = "activity.quote"

// QuoteProvider returns the latest quote for a ticker.
type QuoteProvider interface {
	Quote(ctx context.Context, ticker string) (*domain.Quote, error)
}

// NamedQuoteProvider pairs a quote provider with its id.
type NamedQuoteProvider struct {
	Name     string
	Provider QuoteProvider
}

// QuoteChain resolves quotes through providers in the given order.
func QuoteChain(providers []NamedQuoteProvider, opts ...fallback.Option) QuoteSource {
	steps := make([]fallback.Step[string, *domain.Quote], len(providers))
	for i, p := range providers {
		steps[i] = fallback.Step[string, *domain.Quote]{
			Provider: p.Name,
			Fn:       p.Provider.Quote,
		}
	}
	chain := fallback.New(OpQuote, steps, opts...)

	return func(ctx context.Context, ticker string) (*domain.Quote, error) {
		q, provider, err := chain.Call(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if q.Source == "" {
			q.Source = provider
		}
		return q, nil
	}
}
